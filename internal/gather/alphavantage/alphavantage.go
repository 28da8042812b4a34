// Package alphavantage implements gather.Source on the Alpha Vantage
// TIME_SERIES_DAILY endpoint.
package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"stocklens/internal/domain"
	"stocklens/internal/gather"
	"stocklens/internal/observability"
	"stocklens/internal/util"
)

// DefaultBaseURL is the public Alpha Vantage endpoint.
const DefaultBaseURL = "https://www.alphavantage.co"

var _ gather.Source = (*Client)(nil)

// Options configures a Client.
type Options struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RateLimitPerMin int
	Retry           util.RetryPolicy
	HTTPClient      *http.Client
}

// Client fetches daily series from Alpha Vantage.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   util.RetryPolicy
	log     *slog.Logger
}

// New creates a Client. A zero Timeout defaults to 30s.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		http:    hc,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		retry:   opts.Retry,
		log:     slog.Default().With("source", "alphavantage"),
	}
}

// Name returns the source identifier.
func (c *Client) Name() string { return "alphavantage" }

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("alphavantage: status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// dailyResponse mirrors the TIME_SERIES_DAILY payload. The provider reports
// errors and throttling with HTTP 200 and one of the message fields set.
// Series entries stay raw so a single malformed day cannot fail the decode.
type dailyResponse struct {
	Series       map[string]json.RawMessage `json:"Time Series (Daily)"`
	ErrorMessage string                     `json:"Error Message"`
	Note         string                     `json:"Note"`
	Information  string                     `json:"Information"`
}

type dailyEntry struct {
	Open   field `json:"1. open"`
	High   field `json:"2. high"`
	Low    field `json:"3. low"`
	Close  field `json:"4. close"`
	Volume field `json:"5. volume"`
}

// field accepts a JSON string or number. Any other value decodes to the
// empty string, which gather.ParseBar rejects.
type field string

func (f *field) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = field(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = field(n.String())
		return nil
	}
	*f = ""
	return nil
}

// rawBar converts one series entry. An entry that is not an object yields a
// bar with only its date set.
func (c *Client) rawBar(symbol, date string, msg json.RawMessage) gather.RawBar {
	var e dailyEntry
	if err := json.Unmarshal(msg, &e); err != nil {
		c.log.Warn("malformed daily entry", "symbol", symbol, "date", date, "error", err)
		return gather.RawBar{Date: date}
	}
	return gather.RawBar{
		Date:   date,
		Open:   string(e.Open),
		High:   string(e.High),
		Low:    string(e.Low),
		Close:  string(e.Close),
		Volume: string(e.Volume),
	}
}

// FetchDaily returns the full daily series for symbol, oldest first.
func (c *Client) FetchDaily(ctx context.Context, symbol string) ([]gather.RawBar, error) {
	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", symbol)
	q.Set("outputsize", "full")
	q.Set("apikey", c.apiKey)
	endpoint := c.baseURL + "/query?" + q.Encode()

	var body []byte
	err := util.Retry(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		b, err := c.get(ctx, endpoint)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.retryable() {
				return util.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		c.log.Error("request failed", "symbol", symbol, "endpoint", c.baseURL, "error", err)
		return nil, fmt.Errorf("%w: alphavantage %s: %v", domain.ErrUpstream, symbol, err)
	}

	var resp dailyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: alphavantage %s: decode: %v", domain.ErrUpstream, symbol, err)
	}
	switch {
	case resp.ErrorMessage != "":
		return nil, fmt.Errorf("%w: alphavantage %s: %s", domain.ErrUpstream, symbol, resp.ErrorMessage)
	case resp.Note != "":
		return nil, fmt.Errorf("%w: alphavantage %s: %s", domain.ErrUpstream, symbol, resp.Note)
	case resp.Series == nil && resp.Information != "":
		return nil, fmt.Errorf("%w: alphavantage %s: %s", domain.ErrUpstream, symbol, resp.Information)
	case resp.Series == nil:
		return nil, fmt.Errorf("%w: alphavantage %s: response has no daily series", domain.ErrUpstream, symbol)
	}

	bars := make([]gather.RawBar, 0, len(resp.Series))
	for date, msg := range resp.Series {
		bars = append(bars, c.rawBar(symbol, date, msg))
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return bars, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, util.Permanent(err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.ProviderRequestSeconds.WithLabelValues(c.Name(), "error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()
	observability.ProviderRequestSeconds.WithLabelValues(c.Name(), strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
