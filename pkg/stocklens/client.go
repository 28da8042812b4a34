// Package stocklens is a Go client for the stocklens HTTP API.
package stocklens

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stocklens/internal/domain"
	"stocklens/internal/util"
)

// Client provides a Go SDK for interacting with the stocklens-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      util.RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetry sets the retry policy for network errors and 5xx responses.
func WithRetry(p util.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a new stocklens API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      util.RetryPolicy{MaxAttempts: 1},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx response. It unwraps to the matching domain error
// kind so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stocklens: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Unwrap maps the status code onto the domain error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return domain.ErrInvalidInput
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode >= 500:
		return domain.ErrUpstream
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.StatusCode >= 500 && e.StatusCode != http.StatusNotImplemented
}

// Prices retrieves stored daily bars for a symbol.
func (c *Client) Prices(ctx context.Context, symbol string) (*PricesResponse, error) {
	var out PricesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/stock-prices/"+url.PathEscape(symbol), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fetch asks the server to ingest a symbol from its market-data provider.
func (c *Client) Fetch(ctx context.Context, symbol string) (*FetchResponse, error) {
	var out FetchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/stock-prices/fetch/"+url.PathEscape(symbol), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Backtest runs a strategy simulation on the server.
func (c *Client) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	var out BacktestResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/backtest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Predict runs the server's predictor for a symbol and returns the result.
func (c *Client) Predict(ctx context.Context, symbol string) (*PredictionsResponse, error) {
	var out PredictionsResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/prediction/"+url.PathEscape(symbol), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Predictions lists the persisted predictions for a symbol.
func (c *Client) Predictions(ctx context.Context, symbol string) (*PredictionsResponse, error) {
	var out PredictionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/prediction/"+url.PathEscape(symbol), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Report requests the structured report.
func (c *Client) Report(ctx context.Context, req ReportRequest) (*domain.ReportData, error) {
	req.Format = string(domain.FormatJSON)
	var out domain.ReportData
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/report", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportPDF requests the rendered PDF report.
func (c *Client) ReportPDF(ctx context.Context, req ReportRequest) ([]byte, error) {
	req.Format = string(domain.FormatPDF)
	return c.do(ctx, http.MethodPost, "/api/v1/report", req)
}

// Health checks the server's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", domain.ErrUpstream, method, path, err)
	}
	return nil
}

// do sends one request, retrying network errors and 5xx responses per the
// client's policy, and returns the response body of a 2xx.
func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		payload = b
	}

	var body []byte
	err := util.Retry(ctx, c.retry, func() error {
		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return util.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(b)}
			if apiErr.retryable() {
				return apiErr
			}
			return util.Permanent(apiErr)
		}
		body = b
		return nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUpstream, method, path, err)
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var e ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
