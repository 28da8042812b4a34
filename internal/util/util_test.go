package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var fastPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), fastPolicy, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	policy := fastPolicy
	policy.MaxAttempts = 3

	err := Retry(context.Background(), policy, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != policy.MaxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, policy.MaxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0

	err := Retry(context.Background(), fastPolicy, func() error {
		attempts++
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry error = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, RetryPolicy{MaxAttempts: 5, InitialInterval: time.Second}, func() error {
		return errors.New("transient error")
	})
	if err == nil {
		t.Fatal("Retry should fail when the context is cancelled")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if !rl.Allow() {
		t.Error("first token should be available immediately")
	}
	if rl.Allow() {
		t.Error("second token should not be available within the same second")
	}

	unlimited := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !unlimited.Allow() {
			t.Fatal("unlimited limiter refused a token")
		}
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"aapl", "AAPL", false},
		{"  msft ", "MSFT", false},
		{"BRKB", "BRKB", false},
		{"", "", true},
		{"ABCDEFGHIJK", "", true},
		{"AA1", "", true},
		{"BRK.B", "", true},
		{"../etc", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeSymbol(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeSymbol(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTradingCalendar(t *testing.T) {
	sat := time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC)
	fri := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

	if IsTradingDay(sat) {
		t.Errorf("IsTradingDay(%v) = true, want false", sat)
	}
	if got := LastTradingDay(sat); !got.Equal(fri) {
		t.Errorf("LastTradingDay(%v) = %v, want %v", sat, got, fri)
	}

	days := NextTradingDays(fri, 3)
	want := []time.Time{
		time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 18, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 19, 0, 0, 0, 0, time.UTC),
	}
	if len(days) != len(want) {
		t.Fatalf("NextTradingDays len = %d, want %d", len(days), len(want))
	}
	for i := range want {
		if !days[i].Equal(want[i]) {
			t.Errorf("NextTradingDays[%d] = %v, want %v", i, days[i], want[i])
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "symbol", "AAPL")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"symbol":"AAPL"`) {
		t.Errorf("warn record missing attrs: %s", out)
	}

	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should default to info")
	}
}
