package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string                 { return s.name }
func (s *stubStrategy) Init(_ context.Context) error { return nil }
func (s *stubStrategy) OnBar(_ context.Context, _ []domain.PricePoint, _ Position) (domain.SignalType, error) {
	return domain.SignalHold, nil
}

func stubFactory(name string) Factory {
	return func() Strategy { return &stubStrategy{name: name} }
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubFactory("test-strategy"))

	got, err := r.New("test-strategy")
	if err != nil {
		t.Fatalf("New returned error for registered strategy: %v", err)
	}
	if got.Name() != "test-strategy" {
		t.Errorf("New returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}

	other, _ := r.New("test-strategy")
	if other == got {
		t.Error("New should return a fresh instance per call")
	}
}

func TestRegistryNew_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("nonexistent")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("New error = %v, want ErrInvalidInput", err)
	}
	if r.Has("nonexistent") {
		t.Error("Has returned true for unregistered strategy")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubFactory("beta"))
	r.Register("alpha", stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func points(closes ...float64) []domain.PricePoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = domain.PricePoint{Timestamp: start.AddDate(0, 0, i), Close: decimal.NewFromFloat(c)}
	}
	return out
}

func TestSMA(t *testing.T) {
	h := points(1, 2, 3, 4)
	avg, ok := SMA(h, 2)
	if !ok || !avg.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("SMA(2) = %s, %v; want 3.5, true", avg, ok)
	}
	if _, ok := SMA(h, 5); ok {
		t.Error("SMA with a window longer than history should not be ok")
	}
}

func TestRollingAverage(t *testing.T) {
	got := RollingAverage(points(2, 4, 6, 8), 2)
	want := []string{"2", "3", "5", "7"}
	for i, w := range want {
		if !got[i].Equal(decimal.RequireFromString(w)) {
			t.Errorf("RollingAverage[%d] = %s, want %s", i, got[i], w)
		}
	}
}
