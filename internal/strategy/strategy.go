// Package strategy defines the Strategy interface for trading rules, a
// Registry of named strategy factories, and the Engine that replays a price
// series against a strategy.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
)

// Position is the portfolio state a strategy sees on each bar.
type Position struct {
	Cash   decimal.Decimal
	Shares int64
}

// Flat reports whether no shares are held.
func (p Position) Flat() bool { return p.Shares == 0 }

// Strategy is the interface that all trading rules must implement. A
// Strategy instance is used for a single simulation and may keep state
// between bars.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup before the first bar.
	Init(ctx context.Context) error

	// OnBar is called once per bar in ascending time order. history holds
	// every bar up to and including the current one, which is last.
	OnBar(ctx context.Context, history []domain.PricePoint, pos Position) (domain.SignalType, error)
}

// Factory creates a fresh Strategy instance.
type Factory func() Strategy

// Registry holds named strategy factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// New returns a fresh instance of the named strategy.
func (r *Registry) New(name string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, name)
	}
	return f(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
