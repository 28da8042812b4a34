// Package scheduler re-ingests a watch list of symbols on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"stocklens/internal/cache"
	"stocklens/internal/gather"
	"stocklens/internal/observability"
)

// Ingester is the subset of gather.Ingestor the scheduler drives.
type Ingester interface {
	Ingest(ctx context.Context, symbol string) (gather.IngestResult, error)
}

// Summary reports one refresh pass.
type Summary struct {
	Inserted int
	Skipped  int
	Failed   []string
}

// Scheduler runs refresh passes on a six-field (seconds-first) cron spec.
type Scheduler struct {
	cron    *cron.Cron
	ingest  Ingester
	memo    *cache.Memo
	symbols []string
	log     *slog.Logger

	// mu serialises passes so a slow pass is never overlapped.
	mu sync.Mutex
}

// New creates a Scheduler. memo may be nil; when set, the prices entry of
// every symbol that gained bars is invalidated.
func New(ing Ingester, memo *cache.Memo, symbols []string) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		ingest:  ing,
		memo:    memo,
		symbols: symbols,
		log:     slog.Default().With("component", "scheduler"),
	}
}

// Register schedules a refresh pass on the cron expression spec. Passes run
// with ctx.
func (s *Scheduler) Register(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow(ctx) }); err != nil {
		return fmt.Errorf("register refresh %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "symbols", len(s.symbols))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunNow refreshes every watched symbol once. A failing symbol does not stop
// the pass.
func (s *Scheduler) RunNow(ctx context.Context) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	for _, sym := range s.symbols {
		if ctx.Err() != nil {
			sum.Failed = append(sum.Failed, sym)
			continue
		}
		res, err := s.ingest.Ingest(ctx, sym)
		if err != nil {
			s.log.Warn("refresh failed", "symbol", sym, "error", err)
			sum.Failed = append(sum.Failed, sym)
			continue
		}
		switch res.Status {
		case gather.StatusInserted:
			sum.Inserted++
			if s.memo != nil {
				s.memo.Invalidate(ctx, cache.NewKey(cache.NamespacePrices, res.Symbol))
			}
		case gather.StatusSkipped:
			sum.Skipped++
		}
	}

	outcome := "ok"
	switch {
	case len(sum.Failed) == len(s.symbols) && len(s.symbols) > 0:
		outcome = "error"
	case len(sum.Failed) > 0:
		outcome = "partial"
	}
	observability.RefreshRuns.WithLabelValues(outcome).Inc()
	s.log.Info("refresh pass done", "inserted", sum.Inserted, "skipped", sum.Skipped, "failed", len(sum.Failed))
	return sum
}
