package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
)

// Compile-time interface check.
var _ PriceStore = (*ParquetStore)(nil)

// ParquetStore implements PriceStore using one Parquet file per symbol and
// year. Writes for a symbol are serialised by a per-symbol lock so the
// read-merge-write cycle cannot lose or duplicate bars.
type ParquetStore struct {
	DataDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, locks: make(map[string]*sync.Mutex)}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data. Prices are fixed-point
// integers scaled by 10^PriceScale.
type BarRecord struct {
	Symbol    string `parquet:"symbol"`
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, UTC midnight
	Open      int64  `parquet:"open"`
	High      int64  `parquet:"high"`
	Low       int64  `parquet:"low"`
	Close     int64  `parquet:"close"`
	Volume    int64  `parquet:"volume"`
}

func toRecord(b domain.PriceBar) BarRecord {
	return BarRecord{
		Symbol:    b.Symbol,
		Timestamp: domain.NormalizeDate(b.Timestamp).UnixMilli(),
		Open:      scaled(b.Open),
		High:      scaled(b.High),
		Low:       scaled(b.Low),
		Close:     scaled(b.Close),
		Volume:    b.Volume,
	}
}

func (r BarRecord) toBar() domain.PriceBar {
	return domain.PriceBar{
		Symbol:    r.Symbol,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Open:      unscaled(r.Open),
		High:      unscaled(r.High),
		Low:       unscaled(r.Low),
		Close:     unscaled(r.Close),
		Volume:    r.Volume,
	}
}

func scaled(d decimal.Decimal) int64 {
	return d.Shift(domain.PriceScale).Round(0).IntPart()
}

func unscaled(v int64) decimal.Decimal {
	return decimal.New(v, -domain.PriceScale)
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// Upsert inserts bar unless (symbol, timestamp) is already stored.
func (s *ParquetStore) Upsert(ctx context.Context, bar domain.PriceBar) error {
	_, err := s.UpsertBars(ctx, []domain.PriceBar{bar})
	return err
}

// UpsertBars merges bars into the per-year files at
//
//	<DataDir>/daily/<SYMBOL>/<YYYY>.parquet
//
// keeping any bar already on disk. It returns the number of new bars.
func (s *ParquetStore) UpsertBars(_ context.Context, bars []domain.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	inserted := 0
	for k, records := range groups {
		n, err := s.mergeYear(k.symbol, k.year, records)
		if err != nil {
			return inserted, fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
		inserted += n
	}
	return inserted, nil
}

func (s *ParquetStore) mergeYear(symbol string, year int, records []BarRecord) (int, error) {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	path := s.barPath(symbol, year)
	existing, err := readParquetFile[BarRecord](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}

	merged, added := mergeBarRecords(existing, records)
	if added == 0 {
		return 0, nil
	}
	if err := writeParquetFile(path, merged); err != nil {
		return 0, err
	}
	return added, nil
}

// Query reads every year file for symbol and filters to [from, to].
func (s *ParquetStore) Query(_ context.Context, symbol string, from, to *time.Time) ([]domain.PriceBar, error) {
	years, err := s.years(symbol)
	if err != nil {
		return nil, err
	}

	bars := []domain.PriceBar{}
	for _, year := range years {
		if from != nil && year < from.UTC().Year() {
			continue
		}
		if to != nil && year > to.UTC().Year() {
			continue
		}

		records, err := readParquetFile[BarRecord](s.barPath(symbol, year))
		if err != nil {
			return nil, fmt.Errorf("reading %s/%d: %w", symbol, year, err)
		}
		for _, r := range records {
			b := r.toBar()
			if from != nil && b.Timestamp.Before(domain.NormalizeDate(*from)) {
				continue
			}
			if to != nil && b.Timestamp.After(domain.NormalizeDate(*to)) {
				continue
			}
			bars = append(bars, b)
		}
	}
	// Year files are already sorted; sort anyway in case a file was written
	// by another tool.
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// Exists reports whether symbol has at least one year file.
func (s *ParquetStore) Exists(_ context.Context, symbol string) (bool, error) {
	years, err := s.years(symbol)
	if err != nil {
		return false, err
	}
	return len(years) > 0, nil
}

// Latest returns the newest bar date from the most recent year file.
func (s *ParquetStore) Latest(_ context.Context, symbol string) (time.Time, bool, error) {
	years, err := s.years(symbol)
	if err != nil || len(years) == 0 {
		return time.Time{}, false, err
	}

	records, err := readParquetFile[BarRecord](s.barPath(symbol, years[len(years)-1]))
	if err != nil {
		return time.Time{}, false, err
	}
	var latest int64
	for _, r := range records {
		if r.Timestamp > latest {
			latest = r.Timestamp
		}
	}
	if len(records) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(latest).UTC(), true, nil
}

// ListSymbols lists all symbols that have bar data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// years returns the sorted years with a bar file for symbol.
func (s *ParquetStore) years(symbol string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "daily", strings.ToUpper(symbol)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var years []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok || e.IsDir() {
			continue
		}
		if y, err := strconv.Atoi(name); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

func (s *ParquetStore) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	return l
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, "daily", strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

// ---------------------------------------------------------------------------
// Archive export
// ---------------------------------------------------------------------------

// WriteArchive writes bars to a single Parquet file at path, sorted by
// symbol and date.
func WriteArchive(path string, bars []domain.PriceBar) error {
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = toRecord(b)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Symbol != records[j].Symbol {
			return records[i].Symbol < records[j].Symbol
		}
		return records[i].Timestamp < records[j].Timestamp
	})
	return writeParquetFile(path, records)
}

// ReadArchive reads a file produced by WriteArchive.
func ReadArchive(path string) ([]domain.PriceBar, error) {
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, err
	}
	bars := make([]domain.PriceBar, len(records))
	for i, r := range records {
		bars[i] = r.toBar()
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write to a temp file and rename so readers never see a partial file.
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp). Existing
// records win; only unseen incoming records are added. The result is sorted
// by timestamp and added counts the new records.
func mergeBarRecords(existing, incoming []BarRecord) (merged []BarRecord, added int) {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]struct{}, len(existing)+len(incoming))
	merged = make([]BarRecord, 0, len(existing)+len(incoming))
	for _, r := range existing {
		k := key{r.Symbol, r.Timestamp}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range incoming {
		k := key{r.Symbol, r.Timestamp}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, r)
		added++
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged, added
}
