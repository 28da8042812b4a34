package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver.
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"stocklens/internal/domain"
)

// Compile-time interface checks.
var _ PriceStore = (*SQLStore)(nil)
var _ PredictionStore = (*SQLStore)(nil)
var _ ReportStore = (*SQLStore)(nil)

// dialect captures the few column types that differ between backends. Both
// drivers accept $n placeholders and ON CONFLICT clauses, so the statements
// themselves are shared.
type dialect struct {
	driver  string
	decimal string
	blob    string
}

var dialects = map[string]dialect{
	// SQLite would coerce NUMERIC to REAL, so decimals are kept as text.
	"sqlite":   {driver: "sqlite", decimal: "TEXT", blob: "BLOB"},
	"postgres": {driver: "postgres", decimal: "NUMERIC(18,4)", blob: "BYTEA"},
}

// SQLStore implements PriceStore, PredictionStore and ReportStore on top of
// SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	log     *slog.Logger
}

// OpenSQL opens the database for the named driver ("sqlite" or "postgres"),
// applies connection settings and creates the schema if needed.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// One writer at a time; also keeps ":memory:" on a single database.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQLStore{db: db, dialect: d, log: slog.Default().With("store", driver)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS price_bars (
			symbol     TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			open       %[1]s NOT NULL,
			high       %[1]s NOT NULL,
			low        %[1]s NOT NULL,
			close      %[1]s NOT NULL,
			volume     BIGINT NOT NULL,
			UNIQUE (symbol, trade_date)
		)`, s.dialect.decimal),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS predictions (
			symbol          TEXT NOT NULL,
			prediction_date TEXT NOT NULL,
			predicted_price %s NOT NULL,
			UNIQUE (symbol, prediction_date)
		)`, s.dialect.decimal),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS reports (
			symbol             TEXT NOT NULL,
			initial_investment TEXT NOT NULL,
			report_data        TEXT NOT NULL,
			pdf                %s,
			updated_at         TEXT NOT NULL,
			UNIQUE (symbol, initial_investment)
		)`, s.dialect.blob),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

const insertBarSQL = `INSERT INTO price_bars (symbol, trade_date, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (symbol, trade_date) DO NOTHING`

// Upsert inserts bar unless (symbol, timestamp) is already stored.
func (s *SQLStore) Upsert(ctx context.Context, bar domain.PriceBar) error {
	_, err := s.db.ExecContext(ctx, insertBarSQL, barArgs(bar)...)
	if err != nil {
		return fmt.Errorf("insert bar %s %s: %w", bar.Symbol, bar.Timestamp.Format(domain.DateLayout), err)
	}
	return nil
}

// UpsertBars inserts bars in one transaction and returns the number of new
// rows. Conflicting rows are dropped by the unique constraint.
func (s *SQLStore) UpsertBars(ctx context.Context, bars []domain.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertBarSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx, barArgs(b)...)
		if err != nil {
			return 0, fmt.Errorf("insert bar %s %s: %w", b.Symbol, b.Timestamp.Format(domain.DateLayout), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func barArgs(b domain.PriceBar) []any {
	return []any{
		b.Symbol,
		b.Timestamp.UTC().Format(domain.DateLayout),
		b.Open.StringFixed(domain.PriceScale),
		b.High.StringFixed(domain.PriceScale),
		b.Low.StringFixed(domain.PriceScale),
		b.Close.StringFixed(domain.PriceScale),
		b.Volume,
	}
}

// Query returns bars for symbol ordered by ascending date.
func (s *SQLStore) Query(ctx context.Context, symbol string, from, to *time.Time) ([]domain.PriceBar, error) {
	var (
		where = []string{"symbol = $1"}
		args  = []any{symbol}
	)
	if from != nil {
		args = append(args, from.UTC().Format(domain.DateLayout))
		where = append(where, fmt.Sprintf("trade_date >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, to.UTC().Format(domain.DateLayout))
		where = append(where, fmt.Sprintf("trade_date <= $%d", len(args)))
	}

	q := `SELECT symbol, trade_date, open, high, low, close, volume FROM price_bars WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY trade_date ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", symbol, err)
	}
	defer rows.Close()

	bars := []domain.PriceBar{}
	for rows.Next() {
		var (
			b    domain.PriceBar
			date string
		)
		if err := rows.Scan(&b.Symbol, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		if b.Timestamp, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, fmt.Errorf("parse bar date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Exists reports whether symbol has any stored bar.
func (s *SQLStore) Exists(ctx context.Context, symbol string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM price_bars WHERE symbol = $1 LIMIT 1`, symbol).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", symbol, err)
	}
	return true, nil
}

// Latest returns the newest stored bar date for symbol.
func (s *SQLStore) Latest(ctx context.Context, symbol string) (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(trade_date) FROM price_bars WHERE symbol = $1`, symbol).Scan(&date)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest %s: %w", symbol, err)
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(domain.DateLayout, date.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse latest date %q: %w", date.String, err)
	}
	return ts, true, nil
}

// ListSymbols returns all distinct symbols that have bars.
func (s *SQLStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM price_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// ---------------------------------------------------------------------------
// PredictionStore implementation
// ---------------------------------------------------------------------------

// UpsertPredictions inserts or replaces predictions in one transaction.
func (s *SQLStore) UpsertPredictions(ctx context.Context, preds []domain.Prediction) error {
	if len(preds) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO predictions (symbol, prediction_date, predicted_price)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, prediction_date) DO UPDATE SET predicted_price = excluded.predicted_price`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range preds {
		_, err := stmt.ExecContext(ctx, p.Symbol,
			p.PredictionDate.UTC().Format(domain.DateLayout),
			p.PredictedPrice.StringFixed(domain.PriceScale))
		if err != nil {
			return fmt.Errorf("upsert prediction %s %s: %w", p.Symbol, p.PredictionDate.Format(domain.DateLayout), err)
		}
	}
	return tx.Commit()
}

// Predictions returns stored predictions for symbol ordered by date.
func (s *SQLStore) Predictions(ctx context.Context, symbol string) ([]domain.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, prediction_date, predicted_price
		FROM predictions WHERE symbol = $1 ORDER BY prediction_date ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query predictions %s: %w", symbol, err)
	}
	defer rows.Close()

	preds := []domain.Prediction{}
	for rows.Next() {
		var (
			p    domain.Prediction
			date string
		)
		if err := rows.Scan(&p.Symbol, &date, &p.PredictedPrice); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if p.PredictionDate, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, fmt.Errorf("parse prediction date %q: %w", date, err)
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// ---------------------------------------------------------------------------
// ReportStore implementation
// ---------------------------------------------------------------------------

// SaveReport inserts or replaces the report for (symbol, initial investment).
func (s *SQLStore) SaveReport(ctx context.Context, r *domain.Report) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.Symbol, err)
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO reports (symbol, initial_investment, report_data, pdf, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, initial_investment) DO UPDATE SET
			report_data = excluded.report_data,
			pdf = excluded.pdf,
			updated_at = excluded.updated_at`,
		r.Symbol, investmentKey(r.InitialInvestment), string(data), r.PDF, updated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.Symbol, err)
	}
	return nil
}

// GetReport returns the stored report for (symbol, initial investment).
func (s *SQLStore) GetReport(ctx context.Context, symbol string, initialInvestment decimal.Decimal) (*domain.Report, error) {
	var (
		data    string
		pdf     []byte
		updated string
	)
	err := s.db.QueryRowContext(ctx, `SELECT report_data, pdf, updated_at FROM reports
		WHERE symbol = $1 AND initial_investment = $2`,
		symbol, investmentKey(initialInvestment)).Scan(&data, &pdf, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", symbol, err)
	}

	r := &domain.Report{Symbol: symbol, InitialInvestment: initialInvestment, PDF: pdf}
	if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", symbol, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		s.log.Warn("bad report timestamp", "symbol", symbol, "value", updated, "error", err)
	}
	return r, nil
}

// investmentKey normalises an amount so 10000 and 10000.00 share a row.
func investmentKey(d decimal.Decimal) string {
	return d.StringFixed(domain.PriceScale)
}
