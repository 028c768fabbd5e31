package series

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chart-pattern-scanner/internal/config"
)

const selectBarsSQL = `SELECT "time",
        CAST(open AS TEXT),
        CAST(high AS TEXT),
        CAST(low AS TEXT),
        CAST(close AS TEXT),
        CAST(COALESCE(volume, 0) AS TEXT)
    FROM `

// ErrNotConfigured indicates the database source has no connection settings.
var ErrNotConfigured = errors.New("series: database source not configured")

// NewPool configures a PostgreSQL connection pool for reading bars.
func NewPool(ctx context.Context, cfg config.DataConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("data.dsn is required for the postgres source")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}

// PostgresSource reads bars from a table with columns
// time, open, high, low, close, volume and an optional symbol column.
type PostgresSource struct {
	pool   *pgxpool.Pool
	table  string
	symbol string
}

// NewPostgresSource wires a pgx pool into a bar source.
func NewPostgresSource(pool *pgxpool.Pool, table, symbol string) *PostgresSource {
	return &PostgresSource{pool: pool, table: table, symbol: symbol}
}

// Close releases the underlying pool resources.
func (s *PostgresSource) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load selects the latest numRecords rows and returns them oldest first.
func (s *PostgresSource) Load(ctx context.Context, numRecords int) (Series, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}

	query, args := buildBarsQuery(s.table, s.symbol, numRecords, "$")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	bars := make([]Bar, 0, max(numRecords, 0))
	for rows.Next() {
		var (
			ts                      time.Time
			open, high, low, closeP string
			volume                  string
		)
		if err := rows.Scan(&ts, &open, &high, &low, &closeP, &volume); err != nil {
			return nil, fmt.Errorf("%w: scan bar: %v", ErrMalformedInput, err)
		}
		bar, err := barFromText(ts, open, high, low, closeP, volume)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate bars: %w", rows.Err())
	}

	return finalize(reverse(bars), numRecords), nil
}

// buildBarsQuery renders the newest-first bar query. placeholder is "$" for
// postgres (numbered) or "?" for sqlite.
func buildBarsQuery(table, symbol string, limit int, placeholder string) (string, []any) {
	name := pgx.Identifier(strings.Split(table, ".")).Sanitize()

	var b strings.Builder
	b.WriteString(selectBarsSQL)
	b.WriteString(name)

	args := make([]any, 0, 2)
	if symbol != "" {
		args = append(args, symbol)
		b.WriteString(" WHERE symbol = ")
		b.WriteString(bind(placeholder, len(args)))
	}
	b.WriteString(` ORDER BY "time" DESC`)
	if limit > 0 {
		args = append(args, limit)
		b.WriteString(" LIMIT ")
		b.WriteString(bind(placeholder, len(args)))
	}
	return b.String(), args
}

func bind(placeholder string, n int) string {
	if placeholder == "$" {
		return fmt.Sprintf("$%d", n)
	}
	return placeholder
}

func barFromText(ts time.Time, open, high, low, closeP, volume string) (Bar, error) {
	bar := Bar{Time: ts.UTC()}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", open, &bar.Open},
		{"high", high, &bar.High},
		{"low", low, &bar.Low},
		{"close", closeP, &bar.Close},
		{"volume", volume, &bar.Volume},
	}
	for _, f := range fields {
		v, err := ParsePrice(f.raw)
		if err != nil {
			return Bar{}, fmt.Errorf("bar %s column %s: %w", ts.Format(time.RFC3339), f.name, err)
		}
		*f.dst = v
	}
	return bar, nil
}

func reverse(bars []Bar) []Bar {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars
}

var _ Source = (*PostgresSource)(nil)
