package series

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSource reads bars from a table inside a SQLite database file. The
// time column may hold text timestamps or integer unix seconds/milliseconds.
type SQLiteSource struct {
	Path       string
	Table      string
	Symbol     string
	TimeLayout string
}

// Load opens the database, selects the latest numRecords rows and
// returns them oldest first.
func (s SQLiteSource) Load(ctx context.Context, numRecords int) (Series, error) {
	if s.Path == "" {
		return nil, ErrNotConfigured
	}

	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	query, args := buildBarsQuery(s.Table, s.Symbol, numRecords, "?")
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	bars := make([]Bar, 0, max(numRecords, 0))
	for rows.Next() {
		var (
			rawTime                 any
			open, high, low, closeP string
			volume                  string
		)
		if err := rows.Scan(&rawTime, &open, &high, &low, &closeP, &volume); err != nil {
			return nil, fmt.Errorf("%w: scan bar: %v", ErrMalformedInput, err)
		}

		ts, err := s.timestamp(rawTime)
		if err != nil {
			return nil, err
		}
		bar, err := barFromText(ts, open, high, low, closeP, volume)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}

	return finalize(reverse(bars), numRecords), nil
}

func (s SQLiteSource) timestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case int64:
		return unixTime(v), nil
	case float64:
		return unixTime(int64(v)), nil
	case time.Time:
		return v.UTC(), nil
	case string:
		return ParseTimestamp(v, s.TimeLayout)
	case []byte:
		return ParseTimestamp(string(v), s.TimeLayout)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported time value %T", ErrMalformedInput, raw)
	}
}

var _ Source = SQLiteSource{}
