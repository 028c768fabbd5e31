package series

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02",
}

var (
	requiredColumns = []string{"time", "open", "high", "low", "close"}
	volumeColumns   = []string{"volume", "tick_volume"}
)

// ParseTimestamp parses a textual timestamp. An explicit layout wins;
// otherwise the common export layouts and integer unix seconds/milliseconds
// are tried. Timestamps without a zone are taken as UTC.
func ParseTimestamp(raw, layout string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformedInput)
	}

	if layout != "" {
		ts, err := time.ParseInLocation(layout, value, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q does not match layout %q", ErrMalformedInput, value, layout)
		}
		return ts.UTC(), nil
	}

	if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
		return unixTime(unix), nil
	}

	for _, candidate := range timeLayouts {
		if ts, err := time.ParseInLocation(candidate, value, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrMalformedInput, value)
}

func unixTime(v int64) time.Time {
	// 1e11 秒约为 5138 年，超过即视为毫秒
	if v > 100_000_000_000 || v < -100_000_000_000 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// ParsePrice converts a textual number into float64 via decimal, rejecting
// NaN, infinities and empty cells.
func ParsePrice(raw string) (float64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("%w: empty number", ErrMalformedInput)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", ErrMalformedInput, value)
	}
	return d.InexactFloat64(), nil
}

type columnIndex struct {
	time, open, high, low, close int
	volume                       int
}

func indexColumns(header []string) (columnIndex, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, seen := positions[key]; !seen {
			positions[key] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := positions[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return columnIndex{}, fmt.Errorf("%w: missing required columns %s", ErrMalformedInput, strings.Join(missing, ","))
	}

	idx := columnIndex{
		time:   positions["time"],
		open:   positions["open"],
		high:   positions["high"],
		low:    positions["low"],
		close:  positions["close"],
		volume: -1,
	}
	for _, col := range volumeColumns {
		if pos, ok := positions[col]; ok {
			idx.volume = pos
			break
		}
	}
	return idx, nil
}

func (c columnIndex) parseRecord(record []string, layout string) (Bar, error) {
	ts, err := ParseTimestamp(field(record, c.time), layout)
	if err != nil {
		return Bar{}, fmt.Errorf("column time: %w", err)
	}

	var bar Bar
	bar.Time = ts
	prices := []struct {
		name string
		pos  int
		dst  *float64
	}{
		{"open", c.open, &bar.Open},
		{"high", c.high, &bar.High},
		{"low", c.low, &bar.Low},
		{"close", c.close, &bar.Close},
	}
	for _, p := range prices {
		v, err := ParsePrice(field(record, p.pos))
		if err != nil {
			return Bar{}, fmt.Errorf("column %s: %w", p.name, err)
		}
		*p.dst = v
	}

	if c.volume >= 0 {
		if raw := strings.TrimSpace(field(record, c.volume)); raw != "" {
			v, err := ParsePrice(raw)
			if err != nil {
				return Bar{}, fmt.Errorf("column volume: %w", err)
			}
			bar.Volume = v
		}
	}
	return bar, nil
}

func field(record []string, pos int) string {
	if pos < 0 || pos >= len(record) {
		return ""
	}
	return record[pos]
}
