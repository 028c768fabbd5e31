// Package series loads OHLC price history into an ordered, time-indexed
// sequence of bars.
package series

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrMalformedInput indicates the source is missing required columns or
// carries values that cannot be parsed.
var ErrMalformedInput = errors.New("malformed input")

// Bar is one sampled OHLC observation.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Series is an ascending-by-time sequence of bars.
type Series []Bar

// Source reads raw tabular price records.
type Source interface {
	// Load returns the most recent numRecords bars; numRecords <= 0 keeps all rows.
	Load(ctx context.Context, numRecords int) (Series, error)
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s) }

// First returns the timestamp of the earliest bar.
func (s Series) First() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Time
}

// Last returns the timestamp of the latest bar.
func (s Series) Last() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Time
}

// Tail keeps the last n bars. n <= 0 keeps everything.
func Tail(bars []Bar, n int) []Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

func finalize(bars []Bar, numRecords int) Series {
	bars = Tail(bars, numRecords)
	out := make(Series, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
