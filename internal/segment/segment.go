// Package segment cuts an ordered bar series into fixed-size, time-contiguous
// windows.
package segment

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"chart-pattern-scanner/internal/series"
)

// ErrInvalidConfiguration is returned for non-positive window sizes or strides.
var ErrInvalidConfiguration = errors.New("invalid segmentation configuration")

// DefaultMaxTimeGap is the largest allowed distance between neighbouring bars.
const DefaultMaxTimeGap = 10 * time.Minute

// MaxGapOrDefault maps an unset (zero) gap to DefaultMaxTimeGap.
func MaxGapOrDefault(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultMaxTimeGap
	}
	return d
}

// Window is a contiguous slice of the series. EndIndex is inclusive.
type Window struct {
	Size       int
	StartIndex int
	EndIndex   int
	Start      time.Time
	End        time.Time
	Bars       []series.Bar
}

// Skip describes a candidate slice dropped because of a time gap.
type Skip struct {
	Size       int
	StartIndex int
	EndIndex   int
	// GapIndex is the index of the bar that follows the oversized gap.
	GapIndex int
	Gap      time.Duration
}

// Options parameterise one segmentation pass.
type Options struct {
	Size   int
	MaxGap time.Duration
	// Stride overrides the cursor advance; 0 means Size (non-overlapping).
	Stride int
	OnSkip func(Skip)
}

// Segmenter produces windows and reports skipped ranges.
type Segmenter struct {
	logger zerolog.Logger
}

// New constructs a Segmenter.
func New(logger zerolog.Logger) *Segmenter {
	return &Segmenter{logger: logger.With().Str("component", "segmenter").Logger()}
}

// Segment returns a lazy sequence of valid windows. Ranging over the
// sequence again restarts segmentation from the first bar.
func (s *Segmenter) Segment(bars series.Series, opts Options) (iter.Seq[Window], error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("%w: window size must be greater than zero, got %d", ErrInvalidConfiguration, opts.Size)
	}
	if opts.Stride < 0 {
		return nil, fmt.Errorf("%w: stride cannot be negative, got %d", ErrInvalidConfiguration, opts.Stride)
	}
	if opts.MaxGap < 0 {
		return nil, fmt.Errorf("%w: max time gap cannot be negative", ErrInvalidConfiguration)
	}

	stride := opts.Stride
	if stride == 0 {
		stride = opts.Size
	}

	return func(yield func(Window) bool) {
		for i := 0; i < len(bars); i += stride {
			end := i + opts.Size
			if end > len(bars) {
				return
			}
			slice := bars[i:end]

			if at, gap, ok := firstGap(slice, opts.MaxGap); ok {
				skip := Skip{Size: opts.Size, StartIndex: i, EndIndex: end - 1, GapIndex: i + at, Gap: gap}
				s.logger.Warn().
					Int("window_size", opts.Size).
					Int("from", skip.StartIndex).
					Int("to", skip.EndIndex).
					Dur("gap", gap).
					Msgf("skipping chart from index %d to %d due to time gap greater than %s", skip.StartIndex, skip.EndIndex, opts.MaxGap)
				if opts.OnSkip != nil {
					opts.OnSkip(skip)
				}
				continue
			}

			w := Window{
				Size:       opts.Size,
				StartIndex: i,
				EndIndex:   end - 1,
				Start:      slice[0].Time,
				End:        slice[len(slice)-1].Time,
				Bars:       slice[:len(slice):len(slice)],
			}
			if !yield(w) {
				return
			}
		}
	}, nil
}

// Collect drains a window sequence into a slice.
func Collect(seq iter.Seq[Window]) []Window {
	var out []Window
	for w := range seq {
		out = append(out, w)
	}
	return out
}

// firstGap reports the first position whose delta to the previous bar
// strictly exceeds maxGap.
func firstGap(bars []series.Bar, maxGap time.Duration) (int, time.Duration, bool) {
	for j := 1; j < len(bars); j++ {
		if delta := bars[j].Time.Sub(bars[j-1].Time); delta > maxGap {
			return j, delta, true
		}
	}
	return 0, 0, false
}
