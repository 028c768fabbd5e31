package render

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"chart-pattern-scanner/internal/segment"
	"chart-pattern-scanner/internal/series"
)

var (
	upColor   = drawing.ColorFromHex("006340")
	downColor = drawing.ColorFromHex("a02128")
)

// CandlestickOptions size the rendered chart.
type CandlestickOptions struct {
	Width  int
	Height int
}

// CandlestickRenderer draws OHLC candles with go-chart.
type CandlestickRenderer struct {
	opts CandlestickOptions
}

// NewCandlestickRenderer constructs a renderer, defaulting to 1280x720.
func NewCandlestickRenderer(opts CandlestickOptions) *CandlestickRenderer {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	return &CandlestickRenderer{opts: opts}
}

// Render writes a PNG for w at path. Nothing is written on failure.
func (c *CandlestickRenderer) Render(w segment.Window, path string) error {
	if len(w.Bars) == 0 {
		return fmt.Errorf("%w: window has no bars", ErrRenderFailure)
	}

	graph := c.chartFor(w)

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return fmt.Errorf("%w: draw chart: %v", ErrRenderFailure, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: write chart: %v", ErrRenderFailure, err)
	}
	return nil
}

func (c *CandlestickRenderer) chartFor(w segment.Window) chart.Chart {
	low, high := priceBounds(w.Bars)
	pad := (high - low) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(high)*0.001, 1)
	}

	candles := candleSeries{name: "OHLC", bars: w.Bars}
	return chart.Chart{
		Title:  Title(w),
		Width:  c.opts.Width,
		Height: c.opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Range:          &chart.ContinuousRange{Min: -1, Max: float64(len(w.Bars))},
			ValueFormatter: barTimeFormatter(w.Bars),
		},
		YAxis: chart.YAxis{
			Name:  "Price",
			Range: &chart.ContinuousRange{Min: low - pad, Max: high + pad},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{candles},
	}
}

func barTimeFormatter(bars []series.Bar) chart.ValueFormatter {
	return func(v interface{}) string {
		f, ok := v.(float64)
		if !ok {
			return ""
		}
		idx := int(math.Round(f))
		if idx < 0 || idx >= len(bars) {
			return ""
		}
		return bars[idx].Time.Format("01-02 15:04")
	}
}

func priceBounds(bars []series.Bar) (float64, float64) {
	low, high := math.Inf(1), math.Inf(-1)
	for _, b := range bars {
		low = math.Min(low, math.Min(b.Low, math.Min(b.Open, b.Close)))
		high = math.Max(high, math.Max(b.High, math.Max(b.Open, b.Close)))
	}
	return low, high
}

// candleSeries plots bars by position so sessions with missing bars do not
// leave holes in the chart.
type candleSeries struct {
	name string
	bars []series.Bar
}

func (cs candleSeries) GetName() string           { return cs.name }
func (cs candleSeries) GetYAxis() chart.YAxisType { return chart.YAxisPrimary }
func (cs candleSeries) GetStyle() chart.Style     { return chart.Style{} }
func (cs candleSeries) Len() int                  { return len(cs.bars) }
func (cs candleSeries) GetBoundedValues(i int) (x, y1, y2 float64) {
	b := cs.bars[i]
	return float64(i), b.Low, b.High
}

func (cs candleSeries) Validate() error {
	if len(cs.bars) == 0 {
		return errors.New("candle series has no bars")
	}
	return nil
}

func (cs candleSeries) Render(r chart.Renderer, canvasBox chart.Box, xrange, yrange chart.Range, _ chart.Style) {
	unit := xrange.Translate(1) - xrange.Translate(0)
	half := int(math.Max(float64(unit)*0.3, 1))

	for i, b := range cs.bars {
		x := canvasBox.Left + xrange.Translate(float64(i))
		yHigh := canvasBox.Bottom - yrange.Translate(b.High)
		yLow := canvasBox.Bottom - yrange.Translate(b.Low)
		yOpen := canvasBox.Bottom - yrange.Translate(b.Open)
		yClose := canvasBox.Bottom - yrange.Translate(b.Close)

		color := upColor
		if b.Close < b.Open {
			color = downColor
		}

		r.SetStrokeColor(color)
		r.SetStrokeWidth(1)
		r.MoveTo(x, yHigh)
		r.LineTo(x, yLow)
		r.Stroke()

		top, bottom := min(yOpen, yClose), max(yOpen, yClose)
		if bottom == top {
			bottom = top + 1
		}
		r.SetFillColor(color)
		r.MoveTo(x-half, top)
		r.LineTo(x+half, top)
		r.LineTo(x+half, bottom)
		r.LineTo(x-half, bottom)
		r.Close()
		r.FillStroke()
	}
}

var (
	_ Renderer                    = (*CandlestickRenderer)(nil)
	_ chart.Series                = candleSeries{}
	_ chart.BoundedValuesProvider = candleSeries{}
)
