package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"chart-pattern-scanner/internal/render"
	"chart-pattern-scanner/internal/segment"
)

// Windows prints the windows each size would produce without writing files.
func (a *App) Windows(ctx context.Context, opts WindowsOptions) error {
	cfg, err := a.effective(opts.Input, opts.WindowSizes, opts.NumRecords)
	if err != nil {
		return err
	}

	bars, err := a.loadSeries(ctx, cfg.Data)
	if err != nil {
		return err
	}

	maxGap := segment.MaxGapOrDefault(cfg.Segmentation.MaxTimeGap)

	type row struct {
		size     int
		from, to int
		start    time.Time
		end      time.Time
		status   string
	}

	seg := segment.New(a.base)
	var rows []row
	for _, size := range cfg.Segmentation.WindowSizes {
		seq, err := seg.Segment(bars, segment.Options{
			Size:   size,
			MaxGap: maxGap,
			Stride: cfg.Segmentation.Stride,
			OnSkip: func(s segment.Skip) {
				if !opts.ShowSkipped {
					return
				}
				rows = append(rows, row{
					size:   s.Size,
					from:   s.StartIndex,
					to:     s.EndIndex,
					start:  bars[s.StartIndex].Time,
					end:    bars[s.EndIndex].Time,
					status: fmt.Sprintf("skipped: gap %s at %d", s.Gap, s.GapIndex),
				})
			},
		})
		if err != nil {
			return err
		}
		for w := range seq {
			rows = append(rows, row{
				size:   w.Size,
				from:   w.StartIndex,
				to:     w.EndIndex,
				start:  w.Start,
				end:    w.End,
				status: render.ArtifactName(bars.Len(), w, cfg.Render.NamespaceByWindowSize),
			})
		}
	}

	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no windows found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Size\tFrom\tTo\tStart (UTC)\tEnd (UTC)\tChart")
	for _, r := range rows {
		fmt.Fprintf(writer, "%d\t%d\t%d\t%s\t%s\t%s\n",
			r.size, r.from, r.to,
			r.start.Format(render.TimeLayout),
			r.end.Format(render.TimeLayout),
			r.status,
		)
	}
	return writer.Flush()
}
