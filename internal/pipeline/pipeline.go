// Package pipeline wires segmentation, rendering, detection and artifact
// writing into one run over a loaded series.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chart-pattern-scanner/internal/artifact"
	"chart-pattern-scanner/internal/detect"
	"chart-pattern-scanner/internal/render"
	"chart-pattern-scanner/internal/segment"
	"chart-pattern-scanner/internal/series"
)

// ErrPartialFailure reports a run that finished but skipped some windows or
// images because of isolated failures.
var ErrPartialFailure = errors.New("run completed with failures")

// RunContext names the directories and identity of one run.
type RunContext struct {
	ID           string
	ImageDir     string
	DetectionDir string
	StartedAt    time.Time
}

// NewRunContext builds a run context with a fresh id.
func NewRunContext(imageDir, detectionDir string) RunContext {
	return RunContext{
		ID:           uuid.NewString(),
		ImageDir:     imageDir,
		DetectionDir: detectionDir,
		StartedAt:    time.Now().UTC(),
	}
}

// Presenter receives every saved detection. Implementations must not block
// the run on user interaction.
type Presenter interface {
	Present(ctx context.Context, savedPath string, res detect.Result) error
}

// Options parameterise the orchestrator.
type Options struct {
	WindowSizes []int
	MaxGap      time.Duration
	Stride      int
	// Namespace puts the window size into chart names.
	Namespace bool
}

// SizeReport counts what happened for one window size.
type SizeReport struct {
	Size     int
	Rendered int
	Skipped  int
	Failed   int
}

// Report summarises a run.
type Report struct {
	RunID             string
	Sizes             []SizeReport
	Charts            []string
	RenderFailures    int
	Scanned           int
	Retained          int
	Discarded         int
	DetectionFailures int
	WriteFailures     int
	Saved             []string
	PresentFailures   int
}

// Err returns ErrPartialFailure when any window or image was skipped because
// of a failure. Presenter errors do not count.
func (r Report) Err() error {
	failed := r.RenderFailures + r.DetectionFailures + r.WriteFailures
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d render, %d detection, %d write failures",
		ErrPartialFailure, r.RenderFailures, r.DetectionFailures, r.WriteFailures)
}

// Orchestrator runs the end-to-end scan.
type Orchestrator struct {
	segmenter  *segment.Segmenter
	renderer   render.Renderer
	filter     *detect.Filter
	writer     *artifact.Writer
	presenters []Presenter
	opts       Options
	logger     zerolog.Logger
}

// New constructs an orchestrator. A nil filter renders charts without running
// detection.
func New(opts Options, renderer render.Renderer, filter *detect.Filter, writer *artifact.Writer, logger zerolog.Logger, presenters ...Presenter) *Orchestrator {
	if writer == nil {
		writer = artifact.NewWriter("")
	}
	opts.MaxGap = segment.MaxGapOrDefault(opts.MaxGap)
	return &Orchestrator{
		segmenter:  segment.New(logger),
		renderer:   renderer,
		filter:     filter,
		writer:     writer,
		presenters: presenters,
		opts:       opts,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

type plannedSize struct {
	size    int
	windows iter.Seq[segment.Window]
	skipped *int
}

// Run renders every valid window for each configured size, then filters the
// whole image directory and writes the retained detections. Window sizes are
// validated before anything touches the filesystem.
func (o *Orchestrator) Run(ctx context.Context, rc RunContext, bars series.Series) (Report, error) {
	report := Report{RunID: rc.ID}

	if len(o.opts.WindowSizes) == 0 {
		return report, fmt.Errorf("%w: no window sizes configured", segment.ErrInvalidConfiguration)
	}
	plans := make([]plannedSize, 0, len(o.opts.WindowSizes))
	for _, size := range o.opts.WindowSizes {
		skipped := new(int)
		seq, err := o.segmenter.Segment(bars, segment.Options{
			Size:   size,
			MaxGap: o.opts.MaxGap,
			Stride: o.opts.Stride,
			OnSkip: func(segment.Skip) { *skipped++ },
		})
		if err != nil {
			return report, err
		}
		plans = append(plans, plannedSize{size: size, windows: seq, skipped: skipped})
	}

	if err := render.EnsureDir(rc.ImageDir); err != nil {
		return report, err
	}

	o.logger.Info().Str("run_id", rc.ID).Int("bars", bars.Len()).Ints("window_sizes", o.opts.WindowSizes).Msg("run started")

	for _, plan := range plans {
		sr := SizeReport{Size: plan.size}
		o.logger.Info().Int("window_size", plan.size).Msgf("Processing window size: %d", plan.size)

		for w := range plan.windows {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			path, err := render.RenderTo(o.renderer, rc.ImageDir, bars.Len(), w, o.opts.Namespace)
			if err != nil {
				o.logger.Error().Err(err).Int("window_size", plan.size).
					Int("from", w.StartIndex).Int("to", w.EndIndex).
					Msg("render failed, skipping window")
				sr.Failed++
				continue
			}
			o.logger.Debug().Str("chart", path).Msg("chart rendered")
			report.Charts = append(report.Charts, path)
			sr.Rendered++
		}
		sr.Skipped = *plan.skipped

		o.logger.Info().Int("window_size", plan.size).
			Int("rendered", sr.Rendered).Int("skipped", sr.Skipped).Int("failed", sr.Failed).
			Msgf("Completed processing for window size: %d", plan.size)
		report.Sizes = append(report.Sizes, sr)
		report.RenderFailures += sr.Failed
	}

	if o.filter == nil {
		o.logger.Info().Int("charts", len(report.Charts)).Msg("detection disabled, run finished after rendering")
		return report, nil
	}

	if err := o.detect(ctx, rc, &report); err != nil {
		return report, err
	}
	return report, nil
}

// Detect runs only the detection pass over rc.ImageDir.
func (o *Orchestrator) Detect(ctx context.Context, rc RunContext) (Report, error) {
	report := Report{RunID: rc.ID}
	if o.filter == nil {
		return report, errors.New("detection is disabled")
	}
	err := o.detect(ctx, rc, &report)
	return report, err
}

func (o *Orchestrator) detect(ctx context.Context, rc RunContext, report *Report) error {
	paths, err := detect.ScanImages(rc.ImageDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(rc.DetectionDir, 0o755); err != nil {
		return fmt.Errorf("create detections dir: %w", err)
	}
	report.Scanned = len(paths)

	// 每张命中的图立即落盘，取消时已找到的结果不会丢失
	outcome, err := o.filter.Each(ctx, paths, func(res detect.Result) {
		o.save(ctx, rc, res, report)
	})
	report.Retained = len(outcome.Retained)
	report.Discarded = len(outcome.Discarded)
	report.DetectionFailures = len(outcome.Failed)
	if err != nil {
		return err
	}

	o.logger.Info().Str("run_id", rc.ID).
		Int("scanned", report.Scanned).
		Int("retained", report.Retained).
		Int("discarded", report.Discarded).
		Int("failed", report.DetectionFailures).
		Msg("detection pass finished")
	return nil
}

func (o *Orchestrator) save(ctx context.Context, rc RunContext, res detect.Result, report *Report) {
	saved, err := o.writer.Write(rc.DetectionDir, filepath.Base(res.Path), res.Annotated)
	if err != nil {
		o.logger.Error().Err(err).Str("image", res.Path).Msg("failed to save detected pattern")
		report.WriteFailures++
		return
	}
	o.logger.Info().Str("saved", saved).Int("boxes", len(res.Boxes)).Msgf("Saved detected pattern to %s", saved)
	report.Saved = append(report.Saved, saved)

	for _, p := range o.presenters {
		if err := p.Present(ctx, saved, res); err != nil {
			o.logger.Warn().Err(err).Str("saved", saved).Msg("presenter failed")
			report.PresentFailures++
		}
	}
}
