package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

// Result is a retained chart: its boxes and the annotated rendering.
type Result struct {
	Path      string
	Boxes     []Box
	Annotated image.Image
}

// Failure records an image the detector could not process.
type Failure struct {
	Path string
	Err  error
}

// Outcome aggregates one filtering pass. Retained results carry an
// annotated image only when produced by Filter.Filter.
type Outcome struct {
	Retained  []Result
	Discarded []string
	Failed    []Failure
}

// Filter runs the detector over charts and keeps those with detections.
type Filter struct {
	detector   Detector
	thresholds Thresholds
	annotator  *Annotator
	logger     zerolog.Logger
}

// NewFilter constructs a Filter applying th to every detector call.
func NewFilter(detector Detector, th Thresholds, annotator *Annotator, logger zerolog.Logger) *Filter {
	if annotator == nil {
		annotator = NewAnnotator()
	}
	return &Filter{
		detector:   detector,
		thresholds: th,
		annotator:  annotator,
		logger:     logger.With().Str("component", "detection_filter").Logger(),
	}
}

// Filter processes paths in order and collects every retained result with
// its annotated image.
func (f *Filter) Filter(ctx context.Context, paths []string) (Outcome, error) {
	var kept []Result
	out, err := f.Each(ctx, paths, func(res Result) {
		kept = append(kept, res)
	})
	out.Retained = kept
	return out, err
}

// Each processes paths in order and hands every retained result to fn as
// soon as it is found. The outcome keeps only paths and boxes, so annotated
// images are released once fn returns. Per-image failures are collected and
// do not stop the pass; only context cancellation ends it early, after fn
// has seen everything retained so far.
func (f *Filter) Each(ctx context.Context, paths []string, fn func(Result)) (Outcome, error) {
	var out Outcome
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		res, found, err := f.inspect(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			f.logger.Error().Err(err).Str("image", path).Msg("detection failed, skipping image")
			out.Failed = append(out.Failed, Failure{Path: path, Err: err})
			continue
		}
		if !found {
			f.logger.Info().Str("image", path).Msgf("No pattern detected in %s", path)
			out.Discarded = append(out.Discarded, path)
			continue
		}

		f.logger.Info().Str("image", path).Int("boxes", len(res.Boxes)).Msgf("Pattern detected in %s", path)
		if fn != nil {
			fn(res)
		}
		out.Retained = append(out.Retained, Result{Path: res.Path, Boxes: res.Boxes})
	}
	return out, nil
}

func (f *Filter) inspect(ctx context.Context, path string) (Result, bool, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return Result{}, false, fmt.Errorf("%w: open %s: %v", ErrDetectionFailure, filepath.Base(path), err)
	}

	boxes, err := f.detector.Detect(ctx, img, f.thresholds)
	if err != nil {
		return Result{}, false, fmt.Errorf("%w: %s: %v", ErrDetectionFailure, filepath.Base(path), err)
	}
	if len(boxes) == 0 {
		return Result{}, false, nil
	}

	return Result{
		Path:      path,
		Boxes:     boxes,
		Annotated: f.annotator.Annotate(img, boxes),
	}, true, nil
}

// ScanImages lists the *.png files directly inside dir in name order.
func ScanImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan image dir: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
