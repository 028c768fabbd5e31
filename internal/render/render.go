// Package render turns windows into candlestick chart images.
package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"chart-pattern-scanner/internal/segment"
)

// ErrRenderFailure wraps any failure to produce the image for a valid window.
var ErrRenderFailure = errors.New("render failure")

// TimeLayout formats window bounds in artifact names and titles.
const TimeLayout = "2006-01-02 15:04"

// Renderer draws one window into exactly one image file at path.
type Renderer interface {
	Render(w segment.Window, path string) error
}

// ArtifactName builds the deterministic chart file name for a window. With
// namespace set the window size is part of the name so different sizes that
// cover the same time range do not overwrite each other.
func ArtifactName(seriesLen int, w segment.Window, namespace bool) string {
	start := w.Start.Format(TimeLayout)
	end := w.End.Format(TimeLayout)
	if namespace {
		return fmt.Sprintf("candlestick_chart_w%d_%d_%s_to_%s.png", w.Size, seriesLen, start, end)
	}
	return fmt.Sprintf("candlestick_chart_%d_%s_to_%s.png", seriesLen, start, end)
}

// Title is the chart heading for a window.
func Title(w segment.Window) string {
	return fmt.Sprintf("Candlestick Chart (%s to %s)", w.Start.Format(TimeLayout), w.End.Format(TimeLayout))
}

// EnsureDir creates dir when absent.
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}
	return nil
}

// RenderTo names the artifact, renders it under dir and returns its path.
func RenderTo(r Renderer, dir string, seriesLen int, w segment.Window, namespace bool) (string, error) {
	path := filepath.Join(dir, ArtifactName(seriesLen, w, namespace))
	if err := r.Render(w, path); err != nil {
		if errors.Is(err, ErrRenderFailure) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", ErrRenderFailure, filepath.Base(path), err)
	}
	return path, nil
}
