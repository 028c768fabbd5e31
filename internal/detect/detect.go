// Package detect runs a visual pattern detector over rendered charts and keeps
// the charts where at least one pattern was found.
package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrDetectionFailure wraps an image the detector could not process.
var ErrDetectionFailure = errors.New("detection failure")

// Box is one predicted bounding box in image pixel coordinates.
type Box struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	ClassID    int     `json:"class_id"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Label is the caption drawn above the box.
func (b Box) Label() string {
	return fmt.Sprintf("%s %.2f", b.Class, b.Confidence)
}

// Rect converts the box to integer pixel bounds.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// Thresholds are the post-processing settings applied to every call in a run.
type Thresholds struct {
	Confidence    float64
	IoU           float64
	ClassAgnostic bool
	MaxDetections int
}

// DefaultThresholds mirror the model's usual NMS settings.
func DefaultThresholds() Thresholds {
	return Thresholds{Confidence: 0.25, IoU: 0.45, ClassAgnostic: false, MaxDetections: 1000}
}

// Detector predicts pattern boxes on an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image, th Thresholds) ([]Box, error)
}
