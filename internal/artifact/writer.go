// Package artifact persists annotated detection images.
package artifact

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
)

// DefaultPrefix marks files that hold a retained detection.
const DefaultPrefix = "detected_"

// Writer saves annotated images under a fixed name prefix.
type Writer struct {
	prefix      string
	jpegQuality int
}

// NewWriter constructs a Writer. An empty prefix falls back to DefaultPrefix.
func NewWriter(prefix string) *Writer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Writer{prefix: prefix, jpegQuality: 95}
}

// Name returns the output file name for an original artifact.
func (w *Writer) Name(originalName string) string {
	return w.prefix + filepath.Base(originalName)
}

// Write stores img as <dir>/<prefix><base(originalName)>, creating dir when
// needed and overwriting any existing file.
func (w *Writer) Write(dir, originalName string, img image.Image) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create detections dir: %w", err)
	}

	path := filepath.Join(dir, w.Name(originalName))
	if err := imgio.Save(path, img, w.encoderFor(path)); err != nil {
		return "", fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

func (w *Writer) encoderFor(path string) imgio.Encoder {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return imgio.JPEGEncoder(w.jpegQuality)
	default:
		return imgio.PNGEncoder()
	}
}
