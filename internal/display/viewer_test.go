package display

import (
	"context"
	"os/exec"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-pattern-scanner/internal/detect"
)

func TestViewerParsesCommand(t *testing.T) {
	v := NewViewer("feh --scale-down  -g 800x600", zerolog.Nop())
	assert.Equal(t, "feh", v.command)
	assert.Equal(t, []string{"--scale-down", "-g", "800x600"}, v.args)

	v = NewViewer("  ", zerolog.Nop())
	assert.Equal(t, DefaultCommand, v.command)
	assert.Empty(t, v.args)
}

func TestViewerStartsWithoutWaiting(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	// sleep 表示一个不会立即退出的查看器
	v := NewViewer("sleep", zerolog.Nop())
	err := v.Present(context.Background(), "5", detect.Result{})
	require.NoError(t, err)
}

func TestViewerReportsMissingCommand(t *testing.T) {
	v := NewViewer("definitely-not-an-image-viewer-binary", zerolog.Nop())
	err := v.Present(context.Background(), "/tmp/chart.png", detect.Result{})
	assert.Error(t, err)

	assert.Error(t, NewViewer("", zerolog.Nop()).Present(context.Background(), "", detect.Result{}))
}
