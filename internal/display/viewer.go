// Package display opens saved detections in a local image viewer.
package display

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"chart-pattern-scanner/internal/detect"
)

// DefaultCommand is the desktop opener used when none is configured.
const DefaultCommand = "xdg-open"

// Viewer launches an external program for each saved image and does not
// wait for it to exit.
type Viewer struct {
	command string
	args    []string
	logger  zerolog.Logger
}

// NewViewer builds a viewer from a command line such as "feh --scale-down".
func NewViewer(command string, logger zerolog.Logger) *Viewer {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = []string{DefaultCommand}
	}
	return &Viewer{
		command: fields[0],
		args:    fields[1:],
		logger:  logger.With().Str("component", "viewer").Logger(),
	}
}

// Present starts the viewer on savedPath.
func (v *Viewer) Present(_ context.Context, savedPath string, res detect.Result) error {
	if savedPath == "" {
		return errors.New("no image to show")
	}

	args := append(append([]string{}, v.args...), savedPath)
	cmd := exec.Command(v.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start viewer %s: %w", v.command, err)
	}
	// 回收子进程，避免僵尸进程
	go func() { _ = cmd.Wait() }()

	v.logger.Debug().Str("image", savedPath).Int("boxes", len(res.Boxes)).Int("pid", cmd.Process.Pid).Msg("viewer started")
	return nil
}
