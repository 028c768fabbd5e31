package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-pattern-scanner/internal/config"
)

func writeCSV(t *testing.T, dir string, n int, gapAt int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("time,open,high,low,close,volume\n")
	ts := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		if i == gapAt {
			ts = ts.Add(time.Hour)
		}
		p := 2050.0 + float64(i%7) - float64(i%3)
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d\n", ts.Format("2006-01-02 15:04:05"), p, p+1.5, p-1.25, p+0.5, 100+i)
		ts = ts.Add(5 * time.Minute)
	}
	path := filepath.Join(dir, "XAUUSD_M5.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testApp(t *testing.T, endpoint string) (*App, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Data.Path = writeCSV(t, root, 60, -1)
	cfg.Render.Dir = filepath.Join(root, "images")
	cfg.Render.Width = 640
	cfg.Render.Height = 360
	cfg.Output.Dir = filepath.Join(root, "detected_patterns")
	cfg.Segmentation.WindowSizes = []int{24}
	if endpoint != "" {
		cfg.Detection.Endpoint = endpoint
	}

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestScanRenderOnly(t *testing.T) {
	a, _ := testApp(t, "")

	err := a.Scan(context.Background(), ScanOptions{NoDetect: true})
	require.NoError(t, err)

	entries, err := os.ReadDir(a.Config.Render.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "candlestick_chart_w24_60_2024-01-02 10:00_to_2024-01-02 11:55.png", entries[0].Name())

	_, err = os.Stat(a.Config.Output.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestScanWithDetector(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		predictions := []map[string]any{}
		if calls == 1 {
			predictions = append(predictions, map[string]any{
				"class_id": 3, "class": "W_Bottom", "confidence": 0.77,
				"box": map[string]float64{"x1": 10, "y1": 10, "x2": 120, "y2": 90},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"predictions": predictions})
	}))
	defer srv.Close()

	a, _ := testApp(t, srv.URL)
	require.NoError(t, a.Scan(context.Background(), ScanOptions{}))

	assert.Equal(t, 2, calls)
	entries, err := os.ReadDir(a.Config.Output.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "detected_candlestick_chart_w24_60_"))
}

func TestScanReportsDetectorOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, _ := testApp(t, srv.URL)
	err := a.Scan(context.Background(), ScanOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 detection")
}

func TestScanRejectsInvalidWindowSize(t *testing.T) {
	a, _ := testApp(t, "")

	err := a.Scan(context.Background(), ScanOptions{WindowSizes: []int{24, 0}, NoDetect: true})
	require.ErrorIs(t, err, config.ErrInvalid)

	_, statErr := os.Stat(a.Config.Render.Dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWindowsListsPlannedCharts(t *testing.T) {
	a, out := testApp(t, "")
	a.Config.Data.Path = writeCSV(t, t.TempDir(), 100, 50)

	err := a.Windows(context.Background(), WindowsOptions{ShowSkipped: true})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Size")
	assert.Contains(t, text, "candlestick_chart_w24_100_2024-01-02 10:00_to_2024-01-02 11:55.png")
	assert.Contains(t, text, "skipped: gap 1h5m0s at 50")
	assert.Equal(t, 5, strings.Count(text, "\n"), "header, three charts and one skipped range")

	_, statErr := os.Stat(a.Config.Render.Dir)
	assert.True(t, os.IsNotExist(statErr), "dry run must not write files")
}

func TestDetectUsesExistingCharts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions":[]}`))
	}))
	defer srv.Close()

	a, _ := testApp(t, srv.URL)
	require.NoError(t, a.Scan(context.Background(), ScanOptions{NoDetect: true}))
	require.NoError(t, a.Detect(context.Background(), DetectOptions{}))

	entries, err := os.ReadDir(a.Config.Output.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWindowsAndScanShareGapDefault(t *testing.T) {
	a, out := testApp(t, "")
	a.Config.Segmentation.MaxTimeGap = 0
	a.Config.Data.Path = writeCSV(t, t.TempDir(), 100, 50)

	require.NoError(t, a.Windows(context.Background(), WindowsOptions{ShowSkipped: true}))
	assert.Contains(t, out.String(), "skipped: gap 1h5m0s at 50")

	require.NoError(t, a.Scan(context.Background(), ScanOptions{NoDetect: true}))
	entries, err := os.ReadDir(a.Config.Render.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "the window across the gap is skipped by both paths")
}

func TestScanLogsCarryRunID(t *testing.T) {
	a, _ := testApp(t, "")
	a.Config.Data.Symbol = "XAUUSD"
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	out := a.Out
	a = NewApp(a.Config, logger)
	a.Out = out

	require.NoError(t, a.Scan(context.Background(), ScanOptions{NoDetect: true}))

	runIDs := map[string]bool{}
	components := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if n := strings.Count(line, `"component":`); n != 1 {
			t.Fatalf("每条日志应只有一个 component 字段, 实际 %d: %s", n, line)
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		id, _ := entry["run_id"].(string)
		if id == "" {
			t.Fatalf("日志缺少 run_id: %s", line)
		}
		assert.Equal(t, "XAUUSD", entry["symbol"])
		runIDs[id] = true
		components[entry["component"].(string)] = true
	}
	assert.Len(t, runIDs, 1)
	assert.True(t, components["orchestrator"])
	assert.True(t, components["app"])
}
