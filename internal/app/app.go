package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chart-pattern-scanner/internal/alerting"
	"chart-pattern-scanner/internal/artifact"
	"chart-pattern-scanner/internal/config"
	"chart-pattern-scanner/internal/detect"
	"chart-pattern-scanner/internal/display"
	"chart-pattern-scanner/internal/logging"
	"chart-pattern-scanner/internal/pipeline"
	"chart-pattern-scanner/internal/render"
	"chart-pattern-scanner/internal/series"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// base 不带 component 字段，供各组件再派生
	base zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout, base: logger}
}

// forRun returns a copy whose loggers carry the run id and symbol.
func (a *App) forRun(rc pipeline.RunContext, cfg *config.Config) *App {
	run := *a
	run.base = logging.ForRun(a.base, rc.ID, cfg.Data.Symbol)
	run.Logger = run.base.With().Str("component", "app").Logger()
	return &run
}

// ScanOptions override configuration for a single scan.
type ScanOptions struct {
	Input       string
	WindowSizes []int
	NumRecords  int
	NoDetect    bool
}

// WindowsOptions configure the dry-run listing.
type WindowsOptions struct {
	Input       string
	WindowSizes []int
	NumRecords  int
	ShowSkipped bool
}

// DetectOptions configure a detection-only pass.
type DetectOptions struct {
	ImageDir string
	OutDir   string
}

// effective applies command-line overrides on a copy of the configuration.
func (a *App) effective(input string, sizes []int, numRecords int) (*config.Config, error) {
	cfg := *a.Config
	if input != "" {
		cfg.Data.Path = input
	}
	if len(sizes) > 0 {
		cfg.Segmentation.WindowSizes = sizes
	}
	if numRecords != 0 {
		cfg.Data.NumRecords = numRecords
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (a *App) loadSeries(ctx context.Context, cfg config.DataConfig) (series.Series, error) {
	src, closeSource, err := series.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeSource != nil {
		defer closeSource()
	}

	bars, err := src.Load(ctx, cfg.NumRecords)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	if bars.Len() > 0 {
		a.Logger.Info().Str("format", cfg.Format).Int("bars", bars.Len()).
			Time("first", bars.First()).Time("last", bars.Last()).
			Msg("series loaded")
	} else {
		a.Logger.Warn().Str("format", cfg.Format).Msg("series is empty")
	}
	return bars, nil
}

func (a *App) newRenderer(cfg config.RenderConfig) render.Renderer {
	return render.NewCandlestickRenderer(render.CandlestickOptions{Width: cfg.Width, Height: cfg.Height})
}

func (a *App) newFilter(cfg config.DetectionConfig) *detect.Filter {
	detector := detect.NewHTTPDetector(detect.HTTPOptions{
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.base)

	th := detect.Thresholds{
		Confidence:    cfg.ConfThreshold,
		IoU:           cfg.IoUThreshold,
		ClassAgnostic: cfg.ClassAgnostic,
		MaxDetections: cfg.MaxDetections,
	}
	return detect.NewFilter(detector, th, detect.NewAnnotator(), a.base)
}

func (a *App) newPresenters(cfg *config.Config, rc pipeline.RunContext) []pipeline.Presenter {
	var presenters []pipeline.Presenter
	if cfg.Display.Enabled {
		presenters = append(presenters, display.NewViewer(cfg.Display.Command, a.base))
	}
	if cfg.Alerting.Telegram.Enabled {
		tg := cfg.Alerting.Telegram
		notifier := alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.base)
		presenters = append(presenters, notifier.WithRunID(rc.ID))
	}
	return presenters
}

func (a *App) newOrchestrator(cfg *config.Config, rc pipeline.RunContext, withDetection bool) *pipeline.Orchestrator {
	opts := pipeline.Options{
		WindowSizes: cfg.Segmentation.WindowSizes,
		MaxGap:      cfg.Segmentation.MaxTimeGap,
		Stride:      cfg.Segmentation.Stride,
		Namespace:   cfg.Render.NamespaceByWindowSize,
	}

	var filter *detect.Filter
	if withDetection {
		filter = a.newFilter(cfg.Detection)
	}
	return pipeline.New(opts, a.newRenderer(cfg.Render), filter, artifact.NewWriter(cfg.Output.Prefix), a.base, a.newPresenters(cfg, rc)...)
}

// Scan loads the series, renders every valid window and keeps the charts the
// detector finds patterns in. Isolated failures do not stop the run but make
// it return pipeline.ErrPartialFailure.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := a.effective(opts.Input, opts.WindowSizes, opts.NumRecords)
	if err != nil {
		return err
	}

	rc := pipeline.NewRunContext(cfg.Render.Dir, cfg.Output.Dir)
	run := a.forRun(rc, cfg)

	bars, err := run.loadSeries(ctx, cfg.Data)
	if err != nil {
		return err
	}

	withDetection := cfg.Detection.Enabled && !opts.NoDetect
	if !withDetection {
		run.Logger.Warn().Msg("detection disabled; charts are rendered only")
	}

	report, err := run.newOrchestrator(cfg, rc, withDetection).Run(ctx, rc, bars)
	if err != nil {
		return err
	}

	run.Logger.Info().Str("run_id", report.RunID).
		Int("charts", len(report.Charts)).
		Int("saved", len(report.Saved)).
		Dur("elapsed", time.Since(rc.StartedAt)).
		Msg("scan finished")
	return report.Err()
}

// Detect runs only the detection pass over an existing chart directory.
func (a *App) Detect(ctx context.Context, opts DetectOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := *a.Config
	if opts.ImageDir != "" {
		cfg.Render.Dir = opts.ImageDir
	}
	if opts.OutDir != "" {
		cfg.Output.Dir = opts.OutDir
	}

	rc := pipeline.NewRunContext(cfg.Render.Dir, cfg.Output.Dir)
	run := a.forRun(rc, &cfg)
	report, err := run.newOrchestrator(&cfg, rc, true).Detect(ctx, rc)
	if err != nil {
		return err
	}

	run.Logger.Info().Str("run_id", report.RunID).Int("scanned", report.Scanned).Int("saved", len(report.Saved)).Msg("detection finished")
	return report.Err()
}

var (
	_ pipeline.Presenter = (*display.Viewer)(nil)
	_ pipeline.Presenter = (*alerting.TelegramNotifier)(nil)
)
