package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chart-pattern-scanner/internal/version"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`
}

// NewLogger constructs a zerolog logger from config.
func NewLogger(cfg Config) zerolog.Logger {
	return NewLoggerTo(outputWriter(cfg.Output), cfg)
}

// NewLoggerTo 与 NewLogger 相同，但写入指定的 writer。
func NewLoggerTo(out io.Writer, cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	builder := zerolog.New(formatWriter(out, cfg)).Level(level).With().Timestamp().
		Str("version", version.Version)
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger()
}

// ForRun scopes logger to one scan so chart, detection and alert entries of
// the same run can be grepped together. Empty symbols are omitted.
func ForRun(logger zerolog.Logger, runID, symbol string) zerolog.Logger {
	ctx := logger.With().Str("run_id", runID)
	if symbol != "" {
		ctx = ctx.Str("symbol", symbol)
	}
	return ctx.Logger()
}

func outputWriter(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func formatWriter(out io.Writer, cfg Config) io.Writer {
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	return out
}
