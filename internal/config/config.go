package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"chart-pattern-scanner/internal/logging"
)

// ErrInvalid marks configuration that cannot be used to start a run.
var ErrInvalid = errors.New("invalid configuration")

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Data         DataConfig         `mapstructure:"data"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Render       RenderConfig       `mapstructure:"render"`
	Detection    DetectionConfig    `mapstructure:"detection"`
	Output       OutputConfig       `mapstructure:"output"`
	Display      DisplayConfig      `mapstructure:"display"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DataConfig describes where price bars are read from.
type DataConfig struct {
	Format     string `mapstructure:"format" validate:"oneof=csv sqlite postgres"`
	Path       string `mapstructure:"path"`
	Delimiter  string `mapstructure:"delimiter" validate:"omitempty,len=1"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int    `mapstructure:"max_conns" validate:"gte=0"`
	Table      string `mapstructure:"table"`
	Symbol     string `mapstructure:"symbol"`
	TimeLayout string `mapstructure:"time_layout"`
	NumRecords int    `mapstructure:"num_records" validate:"gt=0"`
}

// SegmentationConfig governs how the series is cut into windows.
type SegmentationConfig struct {
	WindowSizes []int         `mapstructure:"window_sizes" validate:"required,min=1,dive,gt=0"`
	MaxTimeGap  time.Duration `mapstructure:"max_time_gap"`
	Stride      int           `mapstructure:"stride" validate:"gte=0"`
}

// RenderConfig sets chart output.
type RenderConfig struct {
	Dir                   string `mapstructure:"dir" validate:"required"`
	Width                 int    `mapstructure:"width" validate:"gte=100"`
	Height                int    `mapstructure:"height" validate:"gte=100"`
	NamespaceByWindowSize bool   `mapstructure:"namespace_by_window_size"`
}

// DetectionConfig captures the pattern detector endpoint and NMS settings.
type DetectionConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Model          string        `mapstructure:"model"`
	ConfThreshold  float64       `mapstructure:"conf_threshold" validate:"gte=0,lte=1"`
	IoUThreshold   float64       `mapstructure:"iou_threshold" validate:"gte=0,lte=1"`
	ClassAgnostic  bool          `mapstructure:"class_agnostic"`
	MaxDetections  int           `mapstructure:"max_detections" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// OutputConfig sets where retained detections are written.
type OutputConfig struct {
	Dir    string `mapstructure:"dir" validate:"required"`
	Prefix string `mapstructure:"prefix" validate:"required"`
}

// DisplayConfig toggles showing annotated images in a local viewer.
type DisplayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Command string `mapstructure:"command"`
}

// AlertingConfig defines where detection notices are pushed.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PATTERNSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		panic("decode default config: " + err.Error())
	}
	return &cfg
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "patternscan")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("data.format", "csv")
	v.SetDefault("data.path", "XAUUSD_M5.csv")
	v.SetDefault("data.table", "bars")
	v.SetDefault("data.max_conns", 2)
	v.SetDefault("data.num_records", 500)

	v.SetDefault("segmentation.window_sizes", []int{24, 50, 72})
	v.SetDefault("segmentation.max_time_gap", "10m")
	v.SetDefault("segmentation.stride", 0)

	v.SetDefault("render.dir", "images")
	v.SetDefault("render.width", 1280)
	v.SetDefault("render.height", 720)
	v.SetDefault("render.namespace_by_window_size", true)

	v.SetDefault("detection.enabled", true)
	v.SetDefault("detection.endpoint", "http://127.0.0.1:8000")
	v.SetDefault("detection.model", "foduucom/stockmarket-pattern-detection-yolov8")
	v.SetDefault("detection.conf_threshold", 0.25)
	v.SetDefault("detection.iou_threshold", 0.45)
	v.SetDefault("detection.class_agnostic", false)
	v.SetDefault("detection.max_detections", 1000)
	v.SetDefault("detection.request_timeout", "0s")

	v.SetDefault("output.dir", "detected_patterns")
	v.SetDefault("output.prefix", "detected_")

	v.SetDefault("display.enabled", false)
	v.SetDefault("display.command", "xdg-open")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			// 环境变量 "24,50,72" 需拆分为 []int
			mapstructure.StringToWeakSliceHookFunc(","),
		)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalid, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.Segmentation.MaxTimeGap < 0 {
		return fmt.Errorf("%w: segmentation.max_time_gap cannot be negative", ErrInvalid)
	}
	if c.Detection.RequestTimeout < 0 {
		return fmt.Errorf("%w: detection.request_timeout cannot be negative", ErrInvalid)
	}
	switch c.Data.Format {
	case "csv", "sqlite":
		if c.Data.Path == "" {
			return fmt.Errorf("%w: data.path is required for %s sources", ErrInvalid, c.Data.Format)
		}
	case "postgres":
		if c.Data.DSN == "" {
			return fmt.Errorf("%w: data.dsn is required for postgres sources", ErrInvalid)
		}
	}
	if c.Data.Format != "csv" && c.Data.Table == "" {
		return fmt.Errorf("%w: data.table is required for %s sources", ErrInvalid, c.Data.Format)
	}
	if c.Detection.Enabled && c.Detection.Endpoint == "" {
		return fmt.Errorf("%w: detection.endpoint 必须配置", ErrInvalid)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("%w: alerting.telegram.bot_token 必须配置", ErrInvalid)
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("%w: alerting.telegram.chat_id 必须配置", ErrInvalid)
		}
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return strings.Join(msgs, "; ")
}
