package series

import (
	"context"
	"fmt"
	"strings"

	"chart-pattern-scanner/internal/config"
)

// Open builds the Source described by cfg. The returned closer may be nil.
func Open(ctx context.Context, cfg config.DataConfig) (Source, func(), error) {
	switch strings.ToLower(cfg.Format) {
	case "", "csv":
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("data.path is required for the csv source")
		}
		src := CSVSource{Path: cfg.Path, TimeLayout: cfg.TimeLayout}
		if cfg.Delimiter != "" {
			src.Comma = []rune(cfg.Delimiter)[0]
		}
		return src, nil, nil
	case "sqlite":
		return SQLiteSource{Path: cfg.Path, Table: cfg.Table, Symbol: cfg.Symbol, TimeLayout: cfg.TimeLayout}, nil, nil
	case "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		src := NewPostgresSource(pool, cfg.Table, cfg.Symbol)
		return src, src.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported data.format %q", cfg.Format)
	}
}
