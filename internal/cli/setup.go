package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/aggregator"
	"github.com/acolyte-tracking/dashboard/internal/annotator"
	"github.com/acolyte-tracking/dashboard/internal/cache/redis"
	"github.com/acolyte-tracking/dashboard/internal/llm"
	"github.com/acolyte-tracking/dashboard/internal/registry"
	"github.com/acolyte-tracking/dashboard/internal/storage/postgres"
	"github.com/acolyte-tracking/dashboard/internal/storage/sqlite"
	"github.com/acolyte-tracking/dashboard/pkg/config"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

// runtime holds what a command needs, plus the closers for it.
type runtime struct {
	cfg        *config.Config
	aggregator *aggregator.Aggregator
	closers    []func() error
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
	logger.Sync()
}

// connect loads config, logs to stderr and opens Postgres.
func connect(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, "console", "stderr"); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	loc, err := cfg.Display.Location()
	if err != nil {
		return nil, err
	}

	pg, err := postgres.NewClient(ctx, cfg.Postgres.URL, postgres.Options{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnectAttempts: cfg.Postgres.ConnectAttempts,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg: cfg,
		aggregator: aggregator.New(pg, registry.Default(), aggregator.Options{
			Location: loc,
			FanOut:   cfg.Postgres.FanOut,
		}),
		closers: []func() error{pg.Close},
	}, nil
}

// history opens the annotation history store, or returns nil when it is
// disabled or cannot be opened.
func (r *runtime) history() *sqlite.Client {
	if !r.cfg.History.Enabled {
		return nil
	}
	store, err := sqlite.NewClient(r.cfg.History.Path)
	if err != nil {
		logger.Warn("Annotation history unavailable", zap.Error(err))
		return nil
	}
	r.closers = append(r.closers, store.Close)
	return store
}

// annotator builds the annotator, with the redis cache when enabled and
// reachable.
func (r *runtime) annotator(ctx context.Context) (*annotator.Annotator, string) {
	client := llm.NewClient(llm.Config{
		APIKey:      r.cfg.LLM.APIKey,
		BaseURL:     r.cfg.LLM.BaseURL,
		Model:       r.cfg.LLM.Model,
		Temperature: r.cfg.LLM.Temperature,
		MaxTokens:   r.cfg.LLM.MaxTokens,
		Timeout:     time.Duration(r.cfg.LLM.TimeoutSec) * time.Second,
	})

	opts := []annotator.Option{annotator.WithConcurrency(r.cfg.Annotator.Concurrency)}
	if r.cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, r.cfg.Redis.Host, r.cfg.Redis.Port,
			r.cfg.Redis.Password, r.cfg.Redis.DB, r.cfg.Redis.TTL)
		if err != nil {
			logger.Warn("Annotation cache unavailable", zap.Error(err))
		} else {
			r.closers = append(r.closers, cache.Close)
			opts = append(opts, annotator.WithCache(cache))
		}
	}
	return annotator.New(client, opts...), client.Model()
}
