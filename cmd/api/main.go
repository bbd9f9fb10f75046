package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/aggregator"
	"github.com/acolyte-tracking/dashboard/internal/annotator"
	"github.com/acolyte-tracking/dashboard/internal/api"
	"github.com/acolyte-tracking/dashboard/internal/cache/redis"
	"github.com/acolyte-tracking/dashboard/internal/llm"
	"github.com/acolyte-tracking/dashboard/internal/metrics"
	"github.com/acolyte-tracking/dashboard/internal/registry"
	"github.com/acolyte-tracking/dashboard/internal/storage/postgres"
	"github.com/acolyte-tracking/dashboard/internal/storage/sqlite"
	"github.com/acolyte-tracking/dashboard/pkg/config"
	appLogger "github.com/acolyte-tracking/dashboard/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting session metrics API server")

	metrics.Init()

	loc, err := cfg.Display.Location()
	if err != nil {
		appLogger.Fatal("Invalid display timezone", zap.Error(err))
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()

	pg, err := postgres.NewClient(startupCtx, cfg.Postgres.URL, postgres.Options{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnectAttempts: cfg.Postgres.ConnectAttempts,
	})
	if err != nil {
		appLogger.Fatal("Failed to create Postgres client", zap.Error(err))
	}
	defer pg.Close()

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	annotatorOpts := []annotator.Option{annotator.WithConcurrency(cfg.Annotator.Concurrency)}
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(startupCtx,
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.TTL,
		)
		if err != nil {
			appLogger.Warn("Annotation cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer redisClient.Close()
			annotatorOpts = append(annotatorOpts, annotator.WithCache(redisClient))
		}
	}

	agg := aggregator.New(pg, registry.Default(), aggregator.Options{
		Location: loc,
		FanOut:   cfg.Postgres.FanOut,
	})

	deps := api.Deps{
		Sessions:  agg,
		Annotator: annotator.New(llmClient, annotatorOpts...),
		Completer: llmClient,
		DB:        pg,
		Model:     llmClient.Model(),
		Location:  loc,
	}

	if cfg.History.Enabled {
		history, err := sqlite.NewClient(cfg.History.Path)
		if err != nil {
			appLogger.Warn("Annotation history unavailable, continuing without it", zap.Error(err))
		} else {
			defer history.Close()
			if cfg.History.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
				if _, err := history.Prune(startupCtx, cutoff); err != nil {
					appLogger.Warn("Failed to prune annotation history", zap.Error(err))
				}
			}
			deps.History = history
		}
	}

	server := api.NewServer(cfg.Server, deps)
	defer server.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.App.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
