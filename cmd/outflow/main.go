// Package main is the entry point for the Outflow orchestration service: it
// hosts the Temporal worker and the HTTP control API in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/internal/handlers"
	"github.com/outflowhq/outflow/internal/ratelimit"
	"github.com/outflowhq/outflow/internal/service"
	oftemporal "github.com/outflowhq/outflow/internal/temporal"
	"github.com/outflowhq/outflow/internal/temporal/worker"
	"github.com/outflowhq/outflow/pkg/config"
	"github.com/outflowhq/outflow/pkg/database"
	"github.com/outflowhq/outflow/pkg/kafka"
	"github.com/outflowhq/outflow/pkg/logger"
	"github.com/outflowhq/outflow/pkg/telemetry"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.LogLevel, "json").WithService("outflow")
	log.Info("starting Outflow service",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"env", cfg.Env,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracing, err := telemetry.NewProvider(cfg.Telemetry, "outflow", version, cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
		PoolSize:   cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()
	log.Info("connected to Redis", "addr", cfg.Redis.Addr)

	limiter := ratelimit.NewRedisLimiter(redisClient,
		ratelimit.PoliciesFromConfig(cfg.RateLimit), cfg.RateLimit.KeyPrefix, log)

	var gw gateway.Gateway
	if cfg.Provider.Mock {
		log.Warn("using mock outreach gateway; provider calls are faked")
		gw = gateway.NewMock()
	} else {
		gw, err = gateway.NewClient(cfg.Provider, log)
		if err != nil {
			return fmt.Errorf("failed to create gateway client: %w", err)
		}
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		defer producer.Close()
		log.Info("connected to Kafka", "brokers", cfg.Kafka.Brokers)
	} else {
		log.Info("Kafka disabled; alerts persist to Postgres only")
	}

	temporalClient, err := oftemporal.Dial(cfg.Temporal, log)
	if err != nil {
		return fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	defer temporalClient.Close()
	log.Info("connected to Temporal",
		"address", cfg.Temporal.Address(),
		"namespace", cfg.Temporal.Namespace,
		"task_queue", cfg.Temporal.TaskQueue,
	)

	temporalWorker := worker.New(worker.Config{
		Temporal:   cfg.Temporal,
		Client:     temporalClient,
		DB:         db.Pool,
		Logger:     log,
		Gateway:    gw,
		Limiter:    limiter,
		Alerts:     producer,
		AlertTopic: cfg.Kafka.Topics.AlertCreated,
	})
	if err := temporalWorker.Start(); err != nil {
		return fmt.Errorf("failed to start Temporal worker: %w", err)
	}

	campaigns := service.NewCampaignService(temporalClient, db.Pool, cfg.Outreach, log)
	monitors := service.NewMonitorService(temporalClient, cfg.Monitor, log)

	handler := handlers.New(handlers.Config{
		DB:        db,
		Logger:    log,
		Campaigns: campaigns,
		Monitors:  monitors,
		Env:       cfg.Env,
		Version:   version,
	})

	server := &http.Server{
		Addr:         cfg.API.Address(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
		defer shutdownCancel()

		// Worker first: in-flight activities drain before the connections
		// behind them close.
		temporalWorker.Stop()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				return fmt.Errorf("forced shutdown error: %w", err)
			}
		}
		log.Info("server shutdown complete")
	}

	return nil
}
