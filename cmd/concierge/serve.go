package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/concierge/internal/agent"
	"github.com/haasonsaas/concierge/internal/agent/providers"
	"github.com/haasonsaas/concierge/internal/cache"
	"github.com/haasonsaas/concierge/internal/config"
	"github.com/haasonsaas/concierge/internal/escalation"
	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/server"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/internal/sweep"
	"github.com/haasonsaas/concierge/internal/toolexec"
	"github.com/haasonsaas/concierge/internal/usage"
	"github.com/haasonsaas/concierge/internal/workflow"
)

// runServe wires every component and blocks until shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "concierge",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	logger.Info(ctx, "starting concierge",
		"version", version,
		"commit", commit,
		"config", configPath,
		"http_port", cfg.Server.HTTPPort,
		"metrics_port", cfg.Server.MetricsPort,
	)

	pgConfig := storage.DefaultPostgresConfig()
	pgConfig.MaxOpenConns = cfg.Database.MaxConnections
	pgConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	stores, err := storage.NewPostgresStores(cfg.Database.URL, pgConfig)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn(ctx, "closing stores", "error", err)
		}
	}()

	var contexts cache.ContextCache
	var locker cache.Locker
	if cfg.Redis.URL != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		contexts = cache.NewRedisContextCache(redisClient, cfg.Orchestrator.ContextTTL, logger, metrics)
		locker = cache.NewRedisLocker(redisClient)
	} else {
		logger.Warn(ctx, "redis not configured, using in-memory cache and locks; not safe with multiple instances")
		contexts = cache.NewMemoryContextCache(cfg.Orchestrator.ContextTTL)
		locker = cache.NewMemoryLocker()
	}

	providerSet := make(map[string]agent.Provider, len(cfg.LLM.Providers))
	for name, pc := range cfg.LLM.Providers {
		p, err := providers.New(name, providers.Config{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxTokens:    pc.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		providerSet[name] = p
		logger.Info(ctx, "provider configured", "provider", name, "model", pc.DefaultModel)
	}
	if len(providerSet) == 0 {
		return fmt.Errorf("no llm providers configured")
	}

	coordinator := toolexec.NewCoordinator(
		stores.Tools,
		stores.Executions,
		locker,
		workflow.NewClient(workflow.ClientConfig{
			BaseURL: cfg.Workflow.BaseURL,
			Timeout: cfg.Workflow.Timeout,
		}, logger),
		logger,
		metrics,
		toolexec.Config{
			LockTTL:        cfg.Workflow.LockTTL,
			MaxResultChars: cfg.Workflow.MaxResultChars,
		},
	)

	orchestrator := agent.NewOrchestrator(
		providerSet,
		coordinator,
		contexts,
		stores,
		agent.NewEndDetector(
			cfg.Orchestrator.StrongEndPhrases,
			cfg.Orchestrator.WeakEndPhrases,
			cfg.Orchestrator.ClosingMessages,
			nil,
		),
		escalation.NewDetector(stores.Messages, logger, metrics, escalation.Config{
			ClarificationWindow:    cfg.Orchestrator.ClarificationWindow,
			ClarificationThreshold: cfg.Orchestrator.ClarificationThreshold,
		}),
		usage.NewTracker(stores.Conversations, logger),
		logger,
		metrics,
		agent.Config{
			MaxIterations: cfg.Orchestrator.MaxIterations,
			HistoryLimit:  cfg.Orchestrator.HistoryLimit,
			MaxTokens:     cfg.Orchestrator.MaxTokens,
		},
	)

	srv := server.New(server.Config{
		Host:        cfg.Server.Host,
		HTTPPort:    cfg.Server.HTTPPort,
		MetricsPort: cfg.Server.MetricsPort,
	}, orchestrator, stores.Clients, logger, tracer)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	if cfg.Sweep.Enabled {
		sweeper := sweep.NewSweeper(stores.Conversations, contexts, logger, metrics, sweep.Config{
			Schedule: cfg.Sweep.Schedule,
			IdleFor:  cfg.Sweep.IdleFor,
		})
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	<-ctx.Done()
	logger.Info(ctx, "shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "tracer shutdown", "error", err)
	}

	logger.Info(shutdownCtx, "concierge stopped")
	return nil
}
