// jobmeshd runs the job search assistant service: the pipeline
// orchestrator and session manager behind a health endpoint, with the
// staleness sweeper on its recurring schedule. Backends are selected from
// the environment: Redis for the posting cache, Postgres for the vector
// index and durable runs, in-memory fallbacks otherwise.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobmesh/jobmesh"
	"github.com/jobmesh/jobmesh/config"
	"github.com/jobmesh/jobmesh/connector"
	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/index/pg"
	"github.com/jobmesh/jobmesh/jobstore/redis"
	"github.com/jobmesh/jobmesh/logging"
	openaiembed "github.com/jobmesh/jobmesh/match/openai"
	"github.com/jobmesh/jobmesh/model"
	anthropicmodel "github.com/jobmesh/jobmesh/model/anthropic"
	openaimodel "github.com/jobmesh/jobmesh/model/openai"
	pipelinepg "github.com/jobmesh/jobmesh/pipeline/pg"
)

func main() {
	logger := logging.NewLogger(logging.DefaultLoggerConfig()).WithComponent("jobmeshd")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mesh, err := buildMesh(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := mesh.StartSweeper(ctx); err != nil {
		logger.Error("sweeper start failed", "error", err)
		os.Exit(1)
	}

	// Suspended runs whose decision never arrived are collected in the
	// background, independent of any session.
	go gcLoop(ctx, mesh, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newMux(mesh),
	}
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	mesh.Shutdown()
}

func buildMesh(ctx context.Context, cfg *config.Config, logger *logging.JobMeshLogger) (*jobmesh.JobMesh, error) {
	var optFns []func(o *jobmesh.Options)
	optFns = append(optFns, func(o *jobmesh.Options) {
		o.Logger = logger
		o.SweepInterval = cfg.SweepInterval
		o.Retention = cfg.Retention
		o.SessionQueueSize = cfg.SessionQueueSize
		o.ReconnectGrace = cfg.ReconnectGrace
		o.InactivityTimeout = cfg.InactivityTimeout
	})

	if cfg.RedisURL != "" {
		store, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis job store: %w", err)
		}
		optFns = append(optFns, func(o *jobmesh.Options) { o.JobStore = store })
		logger.Info("using redis job store")
	}

	if cfg.DatabaseURL != "" {
		idx, err := pg.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgvector index: %w", err)
		}
		runs, err := pipelinepg.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres run store: %w", err)
		}
		optFns = append(optFns, func(o *jobmesh.Options) {
			o.Index = idx
			o.RunStore = runs
		})
		logger.Info("using postgres index and run store")
	}

	var connectors []core.Connector
	if cfg.BoardAPIURL != "" {
		connectors = append(connectors, connector.NewBoardConnector(cfg.BoardAPIURL, cfg.BoardAppID, cfg.BoardAppKey))
	}
	if cfg.FeedURL != "" {
		connectors = append(connectors, connector.NewFeedConnector(cfg.FeedURL))
	}
	if len(connectors) > 0 {
		optFns = append(optFns, func(o *jobmesh.Options) { o.Connectors = connectors })
	}

	if cfg.OpenAIAPIKey != "" {
		embedder := openaiembed.NewEmbedder(func(o *openaiembed.Options) {
			o.APIKey = cfg.OpenAIAPIKey
		})
		optFns = append(optFns, func(o *jobmesh.Options) { o.Embedder = embedder })
	}

	if rewriter := buildRewriter(cfg); rewriter != nil {
		optFns = append(optFns, func(o *jobmesh.Options) { o.Rewriter = rewriter })
	}

	return jobmesh.New(optFns...)
}

func buildRewriter(cfg *config.Config) model.Model {
	switch cfg.RewriteProvider {
	case "openai":
		return openaimodel.NewModel()
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.APIKey = cfg.AnthropicAPIKey
		})
	default:
		return nil
	}
}

func newMux(mesh *jobmesh.JobMesh) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := mesh.SweeperHealth()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"service":       "jobmeshd",
			"sweep_last_at": health.LastRunAt,
			"sweep_running": health.Running,
		})
	})
	return mux
}

func gcLoop(ctx context.Context, mesh *jobmesh.JobMesh, logger *logging.JobMeshLogger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collected, err := mesh.GCSuspended(context.Background())
			if err != nil {
				logger.Warn("suspended run gc failed", "error", err)
				continue
			}
			if collected > 0 {
				logger.Info("collected abandoned runs", "count", collected)
			}
		}
	}
}
