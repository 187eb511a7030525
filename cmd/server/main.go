package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/BridgeIntake/internal/artifact"
	"github.com/JonMunkholm/BridgeIntake/internal/config"
	"github.com/JonMunkholm/BridgeIntake/internal/core"
	"github.com/JonMunkholm/BridgeIntake/internal/logging"
	"github.com/JonMunkholm/BridgeIntake/internal/notify"
	"github.com/JonMunkholm/BridgeIntake/internal/progress"
	"github.com/JonMunkholm/BridgeIntake/internal/report"
	"github.com/JonMunkholm/BridgeIntake/internal/rules"
	"github.com/JonMunkholm/BridgeIntake/internal/storage/memstore"
	"github.com/JonMunkholm/BridgeIntake/internal/storage/postgres"
	"github.com/JonMunkholm/BridgeIntake/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	artifacts, err := openArtifacts(cfg)
	if err != nil {
		slog.Error("failed to open artifact store", "driver", cfg.Artifacts.Driver, "error", err)
		os.Exit(1)
	}

	chunks, err := core.NewChunkAssembler(cfg.Upload.ChunkDir, cfg.Upload.MaxChunkSize)
	if err != nil {
		slog.Error("failed to prepare chunk directory", "error", err)
		os.Exit(1)
	}

	classifier, err := rules.LoadSeverityFile(cfg.Validation.SeverityFile)
	if err != nil {
		slog.Error("failed to load severity file", "path", cfg.Validation.SeverityFile, "error", err)
		os.Exit(1)
	}

	deps := core.Deps{
		Store:      store,
		Chunks:     chunks,
		Artifacts:  artifacts,
		Rules:      ruleEvaluator(cfg),
		Classifier: classifier,
		Renderer:   report.Workbook{},
		Notifier:   notify.Log{},
	}
	if cfg.Notify.WebhookURL != "" {
		deps.Notifier = notify.NewWebhook(notify.WebhookConfig{
			URL:        cfg.Notify.WebhookURL,
			Timeout:    cfg.Notify.Timeout,
			RetryCount: cfg.Notify.RetryCount,
		})
		slog.Info("webhook notifications enabled")
	}

	var publisher *progress.Publisher
	if cfg.Redis.Enabled {
		publisher, err = progress.NewPublisher(ctx, progress.Options{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		deps.Progress = publisher
		slog.Info("progress publishing enabled", "addr", cfg.Redis.Addr)
	}

	service, err := core.NewService(deps, cfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartJanitor(jobCtx, core.JanitorConfig{
		MaxUploadAge:  cfg.Janitor.MaxUploadAge,
		CheckInterval: cfg.Janitor.CheckInterval,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Let running pipelines finish before closing the store under them.
		limiter := service.Limiter()
		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for pipelines to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("pipelines did not complete in time", "error", err)
			} else {
				slog.Info("all pipelines completed")
			}
		}

		if publisher != nil {
			if err := publisher.Close(); err != nil {
				slog.Warn("close progress publisher", "error", err)
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-stopped
	slog.Info("server stopped")
}

// openStore connects the configured submission store.
func openStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		slog.Warn("using in-memory store; submissions are lost on restart")
		return memstore.New(), func() {}, nil
	default:
		pg, err := postgres.Open(ctx, postgres.PoolConfig{
			URL:             cfg.Database.URL,
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		return pg, pg.Close, nil
	}
}

func openArtifacts(cfg *config.Config) (core.ArtifactStore, error) {
	if cfg.Artifacts.Driver == "s3" {
		slog.Info("artifacts stored in s3", "bucket", cfg.Artifacts.S3Bucket, "endpoint", cfg.Artifacts.S3Endpoint)
		return artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Artifacts.S3Endpoint,
			Region:    cfg.Artifacts.S3Region,
			Bucket:    cfg.Artifacts.S3Bucket,
			AccessKey: cfg.Artifacts.S3AccessKey,
			SecretKey: cfg.Artifacts.S3SecretKey,
			UseSSL:    cfg.Artifacts.S3UseSSL,
		})
	}
	slog.Info("artifacts stored on disk", "dir", cfg.Artifacts.Dir)
	return artifact.NewFileStore(cfg.Artifacts.Dir)
}

// ruleEvaluator runs the built-in structural rules, followed by the remote
// engine when one is configured.
func ruleEvaluator(cfg *config.Config) core.RuleEvaluator {
	if cfg.Rules.RemoteURL == "" {
		return rules.NewBuiltin()
	}
	slog.Info("remote rule engine enabled", "url", cfg.Rules.RemoteURL)
	return rules.Chain{
		rules.NewBuiltin(),
		rules.NewRemote(rules.RemoteConfig{
			BaseURL:    cfg.Rules.RemoteURL,
			Timeout:    cfg.Rules.Timeout,
			RetryCount: cfg.Rules.RetryCount,
			APIKey:     cfg.Rules.APIKey,
		}),
	}
}
