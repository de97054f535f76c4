package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/kartikbazzad/bunbase/collab/internal/ai"
	"github.com/kartikbazzad/bunbase/collab/internal/auth"
	"github.com/kartikbazzad/bunbase/collab/internal/bus"
	"github.com/kartikbazzad/bunbase/collab/internal/config"
	"github.com/kartikbazzad/bunbase/collab/internal/database"
	"github.com/kartikbazzad/bunbase/collab/internal/handlers"
	"github.com/kartikbazzad/bunbase/collab/internal/runner"
	"github.com/kartikbazzad/bunbase/collab/internal/sandbox"
	"github.com/kartikbazzad/bunbase/collab/internal/services"
	"github.com/kartikbazzad/bunbase/collab/internal/session"
	"github.com/kartikbazzad/bunbase/collab/internal/storage"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
	"github.com/kartikbazzad/bunbase/collab/pkg/logger"
)

func main() {
	configPath := flag.String("config", ".env", "Config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log)

	if err := run(cfg); err != nil {
		logger.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemory(), func() {}, nil
	case "postgres", "":
		db, err := database.NewDB(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return store.NewPostgres(db.Pool), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func newGenerator(ctx context.Context, cfg config.AIConfig) ai.Generator {
	if cfg.APIKey == "" {
		logger.Warn("No AI API key configured; @ai mentions will get the apology reply")
		return ai.Unavailable{}
	}
	gen, err := ai.NewGenAIGenerator(ctx, ai.GenAIConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		logger.Error("Failed to create AI generator", "error", err)
		return ai.Unavailable{}
	}
	return gen
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	jwt := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	projectService := services.NewProjectService(st)
	registry := bus.NewRegistry(st, cfg.Server.AppendTimeout, logger.Component("bus"))

	adapter := ai.NewAdapter(newGenerator(ctx, cfg.AI), projectService, registry, cfg.AI.Timeout, logger.Component("ai"))
	dispatcher, err := ai.NewDispatcher(adapter, cfg.AI.Workers, logger.Component("ai"))
	if err != nil {
		return fmt.Errorf("failed to create AI dispatcher: %w", err)
	}

	snapshots, err := storage.NewSnapshots(storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UseSSL:          cfg.Storage.UseSSL,
		Bucket:          cfg.Storage.Bucket,
		URLExpiry:       cfg.Storage.URLExpiry,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize snapshot storage: %w", err)
	}
	if !snapshots.Enabled() {
		logger.Info("Snapshot storage disabled (no endpoint configured)")
	}

	sandboxes := sandbox.NewLocalProvider(sandbox.LocalConfig{
		WorkDir:       cfg.Runner.WorkDir,
		PreviewHost:   cfg.Runner.PreviewHost,
		ReadyTimeout:  cfg.Runner.ReadyTimeout,
		ProbeInterval: cfg.Runner.ProbeInterval,
	}, logger.Component("sandbox"))

	hub := session.NewHub(
		session.NewGateway(jwt, projectService, logger.Component("gateway")),
		registry, st, dispatcher, sandboxes,
		session.Config{
			SendBuffer:  cfg.Server.SendBuffer,
			BacklogSize: cfg.Server.BacklogSize,
			CORSOrigin:  cfg.Server.CORSOrigin,
			Runner: runner.Config{
				Install: cfg.Runner.InstallCommand,
				Start:   cfg.Runner.StartCommand,
			},
		},
		logger.Component("session"),
	)

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.Deps{
		Auth:       auth.NewService(st, jwt),
		Verifier:   jwt,
		Projects:   projectService,
		Messages:   st,
		Snapshots:  snapshots,
		Rooms:      registry,
		WebSocket:  hub.HandleWebSocket,
		CORSOrigin: cfg.Server.CORSOrigin,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Collab server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// Hijacked websocket connections are not covered by Shutdown.
		hub.Shutdown()
		dispatcher.Close()
		logger.Info("Server stopped", slog.Int("rooms", registry.Rooms()))
		return err
	})
	return g.Wait()
}
