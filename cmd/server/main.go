package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-learn/internal/generation"
	"github.com/p-n-ai/pai-learn/internal/outline"
	"github.com/p-n-ai/pai-learn/internal/platform/cache"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	manager, cleanup, err := buildManager(ctx, cfg)
	if err != nil {
		slog.Error("failed to build progression core", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	api := &api{manager: manager, defaultSequential: cfg.DefaultSequentialUnlock}
	mux := newMux(api)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "offline", cfg.Offline())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// buildManager wires stores and service clients per configuration:
// Postgres or memory for durability, redis snapshots when configured,
// real backend clients or fixture-backed offline mode.
func buildManager(ctx context.Context, cfg *config.Config) (*progress.Manager, func(), error) {
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var store progress.CourseStore = progress.NewMemoryStore()
	var events progress.EventLogger = progress.NopEventLogger{}

	if cfg.Database.URL != "" {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to database: %w", err)
		}
		cleanups = append(cleanups, db.Close)

		if err := db.ExecSchema(ctx, progress.Schema()); err != nil {
			return nil, cleanup, err
		}

		pgStore, err := progress.NewPostgresStore(db.Pool)
		if err != nil {
			return nil, cleanup, err
		}
		store = pgStore
		events = progress.NewPostgresEventLogger(db.Pool)
	}

	var snapshots *progress.SnapshotCache
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to cache: %w", err)
		}
		cleanups = append(cleanups, func() { _ = c.Close() })
		snapshots = progress.NewSnapshotCache(c.Client, time.Duration(cfg.Cache.SnapshotTTLMin)*time.Minute)
	}

	var curriculum service.Curriculum
	var progressSvc service.Progress
	if cfg.Offline() {
		loader, err := outline.NewLoader(cfg.FixturesPath)
		if err != nil {
			return nil, cleanup, fmt.Errorf("loading fixtures: %w", err)
		}
		curriculum = &service.FixtureCurriculum{Loader: loader}
		progressSvc = service.NopProgress{}
	} else {
		client := service.NewClient(cfg.Backend.BaseURL)
		curriculum = client
		progressSvc = client
	}

	manager := progress.NewManager(progress.ManagerConfig{
		Store:             store,
		Snapshots:         snapshots,
		Curriculum:        curriculum,
		Progress:          progressSvc,
		Events:            events,
		GenerationTimeout: time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
	})

	if cfg.Backend.UpdateFeedURL != "" {
		// Session-level coordinators receive pushed updates through the
		// manager; the subscriber reconnects until shutdown.
		go runFeed(ctx, cfg.Backend.UpdateFeedURL, manager)
	}

	return manager, cleanup, nil
}

// runFeed consumes the backend's block update feed, routing each update
// to the owning course's coordinator.
func runFeed(ctx context.Context, url string, manager *progress.Manager) {
	sub := generation.NewFeed(url, func(update generation.BlockUpdate) {
		if err := manager.ApplyPushedBlocks(ctx, update); err != nil {
			slog.Warn("failed to apply pushed blocks",
				"course_id", update.CourseID,
				"lesson_id", update.LessonID,
				"error", err,
			)
		}
	})
	sub.Run(ctx)
}
