// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notetree/internal/api"
	"github.com/starford/notetree/internal/mcpserver"
	"github.com/starford/notetree/internal/render"
	"github.com/starford/notetree/internal/sse"
	"github.com/starford/notetree/internal/storage"
	"github.com/starford/notetree/internal/workspace"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openWorkspace opens the configured store and loads every note into a new
// workspace. The returned cleanup closes both.
func openWorkspace(ctx context.Context, cfg *Config, notifier workspace.Notifier, logger *slog.Logger) (*workspace.Workspace, storage.Provider, func(), error) {
	store, err := storage.Open(cfg.Store.Driver, cfg.Store.Path, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init store: %w", err)
	}

	ws := workspace.New(store, workspace.Options{
		AutoSave: cfg.AutoSave.Options(),
		Notifier: notifier,
		Logger:   logger,
	})
	cleanup := func() {
		if st := ws.Status(); st.Dirty {
			logger.Warn("Discarding unsaved changes", slog.String("id", st.ActiveID))
		}
		ws.Close()
		if err := store.Close(); err != nil {
			logger.Error("Store close error", slog.String("error", err.Error()))
		}
	}

	if err := ws.Load(ctx); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("load notes: %w", err)
	}
	return ws, store, cleanup, nil
}

// watchStore reloads the workspace when a file-backed store is edited by
// another program. It is a no-op for other drivers or when watching is off.
func watchStore(ctx context.Context, cfg *Config, store storage.Provider, ws *workspace.Workspace, logger *slog.Logger) error {
	fsStore, ok := store.(*storage.FS)
	if !ok || !cfg.Store.Watch {
		return nil
	}
	return fsStore.Watch(ctx, logger, storage.DefaultDebounce, func() {
		ws.ExternalChange(ctx)
	})
}

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("store_path", cfg.Store.Path),
		slog.Bool("store_watch", cfg.Store.Watch),
		slog.Int("autosave_delay", cfg.AutoSave.Delay),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(cfg.SSE.Throttle)
	defer broker.Close()

	ws, store, cleanup, err := openWorkspace(ctx, cfg, broker, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	apiRouter := api.NewRouter(ws, render.New(), cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watchStore(gCtx, cfg, store, ws, logger)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// SSE streams only end when the broker closes.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the workspace as MCP tools on stdin/stdout. Logs go to stderr
// so they do not corrupt the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stderr)

	ws, store, cleanup, err := openWorkspace(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := watchStore(watchCtx, cfg, store, ws, logger); err != nil {
			logger.Warn("watcher failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("MCP server starting on stdio",
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("store_path", cfg.Store.Path))

	return mcpserver.New(ws, app.version).ServeStdio()
}
