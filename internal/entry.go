// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/otomatty/zedi-sub000/internal/api"
	"github.com/otomatty/zedi-sub000/internal/auth"
	"github.com/otomatty/zedi-sub000/internal/codec"
	"github.com/otomatty/zedi-sub000/internal/content"
	"github.com/otomatty/zedi-sub000/internal/pagesvc"
	"github.com/otomatty/zedi-sub000/internal/sse"
	"github.com/otomatty/zedi-sub000/internal/storage"
	"github.com/otomatty/zedi-sub000/internal/store"
	"github.com/otomatty/zedi-sub000/internal/store/postgres"
	"github.com/otomatty/zedi-sub000/internal/store/sqlite"
	"github.com/otomatty/zedi-sub000/internal/syncsvc"
)

var errConfigRequired = errors.New("config is required")

const (
	// graphThrottle coalesces bursts of pages.synced events per owner.
	graphThrottle = 2 * time.Second
	pendingSweep  = "@every 1h"
)

// Serve starts the sync server with the given options.
func Serve(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("compression", cfg.Content.Compression),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	blobCodec, err := codec.New(cfg.Content.Compression)
	if err != nil {
		return fmt.Errorf("init codec: %w", err)
	}

	verifier, err := newVerifier(ctx, &cfg.Auth, logger)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	defer verifier.Close()

	broker := sse.NewBroker(graphThrottle)
	defer broker.Close()

	handler := api.NewHandler(
		syncsvc.NewService(st, logger, syncsvc.WithPublisher(broker)),
		content.NewService(st, blobCodec, broker, logger),
		pagesvc.NewService(st),
		cfg.Content.MaxBytes,
	)
	deps := api.Deps{
		Handler:  handler,
		Events:   broker.Handler(auth.OwnerFromRequest),
		Verifier: verifier,
		Resolver: auth.NewOwnerResolver(st, cfg.Auth.AutoProvision, logger),
	}
	if cfg.Media.Enabled() {
		if err := os.MkdirAll(cfg.Media.Path, 0o755); err != nil {
			return fmt.Errorf("create media dir: %w", err)
		}
		files, err := storage.NewFS(cfg.Media.Path)
		if err != nil {
			return fmt.Errorf("init media storage: %w", err)
		}
		media := api.NewMediaHandler(files, cfg.Media.BaseURL)
		deps.Media = media

		sweeper := cron.New()
		if err := sweeper.AddFunc(pendingSweep, func() { sweepPending(media, cfg.Media.PendingTTL, logger) }); err != nil {
			return fmt.Errorf("schedule media sweep: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if p, ok := st.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(r.Context()); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	r.Mount("/api", api.NewRouter(deps))

	// CORS wraps everything so pre-flight requests never reach auth.
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           corsHandler.Handler(r),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

func sweepPending(media *api.MediaHandler, ttl time.Duration, logger *slog.Logger) {
	n, err := media.ExpirePending(ttl)
	if err != nil {
		logger.Error("media sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		logger.Info("expired pending media", slog.Int("count", n))
	}
}

// openStore opens the configured server store.
func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case StoreDriverPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return db, nil
	default:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		return db, nil
	}
}

func newVerifier(ctx context.Context, cfg *AuthConfig, logger *slog.Logger) (auth.Verifier, error) {
	if cfg.Mode == AuthModeJWKS {
		return auth.NewJWKSVerifier(ctx, cfg.JWKSURL, auth.JWTOptions{
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
		}, logger)
	}
	return auth.StaticVerifier{Token: cfg.Token, Subject: cfg.Subject}, nil
}

// waitForShutdown blocks until SIGINT/SIGTERM or ctx is done.
func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}
