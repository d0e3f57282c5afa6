package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/otomatty/zedi-sub000/internal/codec"
	"github.com/otomatty/zedi-sub000/internal/mcpserver"
	"github.com/otomatty/zedi-sub000/internal/mirror"
	"github.com/otomatty/zedi-sub000/internal/storage"
	"github.com/otomatty/zedi-sub000/internal/store/sqlite"
	"github.com/otomatty/zedi-sub000/internal/syncclient"
	"github.com/otomatty/zedi-sub000/internal/vault"
)

var errNoServer = errors.New("sync: server_url is not configured")

// localMirror is an opened Local Mirror with its optional sync engine.
type localMirror struct {
	db      *sqlite.DB
	session *mirror.Session
	engine  *syncclient.Engine
}

func (m *localMirror) Close() error {
	return m.db.Close()
}

// openMirror opens the Local Mirror database. With a sync server configured
// the session runs in remote mode backed by the sync engine.
func openMirror(ctx context.Context, cfg *Config, logger *slog.Logger) (*localMirror, error) {
	if cfg.SQLite.MirrorPath == "" {
		return nil, errors.New("sqlite: mirror_path is required")
	}
	db, err := sqlite.Open(cfg.SQLite.MirrorPath)
	if err != nil {
		return nil, fmt.Errorf("init mirror: %w", err)
	}
	m := &localMirror{db: db}

	opts := mirror.Options{Logger: logger}
	if cfg.Sync.Remote() {
		if err := cfg.Sync.Validate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("sync: %w", err)
		}
		blobCodec, err := codec.New(cfg.Content.Compression)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init codec: %w", err)
		}
		remote := syncclient.NewClient(cfg.Sync.ServerURL, cfg.Sync.Token, nil)
		m.engine = syncclient.NewEngine(remote, db, logger,
			syncclient.WithOverlap(cfg.Sync.Overlap),
			syncclient.WithContentWorkers(cfg.Sync.ContentWorkers),
			syncclient.WithCodec(blobCodec),
		)
		opts.Syncer = m.engine
		opts.Saver = syncclient.NewContentSaver(remote, db, logger, syncclient.WithSaverCodec(blobCodec))
	}

	m.session, err = mirror.Open(ctx, db, opts)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	logger.Info("Local Mirror opened",
		slog.String("path", cfg.SQLite.MirrorPath),
		slog.String("mode", string(m.session.Mode())),
		slog.String("owner_id", m.session.OwnerID()))
	return m, nil
}

// runScheduler runs the sync engine, when there is one, until ctx is done.
func (m *localMirror) runScheduler(ctx context.Context, schedule string) error {
	if m.engine == nil {
		<-ctx.Done()
		return nil
	}
	return m.engine.Run(ctx, schedule)
}

// RunSync runs the client sync daemon: push-then-pull rounds on the
// configured schedule until interrupted.
func RunSync(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()
	if !cfg.Sync.Remote() {
		return errNoServer
	}

	m, err := openMirror(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.runScheduler(gCtx, cfg.Sync.Schedule)
	})
	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("Sync daemon error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Sync daemon stopped")
	return nil
}

// RunMCP serves the MCP tools over stdin/stdout against the Local Mirror,
// syncing in the background when a server is configured.
func RunMCP(ctx context.Context, version string, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	m, err := openMirror(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.runScheduler(gCtx, cfg.Sync.Schedule)
	})
	g.Go(func() error {
		// ServeStdio returns when stdin closes or on SIGINT/SIGTERM.
		defer cancel()
		return mcpserver.New(m.session, version).ServeStdio()
	})
	return g.Wait()
}

// RunImport imports the Markdown vault into the Local Mirror, then keeps
// watching it when vault.watch is set.
func RunImport(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()
	if err := cfg.Vault.Validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	m, err := openMirror(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	files, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init vault storage: %w", err)
	}
	im := vault.NewImporter(m.session, files, m.db, logger, func(kind, path string) {
		logger.Debug("vault change", slog.String("kind", kind), slog.String("path", path))
	})

	stats, err := im.Sync(ctx)
	if err != nil {
		return fmt.Errorf("import vault: %w", err)
	}
	if !cfg.Vault.Watch {
		if stats.Failed > 0 {
			return fmt.Errorf("import vault: %d files failed", stats.Failed)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return im.Watch(gCtx, cfg.Vault.Path)
	})
	g.Go(func() error {
		return m.runScheduler(gCtx, cfg.Sync.Schedule)
	})
	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		cancel()
		return nil
	})
	return g.Wait()
}
