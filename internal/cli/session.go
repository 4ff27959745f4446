package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/invoicegate/internal/config"
	"github.com/randalmurphal/invoicegate/internal/db"
	"github.com/randalmurphal/invoicegate/internal/db/driver"
	"github.com/randalmurphal/invoicegate/internal/events"
	"github.com/randalmurphal/invoicegate/internal/executor"
)

// session holds everything a command needs to talk to the store.
type session struct {
	cfg       *config.Config
	db        *db.DB
	rt        *executor.Runtime
	publisher events.Publisher
	redis     *redis.Client
}

// sessionOptions controls how a session is opened.
type sessionOptions struct {
	// progress prints engine events to stderr.
	progress bool
}

// openSession loads config, opens the store, and assembles the runtime.
func openSession(ctx context.Context, cmd *cobra.Command, opts sessionOptions) (*session, error) {
	tc, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg := tc.Config
	logger := slog.Default()

	def, err := config.LoadWorkflow(cfg.WorkflowPath)
	if err != nil {
		return nil, err
	}
	pools, err := config.LoadToolPools(cfg.ToolsPath)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, db: store}

	local := events.NewMemoryPublisher()
	s.publisher = local
	if cfg.Events.RedisURL != "" {
		client, err := events.DialRedis(ctx, cfg.Events.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		rp := events.NewRedisPublisher(client,
			events.WithRedisPrefix(cfg.Events.Prefix),
			events.WithRedisLogger(logger),
			events.WithLocalPublisher(local),
		)
		if err := rp.Start(ctx); err != nil {
			_ = client.Close()
			s.Close()
			return nil, err
		}
		s.redis = client
		s.publisher = rp
	}
	if opts.progress && !quiet && !jsonOut {
		s.publisher = events.NewCLIPublisher(cmd.ErrOrStderr(),
			events.WithInnerPublisher(s.publisher),
			events.WithStreamMode(verbose),
		)
	}

	rt, err := executor.Assemble(executor.Components{
		DB:         store,
		Definition: def,
		Pools:      pools,
		Seed:       cfg.ToolSeed,
		AppURL:     cfg.AppURL,
		Publisher:  s.publisher,
		Logger:     logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.rt = rt
	return s, nil
}

// openStore opens and migrates the configured database.
func openStore(cfg config.DatabaseConfig) (*db.DB, error) {
	dialect, err := driver.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.Path
	if dialect == driver.DialectPostgres {
		dsn = cfg.DSN
	}
	store, err := db.OpenStore(dsn, dialect)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// Close releases the publisher, Redis client, and database.
func (s *session) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// setupLogger installs the default slog logger for the CLI.
func setupLogger(w io.Writer) {
	level := slog.LevelWarn
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if jsonOut {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
