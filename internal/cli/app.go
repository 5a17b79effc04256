// Package cli assembles a callpath engine from configuration for the commands
// under cmd/.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/callpath"
	"github.com/aretw0/callpath/internal/compiler"
	"github.com/aretw0/callpath/internal/config"
	loamAdapter "github.com/aretw0/callpath/pkg/adapters/loam"
	"github.com/aretw0/callpath/pkg/adapters/memory"
	"github.com/aretw0/callpath/pkg/adapters/process"
	"github.com/aretw0/callpath/pkg/adapters/redis"
	"github.com/aretw0/callpath/pkg/adapters/sqlite"
	"github.com/aretw0/callpath/pkg/adapters/worker"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/observability"
	"github.com/aretw0/callpath/pkg/persistence/middleware"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/aretw0/callpath/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
)

// App bundles an engine with the resources backing it.
type App struct {
	Config   *config.Config
	Engine   *callpath.Engine
	Store    ports.Store
	Registry *registry.Registry
	Metrics  *prometheus.Registry
	Pool     *worker.Pool
	Logger   *slog.Logger

	closers []io.Closer
}

// Options tune Open beyond the configuration file.
type Options struct {
	// Hooks are added to the logging and metrics hooks.
	Hooks []domain.LifecycleHooks
	// Async starts a worker pool and enables the async entry points.
	Async bool
	// Library lets callers add Go steps before pipelines are parsed.
	Library *registry.Library
}

// Open builds the store, loads the pipelines and creates the engine.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Metrics: prometheus.NewRegistry()}

	store, err := app.openStore()
	if err != nil {
		return nil, err
	}
	active, fallback, err := cfg.Keys()
	if err != nil {
		app.Close()
		return nil, err
	}
	if active != nil {
		store = middleware.Chain(store, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	app.Store = store

	reg, err := loadPipelines(ctx, cfg, opts.Library, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Registry = reg

	hooks := append([]domain.LifecycleHooks{
		observability.LogHooks(logger),
		observability.NewMetrics(app.Metrics).Hooks(),
	}, opts.Hooks...)
	engineOpts := []callpath.Option{
		callpath.WithLogger(logger),
		callpath.WithLifecycleHooks(observability.Combine(hooks...)),
	}

	if opts.Async {
		app.Pool = worker.NewPool(
			worker.WithPoolConcurrency(cfg.Workers),
			worker.WithLogger(logger),
		)
		if err := app.Pool.Start(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("start worker pool: %w", err)
		}
		engineOpts = append(engineOpts, callpath.WithDispatcher(app.Pool))
	}

	eng, err := callpath.New(store, reg, engineOpts...)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	app.Engine = eng
	return app, nil
}

func (a *App) openStore() (ports.Store, error) {
	sc := a.Config.Store
	switch sc.Driver {
	case "memory":
		a.Logger.Warn("using the memory store: nothing survives this process")
		return memory.NewStore(), nil
	case "sqlite":
		if dir := filepath.Dir(sc.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		s, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, nil
	case "redis":
		var opts []redis.Option
		if sc.Prefix != "" {
			opts = append(opts, redis.WithPrefix(sc.Prefix))
		}
		s := redis.New(sc.Addr, sc.Password, sc.DB, opts...)
		a.closers = append(a.closers, s)
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

// loadPipelines parses the definitions directory with the builtin steps plus
// the exec step bound to the configured commands.
func loadPipelines(ctx context.Context, cfg *config.Config, lib *registry.Library, logger *slog.Logger) (*registry.Registry, error) {
	if lib == nil {
		lib = registry.NewLibrary()
	}
	commands, err := process.LoadCommands(cfg.Commands)
	if err != nil {
		return nil, err
	}
	process.NewRunner(
		process.WithRegistry(commands),
		process.WithBaseDir(filepath.Dir(cfg.Commands)),
	).Install(lib)

	reg := registry.New()
	if cfg.Definitions != "" {
		parser := compiler.NewParser(lib)
		var err error
		if cfg.DefinitionsSource == "loam" {
			err = loadDocuments(ctx, parser, reg, cfg.Definitions)
		} else {
			err = parser.LoadInto(reg, cfg.Definitions)
		}
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("pipelines directory not found", "dir", cfg.Definitions)
		} else if err != nil {
			return nil, err
		}
	}
	reg.Freeze()
	logger.Debug("pipelines loaded", "count", len(reg.Names()), "commands", len(commands))
	return reg, nil
}

func loadDocuments(ctx context.Context, parser *compiler.Parser, reg *registry.Registry, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	loader, err := loamAdapter.Open(dir, parser)
	if err != nil {
		return err
	}
	return loader.LoadInto(ctx, reg)
}

// Close stops the worker pool and releases the store.
func (a *App) Close() error {
	var errs []error
	if a.Pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.Pool.Stop(ctx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// Redacted returns a read view of the store masking payload keys matching the
// configured patterns, or the store itself when none are configured.
func (a *App) Redacted(extra ...string) ports.Store {
	patterns := append(append([]string(nil), a.Config.Redact...), extra...)
	if len(patterns) == 0 {
		return a.Store
	}
	return middleware.Chain(a.Store, middleware.NewPIIMiddleware(patterns))
}
