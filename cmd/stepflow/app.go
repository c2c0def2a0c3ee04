package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rendis/stepflow/internal/bundle"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/filter"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/steps"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/tester"
	"github.com/rendis/stepflow/internal/tracer"
	"github.com/rendis/stepflow/internal/validation"
)

// app is the wired set of components every command works with.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     store.Store
	registry  *registry.Registry
	validator *validation.RevisionValidator
	executor  *engine.Executor
	tester    *tester.Tester
	importer  *bundle.Importer
}

func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(level, cfg.LogFormat, logOut)
	if err != nil {
		return nil, err
	}

	reg, engines, err := defaultRegistry(logger)
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewRevisionValidator(reg)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	exec := engine.NewExecutor(st, reg, newTracer(cfg.Tracer, st, logger), engine.ExecutorConfig{
		MaxSteps: cfg.MaxSteps,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		registry:  reg,
		validator: validator,
		executor:  exec,
		tester: tester.New(exec, filter.NewStoreProvider(st, engines), tester.Config{
			Concurrency: cfg.TestConcurrency,
			Types:       reg,
			Sink:        st,
			Logger:      logger,
		}),
		importer: bundle.NewImporter(st, validator, logger),
	}, nil
}

func openStore(ctx context.Context, dbPath string) (store.Store, error) {
	if dbPath == memoryDB {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(dbPath), err)
	}
	s, err := store.NewLibSQLStore("file:" + dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return s, nil
}

func newTracer(kind string, st store.Store, logger *slog.Logger) tracer.Tracer {
	switch kind {
	case tracerLog:
		return tracer.NewLogTracer(logger)
	case tracerAll:
		return tracer.MultiTracer{tracer.NewStoreTracer(st), tracer.NewLogTracer(logger)}
	case tracerNone:
		return tracer.NopTracer{}
	default:
		return tracer.NewStoreTracer(st)
	}
}

func (a *app) Close() error {
	a.executor.Shutdown()
	return a.store.Close()
}

var (
	builtinsOnce    sync.Once
	builtinsEngines *expressions.Engines
	builtinsErr     error
)

// defaultRegistry fills the process-wide registry with the built-in types on
// first use. Later calls return the same registry and engines.
func defaultRegistry(logger *slog.Logger) (*registry.Registry, *expressions.Engines, error) {
	builtinsOnce.Do(func() {
		engines, err := expressions.NewEngines()
		if err != nil {
			builtinsErr = fmt.Errorf("expression engines: %w", err)
			return
		}
		builtinsEngines = engines
		builtinsErr = steps.RegisterBuiltins(registry.Default(), steps.Config{Engines: engines, Logger: logger})
	})
	return registry.Default(), builtinsEngines, builtinsErr
}
