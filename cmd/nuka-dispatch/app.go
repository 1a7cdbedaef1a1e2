package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/nidhogg/nuka-dispatch/internal/bus"
	"github.com/nidhogg/nuka-dispatch/internal/capability"
	"github.com/nidhogg/nuka-dispatch/internal/config"
	"github.com/nidhogg/nuka-dispatch/internal/metrics"
	"github.com/nidhogg/nuka-dispatch/internal/orchestrator"
	pgstore "github.com/nidhogg/nuka-dispatch/internal/store"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"github.com/nidhogg/nuka-dispatch/internal/workflow"
	"go.uber.org/zap"
)

// app is the wired process: configuration, directory, orchestrator and
// whichever optional backends were reachable.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	workflows *workflow.StaticSource
	dir       *worker.Directory
	counters  *metrics.Memory
	orch      *orchestrator.Orchestrator

	bus       *bus.MessageBus
	redisSink *metrics.RedisSink
	store     *pgstore.Store
}

// loadConfig reads the config file, falling back to defaults when the
// default path doesn't exist.
func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == config.DefaultPath {
			return config.Default(), path, nil
		}
		return nil, path, err
	}
	return cfg, path, nil
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newApp builds the process. With backends false, Redis and PostgreSQL
// are not contacted even when configured.
func newApp(ctx context.Context, backends bool) (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Server.LogLevel)
	logger.Info("Config loaded", zap.String("path", path))

	catalog, err := capability.LoadFile(cfg.CapabilitiesFile)
	if err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}
	workflows, err := workflow.LoadFile(cfg.WorkflowsFile)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		workflows: workflows,
		dir:       worker.NewDirectory(catalog, logger),
		counters:  metrics.NewMemory(),
	}
	sinks := metrics.Multi{a.counters, metrics.NewLogSink(logger)}

	if backends && cfg.Database.Redis.URL != "" {
		mb, err := bus.Connect(ctx, cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without remote workers", zap.Error(err))
		} else {
			a.bus = mb
			a.redisSink = metrics.NewRedisSink(mb.Client(), 1024, logger)
			sinks = append(sinks, a.redisSink)
			a.dir.RegisterTemplate("remote", mb.Template())
		}
	}

	if backends && cfg.Database.Postgres.DSN != "" {
		ps, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without archive", zap.Error(err))
		} else {
			if err := ps.Migrate(ctx, cfg.MigrationsDir); err != nil {
				ps.Close()
				a.close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			a.store = ps
		}
	}

	a.orch = orchestrator.New(a.dir, workflows, sinks, orchestrator.Config{
		PoolSize:       cfg.Orchestrator.PoolSize,
		ExecuteTimeout: cfg.Orchestrator.ExecuteTimeout.Std(),
	}, logger)
	if a.store != nil {
		a.orch.SetArchiver(a.store)
	}

	if err := a.registerWorkers(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// registerWorkers instantiates the configured workers. A worker whose
// template isn't available, such as remote without Redis, is skipped.
func (a *app) registerWorkers() error {
	for i, wc := range a.cfg.Workers {
		w, err := a.dir.Instantiate(wc.Template, worker.TemplateArgs{
			ID:             wc.ID,
			Name:           wc.Name,
			Type:           wc.Type,
			OrganizationID: wc.OrganizationID,
			WorkflowID:     wc.WorkflowID,
			PhaseID:        wc.PhaseID,
			Capabilities:   wc.Capabilities,
			MaxConcurrent:  wc.MaxConcurrent,
			Config:         wc.Config,
		})
		if errors.Is(err, worker.ErrUnknownTemplate) {
			a.logger.Warn("skipping worker with unavailable template",
				zap.Int("index", i),
				zap.String("template", wc.Template))
			continue
		}
		if err != nil {
			return fmt.Errorf("workers[%d]: %w", i, err)
		}
		a.dir.Register(w)
	}
	a.logger.Info("Workers registered", zap.Int("count", len(a.dir.All())))
	return nil
}

func (a *app) close() {
	if a.redisSink != nil {
		a.redisSink.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}
