package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/generation"
	"github.com/phrazzld/contentq/internal/platform/gemini"
	"github.com/phrazzld/contentq/internal/platform/memory"
	"github.com/phrazzld/contentq/internal/platform/migrations"
	"github.com/phrazzld/contentq/internal/platform/natsbus"
	"github.com/phrazzld/contentq/internal/platform/postgres"
	"github.com/phrazzld/contentq/internal/platform/redisbus"
	"github.com/phrazzld/contentq/internal/platform/sqlite"
	"github.com/phrazzld/contentq/internal/queue"
	"github.com/phrazzld/contentq/internal/store"
	"github.com/phrazzld/contentq/internal/task"
)

// wakeupBus is implemented by the redis and nats buses.
type wakeupBus interface {
	events.EventHandler
	Subscribe(ctx context.Context, n task.Notifier) error
	Close() error
}

// application holds the wired dependencies shared by every subcommand.
type application struct {
	config   *config.Config
	logger   *slog.Logger
	store    store.TaskStore
	queue    *queue.Queue
	emitter  *events.InMemoryEventEmitter
	registry *prometheus.Registry

	bus   wakeupBus
	redis *redisbus.Bus
}

// newApplication opens the store, connects the notification bus and builds
// the queue on top of them.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		emitter:  events.NewInMemoryEventEmitter(logger),
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	app.store = s

	if err := app.connectBus(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	app.queue = queue.New(app.store,
		queue.WithLeaseWindow(cfg.Queue.LeaseWindow),
		queue.WithEmitter(app.emitter),
		queue.WithMetrics(queue.NewMetrics(app.registry)),
		queue.WithLogger(logger),
	)
	return app, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store.TaskStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; tasks are lost on exit and are not shared between processes")
		return memory.NewTaskStore(), nil
	case config.DriverSQLite:
		s, err := sqlite.NewTaskStore(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.Info("sqlite store opened", "path", cfg.SQLitePath)
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.NewTaskStore(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		logger.Info("postgres store opened")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// openDB opens the raw database for migrations without applying them.
func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, string, error) {
	cfg.AutoMigrate = false
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg)
		return db, migrations.DialectSQLite, err
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg)
		return db, migrations.DialectPostgres, err
	default:
		return nil, "", fmt.Errorf("driver %q has no schema to migrate", cfg.Driver)
	}
}

func (app *application) connectBus(ctx context.Context) error {
	cfg := app.config.Notify
	switch cfg.Driver {
	case config.NotifyRedis:
		bus, err := redisbus.Connect(ctx, cfg, app.logger)
		if err != nil {
			return err
		}
		app.bus, app.redis = bus, bus
	case config.NotifyNATS:
		bus, err := natsbus.Connect(cfg.NATSURL, cfg.Channel, app.logger)
		if err != nil {
			return err
		}
		app.bus = bus
	default:
		return nil
	}
	app.emitter.RegisterHandler(app.bus)
	return nil
}

// liveness returns the shared heartbeat registry when redis is configured,
// and a process-local one otherwise.
func (app *application) liveness() task.Liveness {
	if app.redis != nil {
		return redisbus.NewLiveness(app.redis.Client())
	}
	return task.NewLocalLiveness(time.Now)
}

func (app *application) generator(ctx context.Context) (generation.Generator, error) {
	gen, err := gemini.NewGenerator(ctx, app.logger, app.config.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	return gen, nil
}

// inlineRunner executes sync-mode tasks on the caller's goroutine, beating
// into the same liveness registry the supervisor reads.
func (app *application) inlineRunner(gen generation.Generator) *task.InlineRunner {
	return task.NewInlineRunner(app.queue, app.executor(gen), app.liveness(), task.InlineConfig{
		HeartbeatTTL: app.config.Queue.HeartbeatTTL,
	}, app.logger)
}

func (app *application) executor(gen generation.Generator) *task.Executor {
	return task.NewExecutor(app.queue, gen, task.ExecutorConfig{
		MaxTextRetries: app.config.LLM.MaxTextRetries,
	}, app.logger)
}

// newRunner builds a runner and subscribes it to wakeups: in-process events
// always, plus the bus when one is configured.
func (app *application) newRunner(ctx context.Context, gen generation.Generator) (*task.Runner, error) {
	qc := app.config.Queue
	runner := task.NewRunner(app.queue, app.executor(gen), app.liveness(), task.RunnerConfig{
		WorkerID:        qc.WorkerID,
		WorkerCount:     qc.WorkerCount,
		BatchSize:       qc.BatchSize,
		PollInterval:    qc.PollInterval,
		MaxPollInterval: qc.MaxPollInterval,
		HeartbeatTTL:    qc.HeartbeatTTL,
	}, app.logger)

	app.emitter.RegisterHandler(task.NewWakeupHandler(runner, app.logger))
	if app.bus != nil {
		if err := app.bus.Subscribe(ctx, runner); err != nil {
			return nil, fmt.Errorf("failed to subscribe to wakeups: %w", err)
		}
	}
	return runner, nil
}

// cleanup releases connections. It is safe to call on a partly built app.
func (app *application) cleanup() {
	var errs []error
	if app.bus != nil {
		errs = append(errs, app.bus.Close())
	}
	if app.store != nil {
		errs = append(errs, app.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Error("cleanup failed", "error", err)
	}
}
