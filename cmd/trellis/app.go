package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/config"
	"github.com/Ramsey-B/trellis/internal/fixtures"
	"github.com/Ramsey-B/trellis/internal/handlers"
	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/internal/repositories/postgres"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/graph"
	"github.com/Ramsey-B/trellis/pkg/kafka"
	"github.com/Ramsey-B/trellis/pkg/linking"
	"github.com/Ramsey-B/trellis/pkg/logging"
	"github.com/Ramsey-B/trellis/pkg/reconcile"
	"github.com/Ramsey-B/trellis/pkg/redis"
	"github.com/Ramsey-B/trellis/pkg/rollup"
	"github.com/Ramsey-B/trellis/pkg/startup"
	"github.com/Ramsey-B/trellis/pkg/tracing"
	"github.com/Ramsey-B/trellis/pkg/tracing/exporters"
)

// options are the root persistent flags.
type options struct {
	configPath   string
	fixturesPath string
}

// appMode selects which dependencies newApp starts.
type appMode struct {
	// sinks starts Kafka and the graph projector when enabled in config.
	sinks bool
	// migrate applies migrations before the store is used.
	migrate bool
}

type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	store   repositories.Repository
	db      *database.DatabaseInstance
	engine  *reconcile.Engine
	rollups *rollup.Aggregator
	checks  map[string]handlers.Pinger

	startup *startup.Startup
	flush   func()
}

func loadBase(opts options) (*config.Config, ectologger.Logger, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, flush, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, flush, nil
}

// newApp loads configuration, starts external dependencies in order and wires
// the engine. With a fixtures path the in-memory store replaces Postgres.
func newApp(ctx context.Context, opts options, mode appMode) (*app, error) {
	cfg, logger, flush, err := loadBase(opts)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		checks:  map[string]handlers.Pinger{},
		startup: startup.New(logger, cfg.StartupMaxAttempts),
		flush:   flush,
	}

	var shutdownTracing func(context.Context) error
	a.startup.Add(startup.Func{
		DependencyName: "tracing",
		OnStart: func(ctx context.Context) error {
			shutdown, err := tracing.Setup(ctx, cfg.AppName, exporters.OTLPConfig{
				Endpoint: cfg.Otel.Endpoint,
				Protocol: cfg.Otel.Protocol,
				Insecure: cfg.Otel.Insecure,
			})
			shutdownTracing = shutdown
			return err
		},
		OnStop: func(ctx context.Context) error {
			if shutdownTracing == nil {
				return nil
			}
			return shutdownTracing(ctx)
		},
	})

	if opts.fixturesPath != "" {
		store, err := fixtures.NewStore(opts.fixturesPath)
		if err != nil {
			flush()
			return nil, err
		}
		a.store = store
		logger.WithField("fixtures", opts.fixturesPath).Info("Using in-memory store loaded from fixtures")
	} else {
		a.addDatabase(mode.migrate)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		a.startup.Add(startup.Func{
			DependencyName: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.Redis.Host,
					Port:     cfg.Redis.Port,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				}, logger)
				if err != nil {
					return err
				}
				redisClient = client
				a.checks["redis"] = client
				return nil
			},
			OnStop: func(context.Context) error {
				if redisClient == nil {
					return nil
				}
				return redisClient.Close()
			},
		})
	}

	var sinks []reconcile.Sink
	if mode.sinks {
		sinks = a.addSinks()
	}

	if err := a.startup.Start(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to start dependencies: %w", err)
	}

	var distributed reconcile.DistributedLocker
	if redisClient != nil {
		distributed = reconcile.RedisLocker(redis.NewLocker(redisClient, ""))
	}
	locks := reconcile.NewTenantLocks(logger, distributed, cfg.Match.RunLockTTL, cfg.Match.RunLockTimeout)

	engine, err := reconcile.NewEngine(logger, engineConfig(cfg.Match), a.store, locks, sinks...)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("invalid match configuration: %w", err)
	}
	a.engine = engine
	a.rollups = rollup.NewAggregator(logger, a.store, cfg.Rollup.WindowDays, nil)

	return a, nil
}

func (a *app) addDatabase(migrate bool) {
	cfg := a.cfg.Database
	a.startup.Add(startup.Func{
		DependencyName: "postgres",
		OnStart: func(ctx context.Context) error {
			db, err := database.Connect(ctx, database.ConnectionConfig{
				DSN:             cfg.DSN(),
				MaxOpenConns:    cfg.MaxOpenConns,
				MaxIdleConns:    cfg.MaxIdleConns,
				ConnMaxLifetime: cfg.ConnMaxLifetime,
			}, a.logger)
			if err != nil {
				return err
			}
			a.db = db
			store := postgres.NewStore(db, a.logger)
			a.store = store
			a.checks["postgres"] = handlers.PingFunc(store.Ping)
			return nil
		},
		OnStop: func(context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})

	if migrate {
		a.startup.Add(startup.Func{
			DependencyName: "migrations",
			Requires:       []string{"postgres"},
			OnStart: func(context.Context) error {
				return runMigrations(a.logger, cfg, a.db)
			},
		})
	}
}

func runMigrations(logger ectologger.Logger, cfg config.DatabaseConfig, db *database.DatabaseInstance) error {
	svc := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.MigrationFolderPath,
		Version:             uint(max(cfg.MigrationVersion, 0)),
		AutoRollback:        cfg.MigrationAutoRollback,
	})
	return svc.MigratePostgres(db.DB)
}

// addSinks registers the enabled change sinks. Clients are built here and
// connected by the startup sequence.
func (a *app) addSinks() []reconcile.Sink {
	var sinks []reconcile.Sink

	if kc := a.cfg.Kafka; kc.Enabled {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      kc.Brokers,
			Topic:        kc.OutputTopic,
			BatchSize:    kc.BatchSize,
			BatchTimeout: time.Duration(kc.BatchTimeoutMs) * time.Millisecond,
			RequiredAcks: kc.RequiredAcks,
			Compression:  kc.Compression,
		}, a.logger)
		a.startup.Add(startup.Func{
			DependencyName: "kafka",
			OnStop:         func(context.Context) error { return producer.Close() },
		})
		sinks = append(sinks, producer)
	}

	if gc := a.cfg.Graph; gc.Enabled {
		var client *graph.Client
		projector := graph.NewProjector(runnerFunc(func(ctx context.Context, statements []graph.Statement) error {
			return client.Run(ctx, statements)
		}), a.logger)
		a.startup.Add(startup.Func{
			DependencyName: "graph",
			OnStart: func(ctx context.Context) error {
				c, err := graph.NewClient(graph.Config{
					Host:     gc.Host,
					Port:     gc.Port,
					Username: gc.User,
					Password: gc.Password,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := c.VerifyConnectivity(ctx); err != nil {
					_ = c.Close(ctx)
					return err
				}
				client = c
				a.checks["graph"] = handlers.PingFunc(c.VerifyConnectivity)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if client == nil {
					return nil
				}
				return client.Close(ctx)
			},
		})
		sinks = append(sinks, projector)
	}

	return sinks
}

// runnerFunc defers resolving the graph client until it has connected.
type runnerFunc func(ctx context.Context, statements []graph.Statement) error

func (f runnerFunc) Run(ctx context.Context, statements []graph.Statement) error {
	return f(ctx, statements)
}

func engineConfig(mc config.MatchConfig) reconcile.Config {
	return reconcile.Config{
		WorkerCount:         mc.WorkerCount,
		CandidateFields:     mc.CandidateFields,
		ClientField:         mc.ClientField,
		MaxAccountsPerTheme: mc.MaxAccountsPerTheme,
		PrefixDomains:       mc.PrefixDomains,
		ProductDomains:      mc.ProductDomains,
		Writer: linking.Config{
			BatchSize:   mc.LinkBatchSize,
			MaxAttempts: mc.BatchMaxAttempts,
			Backoff:     mc.BatchBackoff,
		},
	}
}

// Close stops dependencies in reverse start order and flushes the logger.
func (a *app) Close(ctx context.Context) {
	if err := a.startup.Stop(ctx); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Failed to stop dependencies cleanly")
	}
	a.flush()
}
