package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/canonicalentity"
	"github.com/Ramsey-B/clover/internal/repositories/commonvalue"
	"github.com/Ramsey-B/clover/internal/repositories/resolutiondecision"
	"github.com/Ramsey-B/clover/internal/repositories/reviewqueue"
	"github.com/Ramsey-B/clover/pkg/arbitration"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/decision"
	"github.com/Ramsey-B/clover/pkg/distinctiveness"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/registry"
	"github.com/Ramsey-B/clover/pkg/resolver"
	"github.com/Ramsey-B/clover/pkg/review"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/startup"
)

// app owns every long-lived collaborator
type app struct {
	cfg     config.Config
	profile config.ScoringProfile
	logger  ectologger.Logger
	startup *startup.Startup
	health  *health.Checker

	db       database.DB
	redis    *redis.Client
	graph    *graph.Client
	producer *kafka.Producer
	consumer *kafka.Consumer

	registry     registry.Registry
	ledger       *ledger.Ledger
	queue        *review.Queue
	commonValues distinctiveness.Store
	tracker      *distinctiveness.Tracker
	engine       *resolver.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newApp(cfg config.Config, profile config.ScoringProfile, logger ectologger.Logger) *app {
	return &app{
		cfg:     cfg,
		profile: profile,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:  health.NewChecker(version),
	}
}

// start connects external dependencies, builds the resolver and launches the
// background loops
func (a *app) start(ctx context.Context) error {
	a.addDependencies()
	if err := a.startup.Start(ctx); err != nil {
		return err
	}

	if err := a.buildEngine(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.tracker.Run(runCtx)
	}()

	if a.cfg.KafkaConsumerEnabled {
		pool := resolver.NewPool(a.engine, a.cfg.ResolveWorkerCount, a.logger)
		a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       a.cfg.KafkaBrokers,
			Topic:         a.cfg.KafkaInputTopic,
			ConsumerGroup: a.cfg.KafkaConsumerGroup,
			BatchSize:     a.cfg.KafkaBatchSize,
			BatchWait:     a.cfg.KafkaBatchWait,
		}, pool, a.logger)
		if err := a.consumer.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
		a.health.AddCheck("kafka-consumer", false, func(context.Context) error {
			if !a.consumer.Health() {
				return fmt.Errorf("consumer is not running")
			}
			return nil
		})
	}
	return nil
}

func (a *app) addDependencies() {
	if a.cfg.DatabaseHost != "" {
		a.startup.AddDependency(startup.Func{
			Name: "postgres",
			StartFunc: func(ctx context.Context) error {
				db, err := database.Connect(ctx, database.Config{
					Host:            a.cfg.DatabaseHost,
					Port:            a.cfg.DatabasePort,
					User:            a.cfg.DatabaseUserName,
					Password:        a.cfg.DatabasePassword,
					Name:            a.cfg.DatabaseName,
					SSLMode:         a.cfg.DatabaseSSLMode,
					MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
					MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
					ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
				}, a.logger)
				if err != nil {
					return err
				}
				a.db = db
				a.health.AddCheck("database", true, db.PingContext)
				return nil
			},
			StopFunc: func(context.Context) error { return a.db.Close() },
		})
		a.startup.AddDependency(startup.Func{
			Name:     "migrations",
			Requires: []string{"postgres"},
			StartFunc: func(context.Context) error {
				instance, ok := a.db.(*database.DatabaseInstance)
				if !ok {
					return fmt.Errorf("migrations need a *database.DatabaseInstance, got %T", a.db)
				}
				return a.migrate(instance.DB)
			},
		})
	}

	if a.cfg.RedisHost != "" {
		a.startup.AddDependency(startup.Func{
			Name: "redis",
			StartFunc: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     a.cfg.RedisHost,
					Port:     a.cfg.RedisPort,
					Password: a.cfg.RedisPassword,
					DB:       a.cfg.RedisDB,
				}, a.logger)
				if err != nil {
					return err
				}
				a.redis = client
				a.health.AddCheck("redis", true, client.Ping)
				return nil
			},
			StopFunc: func(context.Context) error { return a.redis.Close() },
		})
	}

	if a.cfg.GraphDBHost != "" {
		a.startup.AddDependency(startup.Func{
			Name: "graph",
			StartFunc: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     a.cfg.GraphDBHost,
					Port:     a.cfg.GraphDBPort,
					Username: a.cfg.GraphDBUser,
					Password: a.cfg.GraphDBPassword,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return fmt.Errorf("failed to reach graph database: %w", err)
				}
				a.graph = client
				a.health.AddCheck("graph", false, client.VerifyConnectivity)
				return nil
			},
			StopFunc: func(ctx context.Context) error { return a.graph.Close(ctx) },
		})
	}

	if a.cfg.KafkaEventsEnabled {
		a.startup.AddDependency(startup.Func{
			Name: "kafka-producer",
			StartFunc: func(context.Context) error {
				a.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      a.cfg.KafkaBrokers,
					Topic:        a.cfg.KafkaOutputTopic,
					RequiredAcks: a.cfg.KafkaRequiredAcks,
					Compression:  a.cfg.KafkaCompression,
				}, a.logger)
				return nil
			},
			StopFunc: func(context.Context) error { return a.producer.Close() },
		})
	}
}

func (a *app) migrate(db *sqlx.DB) error {
	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
	})
	return migrations.MigratePostgres(db, a.cfg.DatabaseName)
}

func (a *app) buildEngine(ctx context.Context) error {
	var (
		ledgerStore ledger.Store
		queueStore  review.Store
	)
	if a.db != nil {
		a.registry = canonicalentity.NewRepository(a.db, a.logger)
		ledgerStore = resolutiondecision.NewRepository(a.db, a.logger)
		queueStore = reviewqueue.NewRepository(a.db, a.logger)
		a.commonValues = commonvalue.NewRepository(a.db, a.logger)
	} else {
		a.logger.Warn("DB_HOST is not set; using in-memory stores, nothing will be persisted")
		a.registry = registry.NewMemoryRegistry()
		ledgerStore = ledger.NewMemoryStore()
		queueStore = review.NewMemoryStore()
		a.commonValues = distinctiveness.NewMemoryStore()
	}
	a.ledger = ledger.NewLedger(ledgerStore, a.logger)
	a.queue = review.NewQueue(queueStore, a.logger)

	tracker, err := distinctiveness.NewTracker(a.registry, a.commonValues, a.profile.TrackerConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("invalid distinctiveness config: %w", err)
	}
	if err := tracker.Load(ctx); err != nil {
		return err
	}
	a.tracker = tracker

	deterministic, err := matching.NewDeterministicMatcher(a.registry, a.profile.DeterministicPrecedence)
	if err != nil {
		return err
	}
	scorer, err := matching.NewScorer(a.profile.ScorerConfig())
	if err != nil {
		return err
	}
	decider, err := decision.NewEngine(a.profile.Decision)
	if err != nil {
		return err
	}

	deps := resolver.Dependencies{
		Registry:      a.registry,
		Deterministic: deterministic,
		Retriever:     matching.NewRetriever(a.registry, a.profile.RetrieverConfig()),
		Scorer:        scorer,
		Decider:       decider,
		Tracker:       tracker,
		Queue:         a.queue,
		Ledger:        a.ledger,
	}

	if a.cfg.AnthropicAPIKey != "" {
		anthropicCfg := arbitration.DefaultAnthropicConfig()
		anthropicCfg.APIKey = a.cfg.AnthropicAPIKey
		anthropicCfg.Model = a.cfg.AnthropicModel
		anthropicCfg.BaseURL = a.cfg.AnthropicBaseURL
		anthropicCfg.MaxConcurrent = a.cfg.ArbitrationConcurrency
		gateway, err := arbitration.NewAnthropicGateway(anthropicCfg, a.logger)
		if err != nil {
			return err
		}
		deps.Gateway = gateway
	} else {
		a.logger.Info("ANTHROPIC_API_KEY is not set; arbitration disabled")
	}

	if a.db != nil {
		deps.Tx = database.Transactor{DB: a.db}
	}
	if a.redis != nil {
		deps.Locker = redis.NewLocker(a.redis, redis.DefaultLockerConfig())
	}
	if a.producer != nil {
		deps.Listeners = append(deps.Listeners, events.NewEmitter(a.producer, a.logger))
	}
	if a.graph != nil {
		deps.Listeners = append(deps.Listeners, graph.NewProjector(a.graph, a.logger))
	}

	engine, err := resolver.NewEngine(deps, a.profile.ResolverConfig(), a.logger)
	if err != nil {
		return err
	}
	a.engine = engine
	return nil
}

// stop drains the background loops, then closes dependencies in reverse order
func (a *app) stop() {
	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			a.logger.WithError(err).Warn("Failed to stop kafka consumer")
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.startup.Stop(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to stop dependencies cleanly")
	}
}
