package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"school-portal/backend/conversation/api"
	"school-portal/backend/conversation/events"
	"school-portal/backend/conversation/repository"
	"school-portal/backend/conversation/service"
	"school-portal/backend/conversation/validation"
	"school-portal/backend/pkg/cache"
	"school-portal/backend/pkg/config"
	"school-portal/backend/pkg/health"
	"school-portal/backend/pkg/jwt"
	"school-portal/backend/pkg/lock"
	"school-portal/backend/pkg/logger"
	"school-portal/backend/pkg/resilience"
	sharedredis "school-portal/backend/shared/redis"
	"school-portal/backend/shared/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	DB    *gorm.DB
	Mongo *mongo.Client
	Redis *redis.Client

	Repository   repository.ConversationRepository
	Locker       lock.Locker
	Publisher    events.Publisher
	Registry     *prometheus.Registry
	Metrics      *observability.Metrics
	JWTService   *jwt.Service
	Health       *health.Checker
	Conversation *service.ConversationService
	Handler      *api.ConversationHandler
	Scheduler    *service.ArchiveScheduler

	closers []func(ctx context.Context) error
}

const healthCheckPeriod = 30 * time.Second

// New builds the container from cfg. Postgres, Mongo, Redis and Kafka are only dialled
// when the configuration asks for them; the memory driver needs nothing external.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.GetGlobal()
	}
	c := &Container{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
		Health:   health.NewChecker(log, healthCheckPeriod),
	}
	if err := c.init(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) init(ctx context.Context) error {
	cfg := c.Config
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.Observability.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.Observability.ServiceName, nil)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, shutdown)
	}
	if cfg.Observability.MetricsEnabled {
		metrics, shutdown, err := observability.SetupMetrics(cfg.Observability.ServiceName, c.Registry)
		if err != nil {
			return err
		}
		c.Metrics = metrics
		c.closers = append(c.closers, shutdown)
	}

	classrooms, err := c.initStorage(ctx)
	if err != nil {
		return err
	}
	if err := c.initLocker(ctx); err != nil {
		return err
	}
	c.initPublisher()

	c.JWTService = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	c.Conversation = service.NewConversationService(c.Repository, validation.NewEngine(c.wrapClassrooms(classrooms)), service.Options{
		Locker:           c.Locker,
		Publisher:        c.Publisher,
		Metrics:          c.Metrics,
		Logger:           c.Logger,
		MaxRetries:       cfg.Conversation.MaxRetries,
		ArchiveBatchSize: cfg.Archival.BatchSize,
		PublishTimeout:   cfg.Kafka.PublishTimeout,
	})
	c.Handler = api.NewConversationHandler(c.Conversation, cfg.Archival.ThresholdDays)

	if cfg.Archival.Enabled {
		c.Scheduler, err = service.NewArchiveScheduler(c.Conversation, service.ArchiveSchedulerConfig{
			Cron:          cfg.Archival.Cron,
			ThresholdDays: cfg.Archival.ThresholdDays,
			Timeout:       cfg.Archival.Timeout,
		}, c.Logger)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) initStorage(ctx context.Context) (repository.ClassroomLookup, error) {
	cfg := c.Config
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := config.NewDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.DB = db
		c.closers = append(c.closers, func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})

		repo := repository.NewGormRepository(db)
		if cfg.Database.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate conversations: %w", err)
			}
		}
		c.Repository = repo
		c.Health.RegisterPinger("database", true, repo)
		return repository.NewGormClassroomDirectory(db), nil

	case config.DriverMongo:
		client, err := config.NewMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.Mongo = client
		c.closers = append(c.closers, client.Disconnect)

		db := client.Database(cfg.Mongo.Database)
		repo := repository.NewMongoRepository(client, db.Collection(cfg.Mongo.Collection))
		if cfg.Database.AutoMigrate {
			if err := repo.EnsureIndexes(ctx); err != nil {
				return nil, fmt.Errorf("failed to create conversation indexes: %w", err)
			}
		}
		c.Repository = repo
		c.Health.RegisterPinger("database", true, repo)
		return repository.NewMongoClassroomDirectory(db.Collection(cfg.Mongo.ClassroomCollection)), nil

	case config.DriverMemory:
		repo := repository.NewMemoryRepository()
		c.Repository = repo
		c.Health.RegisterPinger("database", true, repo)
		return repository.NewStaticClassroomDirectory(cfg.Conversation.Classrooms...), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// wrapClassrooms puts the positive-result cache and a circuit breaker in front of the lookup
func (c *Container) wrapClassrooms(next repository.ClassroomLookup) validation.ClassroomDirectory {
	if c.Config.Database.Driver == config.DriverMemory {
		return next
	}

	var found *cache.Cache[struct{}]
	if c.Config.Cache.Enabled {
		found = cache.New[struct{}](cache.OptionsFromConfig(c.Config))
		c.closers = append(c.closers, func(context.Context) error {
			found.Close()
			return nil
		})
	}
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("classroom-directory"), c.Logger)
	return repository.NewCachedClassroomDirectory(next, found, breaker)
}

func (c *Container) initLocker(ctx context.Context) error {
	cfg := c.Config
	if cfg.Redis.Addr == "" {
		c.Locker = lock.NewKeyedMutex()
		return nil
	}

	client, err := sharedredis.NewClient(ctx, sharedredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Database.Timeout)
	if err != nil {
		return err
	}
	c.Redis = client
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	c.Locker = lock.NewRedisLocker(client, lock.RedisLockerConfig{
		Prefix: "conversation:lock:",
		TTL:    cfg.Redis.LockTTL,
	}, c.Logger)
	c.Health.RegisterPinger("redis", true, health.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	return nil
}

func (c *Container) initPublisher() {
	if len(c.Config.Kafka.Brokers) == 0 {
		c.Publisher = events.NopPublisher{}
		return
	}
	publisher := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      c.Config.Kafka.Brokers,
		Topic:        c.Config.Kafka.Topic,
		WriteTimeout: c.Config.Kafka.PublishTimeout,
	})
	c.Publisher = publisher
	c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })
}

// Close releases everything New opened, newest first
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
