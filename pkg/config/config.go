package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Supported values of Database.Driver
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port            string
		Env             string
		Timeout         time.Duration
		ShutdownTimeout time.Duration
		BaseURL         string
	}

	// Database selects and configures the conversation store
	Database struct {
		Driver      string
		Host        string
		Port        string
		User        string
		Password    string
		Name        string
		SSLMode     string
		MaxConns    int
		Timeout     time.Duration
		AutoMigrate bool
	}

	Mongo struct {
		URI                 string
		Database            string
		Collection          string
		ClassroomCollection string
	}

	// Redis backs the cross-replica conversation lock; empty Addr keeps locking in process
	Redis struct {
		Addr     string
		Password string
		DB       int
		LockTTL  time.Duration
	}

	// Kafka receives conversation events; no brokers disables publishing
	Kafka struct {
		Brokers        []string
		Topic          string
		PublishTimeout time.Duration
	}

	JWT struct {
		Secret string
		Expiry time.Duration
		Issuer string
	}

	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		TrustedProxies []string
		MaxBodySize    int64
	}

	Logging struct {
		Level  string
		Format string
	}

	// Archival drives the stale-conversation sweep
	Archival struct {
		Enabled       bool
		Cron          string
		ThresholdDays int
		BatchSize     int
		Timeout       time.Duration
	}

	Conversation struct {
		MaxRetries int
		// Classrooms seeds the in-memory classroom directory used by the memory driver
		Classrooms []string
	}

	// Cache holds the classroom-existence cache settings
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		Mount       string
		SecretsPath string
	}

	Observability struct {
		ServiceName    string
		TracingEnabled bool
		MetricsEnabled bool
	}

	OpenAPI struct {
		SpecPath string
		Validate bool
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it from the environment on first use
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	return New()
}

// Load reads a fresh Config from the current environment
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Server.Port)

	cfg.Database.Driver = strings.ToLower(getEnvString("DB_DRIVER", DriverPostgres))
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "school_portal")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)
	cfg.Database.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", true)

	cfg.Mongo.URI = getEnvString("MONGO_URI", "mongodb://localhost:27017")
	cfg.Mongo.Database = getEnvString("MONGO_DATABASE", "school_portal")
	cfg.Mongo.Collection = getEnvString("MONGO_COLLECTION", "conversations")
	cfg.Mongo.ClassroomCollection = getEnvString("MONGO_CLASSROOM_COLLECTION", "classrooms")

	cfg.Redis.Addr = getEnvString("REDIS_ADDR", "")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.LockTTL = getEnvDuration("REDIS_LOCK_TTL", 10*time.Second)

	cfg.Kafka.Brokers = getEnvStringSlice("KAFKA_BROKERS", nil)
	cfg.Kafka.Topic = getEnvString("KAFKA_TOPIC", "conversation-events")
	cfg.Kafka.PublishTimeout = getEnvDuration("KAFKA_PUBLISH_TIMEOUT", 2*time.Second)

	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)
	cfg.JWT.Issuer = getEnvString("JWT_ISSUER", "")

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Archival.Enabled = getEnvBool("ARCHIVE_ENABLED", true)
	cfg.Archival.Cron = getEnvString("ARCHIVE_CRON", "0 2 * * *")
	cfg.Archival.ThresholdDays = getEnvInt("ARCHIVE_THRESHOLD_DAYS", 30)
	cfg.Archival.BatchSize = getEnvInt("ARCHIVE_BATCH_SIZE", 500)
	cfg.Archival.Timeout = getEnvDuration("ARCHIVE_TIMEOUT", 10*time.Minute)

	cfg.Conversation.MaxRetries = getEnvInt("CONVERSATION_MAX_RETRIES", 3)
	cfg.Conversation.Classrooms = getEnvStringSlice("CONVERSATION_CLASSROOMS", nil)

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "school-portal")

	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "school-portal-conversations")
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)

	cfg.OpenAPI.SpecPath = getEnvString("OPENAPI_SPEC_PATH", "api/openapi.yaml")
	cfg.OpenAPI.Validate = getEnvBool("OPENAPI_VALIDATE", true)

	return cfg
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
