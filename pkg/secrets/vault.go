package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"school-portal/backend/pkg/config"
	"school-portal/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig holds configuration for Vault client
type VaultConfig struct {
	Address     string
	Token       string
	Namespace   string
	Mount       string
	SecretsPath string
	Enabled     bool
	Timeout     time.Duration
	MaxRetries  int
	CacheTTL    time.Duration
}

// VaultConfigFrom maps the application configuration onto VaultConfig
func VaultConfigFrom(cfg *config.Config) VaultConfig {
	return VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		Mount:       cfg.Vault.Mount,
		SecretsPath: cfg.Vault.SecretsPath,
		Enabled:     cfg.Vault.Enabled,
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		CacheTTL:    5 * time.Minute,
	}
}

// kvReader is the slice of the Vault KV v2 API the manager needs
type kvReader interface {
	Get(ctx context.Context, path string) (*vault.KVSecret, error)
}

// VaultManager manages secrets with HashiCorp Vault, falling back to environment variables
type VaultManager struct {
	kv     kvReader
	config VaultConfig
	cache  map[string]string
	mu     sync.RWMutex
	log    *logger.Logger
	lookup func(string) string
}

// NewVaultManager creates a manager. When Vault is disabled only the environment is consulted.
func NewVaultManager(cfg VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if log == nil {
		log = logger.GetGlobal()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}

	manager := &VaultManager{
		config: cfg,
		cache:  make(map[string]string),
		log:    log.With("component", "secrets"),
		lookup: os.Getenv,
	}
	if !cfg.Enabled {
		return manager, nil
	}

	if cfg.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if cfg.Token == "" {
		return nil, ErrNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	vaultConfig.Timeout = cfg.Timeout
	vaultConfig.MaxRetries = cfg.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	manager.kv = client.KVv2(cfg.Mount)

	return manager, nil
}

// StartCacheCleanup clears the secret cache every CacheTTL until ctx is done
func (m *VaultManager) StartCacheCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.config.CacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				m.cache = make(map[string]string)
				m.mu.Unlock()
				m.log.Debug("Secret cache cleared")
			}
		}
	}()
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	cachedValue, found := m.cache[key]
	m.mu.RUnlock()
	if found {
		return cachedValue, nil
	}

	if m.kv == nil {
		return m.getFromEnvironment(key)
	}

	value, err := m.getFromVault(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
			return m.getFromEnvironment(key)
		}
		return "", err
	}

	m.cacheSecret(key, value)
	return value, nil
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Failed to get secret, using default value", "key", key, "error", err.Error())
		}
		return defaultValue
	}
	return value
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.kv.Get(ctx, m.config.SecretsPath)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", ErrSecretNotFound
		}
		m.log.Error("Failed to read secret from Vault", "path", m.config.SecretsPath, "error", err.Error())
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// getFromEnvironment maps db.password or db-password to DB_PASSWORD
func (m *VaultManager) getFromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))

	value := m.lookup(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	m.cacheSecret(key, value)
	return value, nil
}

func (m *VaultManager) cacheSecret(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = value
}

// Resolve overlays secrets onto cfg: database and redis passwords, the JWT secret and the Mongo URI.
// Values missing from every source keep what cfg already holds.
func Resolve(ctx context.Context, m Manager, cfg *config.Config) {
	cfg.Database.Password = m.GetSecretWithDefault(ctx, KeyDatabasePassword, cfg.Database.Password)
	cfg.JWT.Secret = m.GetSecretWithDefault(ctx, KeyJWTSecret, cfg.JWT.Secret)
	cfg.Redis.Password = m.GetSecretWithDefault(ctx, KeyRedisPassword, cfg.Redis.Password)
	cfg.Mongo.URI = m.GetSecretWithDefault(ctx, KeyMongoURI, cfg.Mongo.URI)
}
