package secrets

import (
	"context"
	"errors"
	"testing"

	"school-portal/backend/pkg/config"
	"school-portal/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	data  map[string]any
	err   error
	calls int
}

func (f *fakeKV) Get(_ context.Context, _ string) (*vault.KVSecret, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &vault.KVSecret{Data: f.data}, nil
}

func newTestManager(t *testing.T, kv kvReader, env map[string]string) *VaultManager {
	t.Helper()
	m, err := NewVaultManager(VaultConfig{SecretsPath: "school-portal"}, logger.Discard())
	require.NoError(t, err)
	if kv != nil {
		m.kv = kv
	}
	m.lookup = func(k string) string { return env[k] }
	return m
}

func TestGetSecret_FromVaultIsCached(t *testing.T) {
	kv := &fakeKV{data: map[string]any{"jwt_secret": "from-vault"}}
	m := newTestManager(t, kv, nil)

	v, err := m.GetSecret(context.Background(), KeyJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "from-vault", v)

	_, err = m.GetSecret(context.Background(), KeyJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, 1, kv.calls)
}

func TestGetSecret_FallsBackToEnvironment(t *testing.T) {
	kv := &fakeKV{data: map[string]any{}}
	m := newTestManager(t, kv, map[string]string{"DB_PASSWORD": "from-env"})

	v, err := m.GetSecret(context.Background(), "db.password")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)
}

func TestGetSecret_VaultErrorIsReturned(t *testing.T) {
	kv := &fakeKV{err: errors.New("permission denied")}
	m := newTestManager(t, kv, map[string]string{"JWT_SECRET": "env"})

	_, err := m.GetSecret(context.Background(), KeyJWTSecret)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestNewVaultManager_RequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://vault:8200"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestResolve_KeepsConfiguredValuesWhenMissing(t *testing.T) {
	m := newTestManager(t, nil, map[string]string{"JWT_SECRET": "rotated"})
	cfg := &config.Config{}
	cfg.JWT.Secret = "initial"
	cfg.Database.Password = "pg"

	Resolve(context.Background(), m, cfg)

	assert.Equal(t, "rotated", cfg.JWT.Secret)
	assert.Equal(t, "pg", cfg.Database.Password)
}
