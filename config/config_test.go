package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-access/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, config.SessionStoreSQL, cfg.SessionStore)
	assert.Equal(t, config.ProviderLocal, cfg.CredentialProvider)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.RequireVerifiedEmail)

	assert.Error(t, cfg.Validate(), "signing key is required")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ACCESS_HTTP_ADDR", ":9090")
	t.Setenv("ACCESS_DB_DRIVER", "Postgres")
	t.Setenv("ACCESS_DB_DSN", "postgres://localhost/access")
	t.Setenv("ACCESS_SESSION_SIGNING_KEY", signingKey)
	t.Setenv("ACCESS_SESSION_TTL", "2h")
	t.Setenv("ACCESS_REQUIRE_VERIFIED_EMAIL", "true")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.RequireVerifiedEmail)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "access.yaml")
	content := strings.Join([]string{
		"HTTP_ADDR: \":7070\"",
		"SESSION_SIGNING_KEY: " + signingKey,
		"SESSION_STORE: redis",
		"REDIS_URL: redis://localhost:6379/0",
	}, "\n")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	cfg, err := config.Load(file)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, config.SessionStoreRedis, cfg.SessionStore)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			HTTPAddr:           ":8080",
			DBDriver:           config.DriverSQLite,
			DBDSN:              "file::memory:",
			SessionSigningKey:  signingKey,
			SessionTTL:         time.Hour,
			SessionStore:       config.SessionStoreSQL,
			CredentialProvider: config.ProviderLocal,
		}
	}
	require.NoError(t, base().Validate())

	tests := map[string]func(*config.Config){
		"unknown driver":       func(c *config.Config) { c.DBDriver = "mysql" },
		"unknown provider":     func(c *config.Config) { c.CredentialProvider = "ldap" },
		"short signing key":    func(c *config.Config) { c.SessionSigningKey = "short" },
		"redis without url":    func(c *config.Config) { c.SessionStore = config.SessionStoreRedis },
		"auth0 without domain": func(c *config.Config) { c.CredentialProvider = config.ProviderAuth0 },
		"ttl below one minute": func(c *config.Config) { c.SessionTTL = time.Second },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
