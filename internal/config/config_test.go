package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "memory", c.DBAdapter)
	assert.Equal(t, "memory", c.StoreBackend)
	assert.Equal(t, time.Hour, c.CleanupInterval)
	assert.True(t, c.SessionIPBinding)
	assert.False(t, c.CSRFSingleUse)
	assert.False(t, c.TrustProxy)
	assert.Empty(t, c.SecurityWebhook)
	assert.Nil(t, c.Origins())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "a")
	t.Setenv("JWT_REFRESH_SECRET", "b")
	t.Setenv("SECURITY_WEBHOOK", "https://hooks.example.com/sec")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("CLEANUP_INTERVAL", "30m")
	t.Setenv("CSRF_SINGLE_USE", "true")
	t.Setenv("SESSION_IP_BINDING", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, "a", c.JwtSecret)
	assert.Equal(t, "b", c.JwtRefreshSecret)
	assert.Equal(t, "https://hooks.example.com/sec", c.SecurityWebhook)
	assert.Equal(t, "redis", c.StoreBackend)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.Equal(t, 2, c.RedisDB)
	assert.Equal(t, 30*time.Minute, c.CleanupInterval)
	assert.True(t, c.CSRFSingleUse)
	assert.False(t, c.SessionIPBinding)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, c.Origins())
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "a")
	t.Setenv("JWT_REFRESH_SECRET", "b")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port":       {"PORT": "http"},
		"db adapter": {"DB_ADAPTER": "mongo"},
		"store":      {"STORE_BACKEND": "memcached"},
		"interval":   {"CLEANUP_INTERVAL": "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestBuildPostgresDSN(t *testing.T) {
	c := &Config{PostgresHost: "db", PostgresUser: "u", PostgresDB: "d", PostgresPassword: "p"}
	dsn, err := c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u dbname=d sslmode=disable password=p", dsn)

	c = &Config{PostgresDSN: "postgres://x"}
	dsn, err = c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", dsn)

	_, err = (&Config{}).BuildPostgresDSN()
	assert.Error(t, err)
}
