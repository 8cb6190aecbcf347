// Package config loads staykeeper settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DBAdapter  string `mapstructure:"DB_ADAPTER"`
	SQLiteFile string `mapstructure:"SQLITE_FILE"`
	// PostgreSQL connection settings
	PostgresDSN      string `mapstructure:"POSTGRES_DSN"`
	PostgresHost     string `mapstructure:"POSTGRES_HOST"`
	PostgresPort     string `mapstructure:"POSTGRES_PORT"`
	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresDB       string `mapstructure:"POSTGRES_DB"`
	PostgresSSLMode  string `mapstructure:"POSTGRES_SSLMODE"`

	// JwtSecret and JwtRefreshSecret sign access and refresh tokens. Empty
	// means a random per-process secret.
	JwtSecret        string `mapstructure:"JWT_SECRET"`
	JwtRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// SecurityWebhook receives security events above low severity.
	SecurityWebhook string `mapstructure:"SECURITY_WEBHOOK"`

	// StoreBackend is "memory" or "redis".
	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	CleanupInterval  time.Duration `mapstructure:"CLEANUP_INTERVAL"`
	CSRFSingleUse    bool          `mapstructure:"CSRF_SINGLE_USE"`
	SessionIPBinding bool          `mapstructure:"SESSION_IP_BINDING"`
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy     bool   `mapstructure:"TRUST_PROXY"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
}

// Load reads .env if present, then the environment. Environment variables
// win over .env.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_ADAPTER", "memory")
	v.SetDefault("SQLITE_FILE", "./data/staykeeper.db")
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "staykeeper")
	v.SetDefault("POSTGRES_PASSWORD", "")
	v.SetDefault("POSTGRES_DB", "staykeeper")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("SECURITY_WEBHOOK", "")
	v.SetDefault("STORE_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CLEANUP_INTERVAL", "1h")
	v.SetDefault("CSRF_SINGLE_USE", false)
	v.SetDefault("SESSION_IP_BINDING", true)
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("ALLOWED_ORIGINS", "")

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("config: invalid PORT: %s", c.Port)
	}

	switch c.DBAdapter {
	case "memory":
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("config: SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("config: postgres: %w", err)
		}
		c.PostgresDSN = dsn
	default:
		return nil, fmt.Errorf("config: unsupported DB_ADAPTER %q (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	switch c.StoreBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return nil, errors.New("config: REDIS_ADDR must be set when STORE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("config: unsupported STORE_BACKEND %q (supported: memory, redis)", c.StoreBackend)
	}

	if c.CleanupInterval <= 0 {
		return nil, errors.New("config: CLEANUP_INTERVAL must be positive")
	}

	if c.IsProduction() && (c.JwtSecret == "" || c.JwtRefreshSecret == "") {
		return nil, errors.New("config: JWT_SECRET and JWT_REFRESH_SECRET must be set in production")
	}

	return &c, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}
	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}
	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

// Origins returns ALLOWED_ORIGINS split on commas.
func (c *Config) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(c.AllowedOrigins, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
