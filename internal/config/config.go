// Package config loads Heron configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/heron/internal/domain"
)

// Load reads configuration from environment variables, loading a .env file
// first when present. HERON_TIER=pro starts from the Pro tier defaults.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a configuration from lookup and validates it.
func FromEnv(lookup func(string) string) (*domain.Config, error) {
	e := env{lookup: lookup}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(e.get("HERON_TIER", ""), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	cfg.Server.Host = e.get("HERON_HOST", cfg.Server.Host)
	cfg.Server.Port = e.getInt("HERON_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = e.getInt("HERON_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = e.getInt("HERON_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	if v := e.get("HERON_CORS_ORIGINS", ""); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	repo := &cfg.Repository
	repo.Driver = e.get("HERON_DB_DRIVER", repo.Driver)
	repo.SQLitePath = e.get("HERON_SQLITE_PATH", repo.SQLitePath)
	repo.PostgresDSN = e.get("HERON_POSTGRES_DSN", repo.PostgresDSN)
	repo.PostgresHost = e.get("HERON_POSTGRES_HOST", repo.PostgresHost)
	repo.PostgresPort = e.getInt("HERON_POSTGRES_PORT", repo.PostgresPort)
	repo.PostgresUser = e.get("HERON_POSTGRES_USER", repo.PostgresUser)
	repo.PostgresPassword = e.get("HERON_POSTGRES_PASSWORD", repo.PostgresPassword)
	repo.PostgresDB = e.get("HERON_POSTGRES_DB", repo.PostgresDB)
	repo.PostgresSSLMode = e.get("HERON_POSTGRES_SSLMODE", repo.PostgresSSLMode)
	repo.MaxOpenConns = e.getInt("HERON_DB_MAX_OPEN_CONNS", repo.MaxOpenConns)

	c := &cfg.Cache
	c.Type = e.get("HERON_CACHE", c.Type)
	c.LocalMaxSize = e.getInt("HERON_CACHE_SIZE", c.LocalMaxSize)
	c.LocalTTL = e.getDuration("HERON_CACHE_TTL", c.LocalTTL)
	c.RedisAddr = e.get("HERON_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = e.get("HERON_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = e.getInt("HERON_REDIS_DB", c.RedisDB)
	c.EnableTwoPhase = e.getBool("HERON_CACHE_TWO_PHASE", c.EnableTwoPhase)

	b := &cfg.EventBus
	b.Type = e.get("HERON_BUS", b.Type)
	b.ChannelBufferSize = e.getInt("HERON_BUS_BUFFER", b.ChannelBufferSize)
	b.NATSUrl = e.get("HERON_NATS_URL", b.NATSUrl)
	b.NATSToken = e.get("HERON_NATS_TOKEN", b.NATSToken)
	b.NATSQueueGroup = e.get("HERON_NATS_QUEUE_GROUP", b.NATSQueueGroup)

	l := &cfg.Login
	l.ChallengeTTL = e.getDuration("HERON_CHALLENGE_TTL", l.ChallengeTTL)
	l.MaxChallengeAttempts = e.getInt("HERON_CHALLENGE_MAX_ATTEMPTS", l.MaxChallengeAttempts)
	l.ProfileCacheTTL = e.getDuration("HERON_PROFILE_CACHE_TTL", l.ProfileCacheTTL)

	cfg.Model.Kind = e.get("HERON_MODEL", cfg.Model.Kind)
	cfg.Model.Expression = e.get("HERON_MODEL_EXPRESSION", cfg.Model.Expression)

	cfg.Federated.MinUpdatesToAggregate = e.getInt("HERON_FEDERATED_MIN_UPDATES", cfg.Federated.MinUpdatesToAggregate)
	cfg.Federated.MaxHistory = e.getInt("HERON_FEDERATED_MAX_HISTORY", cfg.Federated.MaxHistory)
	cfg.Federated.Leader = e.getBool("HERON_FEDERATED_LEADER", cfg.Federated.Leader)

	cfg.Logging.Level = e.get("HERON_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = e.get("HERON_LOG_FORMAT", cfg.Logging.Format)
	if e.getBool("HERON_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Enabled = e.getBool("HERON_TRACING", cfg.Tracing.Enabled)

	if e.err != nil {
		return nil, e.err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %q", cfg.EventBus.Type)
	}
	if cfg.Model.Kind == "cel" && cfg.Model.Expression == "" {
		return fmt.Errorf("HERON_MODEL_EXPRESSION is required for the cel model")
	}
	if cfg.Login.MaxChallengeAttempts <= 0 {
		return fmt.Errorf("max challenge attempts must be positive")
	}
	if cfg.Federated.MinUpdatesToAggregate <= 0 {
		return fmt.Errorf("federated min updates must be positive")
	}
	return nil
}

// LogLevel maps the configured level name to a slog level.
func LogLevel(cfg domain.LoggingConfig) slog.Level {
	switch strings.ToLower(cfg.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// env reads typed values, keeping the first parse error.
type env struct {
	lookup func(string) string
	err    error
}

func (e *env) get(key, def string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return def
}

func (e *env) getInt(key string, def int) int {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return i
}

func (e *env) getBool(key string, def bool) bool {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *env) getDuration(key string, def time.Duration) time.Duration {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}
