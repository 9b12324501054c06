package domain

import "time"

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring pipeline
	Login     LoginConfig     `json:"login"`
	Model     ModelConfig     `json:"model"`
	Federated FederatedConfig `json:"federated"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	AllowedOrigins []string `json:"allowedOrigins"`
}

// LoginConfig holds login flow settings.
type LoginConfig struct {
	ChallengeTTL          time.Duration `json:"challengeTtl"`
	MaxChallengeAttempts  int           `json:"maxChallengeAttempts"`
	ChallengePassScore    float64       `json:"challengePassScore"` // minimum calm deviation score
	ChallengeBonus        int           `json:"challengeBonus"`
	ProfileCacheTTL       time.Duration `json:"profileCacheTtl"`
	RecentTrustedWindow   int           `json:"recentTrustedWindow"`
	ProfileDecisionsLimit int           `json:"profileDecisionsLimit"`
}

// ModelConfig selects the probability model.
type ModelConfig struct {
	// Kind is "neutral", "logistic" or "cel"
	Kind string `json:"kind"`

	// Expression is the CEL expression used when Kind is "cel".
	Expression string `json:"expression,omitempty"`
}

// FederatedConfig holds federated aggregation settings.
type FederatedConfig struct {
	MinUpdatesToAggregate int `json:"minUpdatesToAggregate"`
	MaxHistory            int `json:"maxHistory"`

	// Leader instances aggregate updates published on the bus; followers
	// only reload the model after each aggregation.
	Leader bool `json:"leader"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Login: LoginConfig{
			ChallengeTTL:          5 * time.Minute,
			MaxChallengeAttempts:  3,
			ChallengePassScore:    5.0,
			ChallengeBonus:        10,
			ProfileCacheTTL:       5 * time.Minute,
			RecentTrustedWindow:   5,
			ProfileDecisionsLimit: 10,
		},
		Model: ModelConfig{
			Kind: "logistic",
		},
		Federated: FederatedConfig{
			MinUpdatesToAggregate: 3,
			MaxHistory:            5,
			Leader:                true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
