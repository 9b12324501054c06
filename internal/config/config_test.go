package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func lookup(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(lookup(nil))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Tier != domain.TierCommunity || cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected community defaults, got %s/%s", cfg.Tier, cfg.Repository.Driver)
	}
	if cfg.Login.MaxChallengeAttempts != 3 {
		t.Errorf("expected 3 challenge attempts, got %d", cfg.Login.MaxChallengeAttempts)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"HERON_TIER":                  "pro",
		"HERON_PORT":                  "9090",
		"HERON_REDIS_ADDR":            "redis:6379",
		"HERON_CHALLENGE_TTL":         "90s",
		"HERON_FEDERATED_MIN_UPDATES": "5",
		"HERON_DEBUG":                 "true",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Tier != domain.TierPro || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
		t.Errorf("expected pro stack, got %+v", cfg)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Cache.RedisAddr != "redis:6379" {
		t.Errorf("expected redis override, got %s", cfg.Cache.RedisAddr)
	}
	if cfg.Login.ChallengeTTL != 90*time.Second {
		t.Errorf("expected 90s challenge ttl, got %v", cfg.Login.ChallengeTTL)
	}
	if cfg.Federated.MinUpdatesToAggregate != 5 {
		t.Errorf("expected min updates 5, got %d", cfg.Federated.MinUpdatesToAggregate)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %s", cfg.Logging.Level)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"BadInt", map[string]string{"HERON_PORT": "eighty"}, "HERON_PORT"},
		{"BadDuration", map[string]string{"HERON_CHALLENGE_TTL": "soon"}, "HERON_CHALLENGE_TTL"},
		{"BadPort", map[string]string{"HERON_PORT": "70000"}, "port"},
		{"BadDriver", map[string]string{"HERON_DB_DRIVER": "mysql"}, "driver"},
		{"CELWithoutExpression", map[string]string{"HERON_MODEL": "cel"}, "HERON_MODEL_EXPRESSION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(lookup(tt.vars))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LogLevel(domain.LoggingConfig{Level: in}); got != want {
			t.Errorf("LogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
