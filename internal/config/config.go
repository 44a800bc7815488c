package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string        `yaml:"discord_token"`
	DatabasePath      string        `yaml:"database_path"`
	LogLevel          string        `yaml:"log_level"`
	DefaultLogChannel string        `yaml:"default_log_channel"`
	RetentionDays     int           `yaml:"retention_days"`
	RulePreset        string        `yaml:"rule_preset"`
	Mode              string        `yaml:"mode"`
	Health            HealthConfig  `yaml:"health"`
	Automod           AutomodConfig `yaml:"automod"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AutomodConfig struct {
	PointDecayEnabled bool         `yaml:"point_decay_enabled"`
	PointDecayDays    int          `yaml:"point_decay_days"`
	EscalationRearm   bool         `yaml:"escalation_rearm"`
	EscalationTTLDays int          `yaml:"escalation_ttl_days"`
	Tiers             []TierConfig `yaml:"tiers"`
}

type TierConfig struct {
	Threshold      int      `yaml:"threshold"`
	Actions        []string `yaml:"actions"`
	TimeoutMinutes int      `yaml:"timeout_minutes"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:  "/data/heimdall.db",
		LogLevel:      "info",
		RetentionDays: 30,
		RulePreset:    "medium",
		Mode:          "normal",
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Automod: AutomodConfig{
			PointDecayEnabled: true,
			PointDecayDays:    30,
			EscalationRearm:   true,
			EscalationTTLDays: 90,
			Tiers: []TierConfig{
				{Threshold: 5, Actions: []string{"timeout"}, TimeoutMinutes: 60},
				{Threshold: 10, Actions: []string{"kick"}},
				{Threshold: 15, Actions: []string{"ban"}},
			},
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.Mode = normalizeMode(cfg.Mode)
	cfg.RulePreset = normalizePreset(cfg.RulePreset)
	applyPreset(&cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.DefaultLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.RulePreset = envString("RULE_PRESET", cfg.RulePreset)
	cfg.Mode = envString("MODE", cfg.Mode)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Automod.PointDecayEnabled = envBool("POINT_DECAY_ENABLED", cfg.Automod.PointDecayEnabled)
	cfg.Automod.PointDecayDays = envInt("POINT_DECAY_DAYS", cfg.Automod.PointDecayDays)
	cfg.Automod.EscalationRearm = envBool("ESCALATION_REARM", cfg.Automod.EscalationRearm)
	cfg.Automod.EscalationTTLDays = envInt("ESCALATION_TTL_DAYS", cfg.Automod.EscalationTTLDays)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeMode(value string) string {
	switch strings.ToLower(value) {
	case "audit":
		return "audit"
	default:
		return "normal"
	}
}

func normalizePreset(value string) string {
	switch strings.ToLower(value) {
	case "low", "medium", "high":
		return strings.ToLower(value)
	default:
		return "medium"
	}
}

// applyPreset adjusts default escalation thresholds; an explicit tier list
// in the config file wins over the preset.
func applyPreset(cfg *Config) {
	if len(cfg.Automod.Tiers) > 0 && !tiersEqual(cfg.Automod.Tiers, DefaultConfig().Automod.Tiers) {
		return
	}

	switch cfg.RulePreset {
	case "low":
		cfg.Automod.Tiers = []TierConfig{
			{Threshold: 8, Actions: []string{"timeout"}, TimeoutMinutes: 30},
			{Threshold: 16, Actions: []string{"kick"}},
			{Threshold: 24, Actions: []string{"ban"}},
		}
	case "high":
		cfg.Automod.Tiers = []TierConfig{
			{Threshold: 3, Actions: []string{"timeout"}, TimeoutMinutes: 120},
			{Threshold: 6, Actions: []string{"kick"}},
			{Threshold: 9, Actions: []string{"ban"}},
		}
	}
}

func tiersEqual(a, b []TierConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Threshold != b[i].Threshold || a[i].TimeoutMinutes != b[i].TimeoutMinutes {
			return false
		}
		if len(a[i].Actions) != len(b[i].Actions) {
			return false
		}
		for j := range a[i].Actions {
			if a[i].Actions[j] != b[i].Actions[j] {
				return false
			}
		}
	}
	return true
}
