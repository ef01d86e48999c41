package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pipeline-engine/internal/sla"
	"github.com/sells-group/pipeline-engine/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Alerts     sla.Thresholds   `yaml:"alerts" mapstructure:"alerts"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings for the suggestion generator.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// NotifyConfig configures the outbound notification webhook.
type NotifyConfig struct {
	WebhookURL string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RPS        float64 `yaml:"rps" mapstructure:"rps"`
}

// ScoringConfig configures the batch rescore.
type ScoringConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// AutomationConfig configures action execution.
type AutomationConfig struct {
	DefaultEscalateTo string `yaml:"default_escalate_to" mapstructure:"default_escalate_to"`
}

// AIConfig configures the suggestion workflow.
type AIConfig struct {
	ScanCooldownMinutes int `yaml:"scan_cooldown_minutes" mapstructure:"scan_cooldown_minutes"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("notify.rps", 5)
	v.SetDefault("scoring.concurrency", 8)
	v.SetDefault("automation.default_escalate_to", "manager")
	v.SetDefault("ai.scan_cooldown_minutes", 30)
	v.SetDefault("alerts.stale_days", 14)
	v.SetDefault("alerts.critical_stale_days", 30)
	v.SetDefault("alerts.bulk_stale", 10)
	v.SetDefault("alerts.high_value", 10000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
