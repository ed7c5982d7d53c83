// Package config loads the collector configuration via viper and
// initializes the global zap logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ayushrajani07/g6-collector/internal/gating"
	"github.com/ayushrajani07/g6-collector/internal/monitoring"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig                `yaml:"log" mapstructure:"log"`
	Enrich     EnrichConfig             `yaml:"enrich" mapstructure:"enrich"`
	PhaseLog   PhaseLogConfig           `yaml:"phase_log" mapstructure:"phase_log"`
	Gating     gating.Config            `yaml:"gating" mapstructure:"gating"`
	Store      StoreConfig              `yaml:"store" mapstructure:"store"`
	Server     ServerConfig             `yaml:"server" mapstructure:"server"`
	Monitoring monitoring.AnomalyConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EnrichConfig configures the quote-enrichment stage.
type EnrichConfig struct {
	Async             bool          `yaml:"async" mapstructure:"async"`
	BatchSize         int           `yaml:"batch_size" mapstructure:"batch_size"`
	Workers           int           `yaml:"workers" mapstructure:"workers"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	DispatchPerSecond float64       `yaml:"dispatch_per_second" mapstructure:"dispatch_per_second"`
}

// PhaseLogConfig configures the structured phase logger.
type PhaseLogConfig struct {
	Dedup bool `yaml:"dedup" mapstructure:"dedup"`
}

// StoreConfig points at the gating decision database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// Load reads configuration from g6.yaml (working directory or
// $HOME/.g6), overlaid with G6_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("g6")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.g6")
	v.SetEnvPrefix("G6")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
		// Defaults plus environment are a full configuration.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("enrich.async", true)
	v.SetDefault("enrich.batch_size", 25)
	v.SetDefault("enrich.workers", 4)
	v.SetDefault("enrich.timeout", "10s")
	v.SetDefault("enrich.dispatch_per_second", 0)

	v.SetDefault("phase_log.dedup", true)

	def := gating.DefaultConfig()
	v.SetDefault("gating.mode", def.Mode)
	v.SetDefault("gating.window_size", def.WindowSize)
	v.SetDefault("gating.min_samples", def.MinSamples)
	v.SetDefault("gating.canary_target", def.CanaryTarget)
	v.SetDefault("gating.promote_target", def.PromoteTarget)
	v.SetDefault("gating.promote_streak", def.PromoteStreak)
	v.SetDefault("gating.fail_streak_hold", def.FailStreakHold)
	v.SetDefault("gating.protected_fields", def.ProtectedFields)

	v.SetDefault("store.path", "g6_gating.db")
	v.SetDefault("server.port", 9315)

	v.SetDefault("monitoring.score_threshold", 25.0)
	v.SetDefault("monitoring.webhook_url", "")
}

// InitLogger builds and installs the global zap logger.
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
