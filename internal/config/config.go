package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Detector DetectorConfig `mapstructure:"detector"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Retrain  RetrainConfig  `mapstructure:"retrain"`
	Models   ModelsConfig   `mapstructure:"models"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig selects the telemetry source and result sink
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn"`
}

// ForecastConfig holds model training options
type ForecastConfig struct {
	Engine                string        `mapstructure:"engine"`
	IntervalWidth         float64       `mapstructure:"interval_width"`
	SeasonalityMode       string        `mapstructure:"seasonality_mode"`
	DailySeasonality      bool          `mapstructure:"daily_seasonality"`
	WeeklySeasonality     bool          `mapstructure:"weekly_seasonality"`
	ChangepointPriorScale float64       `mapstructure:"changepoint_prior_scale"`
	MinPoints             int           `mapstructure:"min_points"`
	TrainingWindow        time.Duration `mapstructure:"training_window"` // 0 = full history
}

// DetectorConfig holds scoring configuration
type DetectorConfig struct {
	AnomalyThreshold float64 `mapstructure:"anomaly_threshold"`
}

// WorkerConfig holds ingestion polling configuration
type WorkerConfig struct {
	Mode                   string        `mapstructure:"mode"` // batch or individual
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	IndividualPollInterval time.Duration `mapstructure:"individual_poll_interval"`
	Lookback               time.Duration `mapstructure:"lookback"`
	OnceLookback           time.Duration `mapstructure:"once_lookback"`
	ScoreWorkers           int           `mapstructure:"score_workers"`
}

// RetrainConfig holds the daily retraining schedule
type RetrainConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Hour          int           `mapstructure:"hour"`
	Minute        int           `mapstructure:"minute"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Workers       int           `mapstructure:"workers"`
}

// ModelsConfig holds model persistence configuration
type ModelsConfig struct {
	Dir string `mapstructure:"dir"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// KafkaConfig holds the anomaly event stream configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"` // stderr, stdout or a file path
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables.
// An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// PROCWATCH_DATABASE_DSN overrides database.dsn
	v.SetEnvPrefix("PROCWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/procwatch.db")

	v.SetDefault("forecast.engine", "seasonal")
	v.SetDefault("forecast.interval_width", 0.95)
	v.SetDefault("forecast.seasonality_mode", "multiplicative")
	v.SetDefault("forecast.daily_seasonality", true)
	v.SetDefault("forecast.weekly_seasonality", true)
	v.SetDefault("forecast.changepoint_prior_scale", 0.05)
	v.SetDefault("forecast.min_points", 10)
	v.SetDefault("forecast.training_window", "0s")

	v.SetDefault("detector.anomaly_threshold", 2.0)

	v.SetDefault("worker.mode", "batch")
	v.SetDefault("worker.poll_interval", "10m")
	v.SetDefault("worker.individual_poll_interval", "2s")
	v.SetDefault("worker.lookback", "24h")
	v.SetDefault("worker.once_lookback", "1h")
	v.SetDefault("worker.score_workers", 4)

	v.SetDefault("retrain.enabled", true)
	v.SetDefault("retrain.hour", 2)
	v.SetDefault("retrain.minute", 0)
	v.SetDefault("retrain.check_interval", "60s")
	v.SetDefault("retrain.workers", 4)

	v.SetDefault("models.dir", "./models")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "procwatch.anomalies")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be one of: sqlite, postgres")
	}

	if c.Forecast.Engine != "seasonal" && c.Forecast.Engine != "fourier" {
		return fmt.Errorf("forecast.engine must be one of: seasonal, fourier")
	}
	if c.Forecast.IntervalWidth <= 0 || c.Forecast.IntervalWidth >= 1 {
		return fmt.Errorf("forecast.interval_width must be between 0 and 1 (exclusive)")
	}
	if c.Forecast.SeasonalityMode != "additive" && c.Forecast.SeasonalityMode != "multiplicative" {
		return fmt.Errorf("forecast.seasonality_mode must be one of: additive, multiplicative")
	}
	if c.Forecast.ChangepointPriorScale < 0 {
		return fmt.Errorf("forecast.changepoint_prior_scale must not be negative")
	}
	if c.Forecast.MinPoints < 2 {
		return fmt.Errorf("forecast.min_points must be at least 2")
	}
	if c.Forecast.TrainingWindow < 0 {
		return fmt.Errorf("forecast.training_window must not be negative")
	}

	if c.Detector.AnomalyThreshold <= 0 {
		return fmt.Errorf("detector.anomaly_threshold must be positive")
	}

	if c.Worker.Mode != "batch" && c.Worker.Mode != "individual" {
		return fmt.Errorf("worker.mode must be one of: batch, individual")
	}
	if c.Worker.PollInterval < time.Second {
		return fmt.Errorf("worker.poll_interval must be at least 1 second")
	}
	if c.Worker.IndividualPollInterval < 100*time.Millisecond {
		return fmt.Errorf("worker.individual_poll_interval must be at least 100ms")
	}
	if c.Worker.Lookback <= 0 {
		return fmt.Errorf("worker.lookback must be positive")
	}
	if c.Worker.OnceLookback <= 0 {
		return fmt.Errorf("worker.once_lookback must be positive")
	}
	if c.Worker.ScoreWorkers < 1 {
		return fmt.Errorf("worker.score_workers must be at least 1")
	}

	if c.Retrain.Hour < 0 || c.Retrain.Hour > 23 {
		return fmt.Errorf("retrain.hour must be between 0 and 23")
	}
	if c.Retrain.Minute < 0 || c.Retrain.Minute > 59 {
		return fmt.Errorf("retrain.minute must be between 0 and 59")
	}
	if c.Retrain.CheckInterval < time.Second {
		return fmt.Errorf("retrain.check_interval must be at least 1 second")
	}
	if c.Retrain.Workers < 1 {
		return fmt.Errorf("retrain.workers must be at least 1")
	}

	if c.Models.Dir == "" {
		return fmt.Errorf("models.dir is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 0 {
			return fmt.Errorf("telegram.max_retries must not be negative")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.Output != "stderr" && c.Logging.Output != "stdout" && c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1 for file output")
	}

	return nil
}
