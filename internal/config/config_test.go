package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	// Create temp config file
	content := `
database:
  driver: sqlite
  dsn: "./data/test.db"

forecast:
  engine: seasonal
  seasonality_mode: additive
  training_window: 720h

worker:
  mode: individual
  poll_interval: 5m
  lookback: 12h

retrain:
  hour: 3
  minute: 15

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true

kafka:
  enabled: true
  brokers:
    - localhost:9092

logging:
  level: "info"
  format: "json"
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Worker.PollInterval != 5*time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Worker.PollInterval)
	}
	if cfg.Worker.Mode != "individual" {
		t.Errorf("Unexpected worker mode: %s", cfg.Worker.Mode)
	}
	if cfg.Forecast.TrainingWindow != 720*time.Hour {
		t.Errorf("Unexpected training window: %v", cfg.Forecast.TrainingWindow)
	}
	if cfg.Retrain.Hour != 3 || cfg.Retrain.Minute != 15 {
		t.Errorf("Unexpected retrain time: %02d:%02d", cfg.Retrain.Hour, cfg.Retrain.Minute)
	}
	if len(cfg.Kafka.Brokers) != 1 {
		t.Errorf("Expected 1 broker, got %d", len(cfg.Kafka.Brokers))
	}

	// Defaults fill what the file leaves out
	if cfg.Forecast.IntervalWidth != 0.95 {
		t.Errorf("Unexpected interval width default: %f", cfg.Forecast.IntervalWidth)
	}
	if cfg.Detector.AnomalyThreshold != 2.0 {
		t.Errorf("Unexpected anomaly threshold default: %f", cfg.Detector.AnomalyThreshold)
	}
	if cfg.Worker.OnceLookback != time.Hour {
		t.Errorf("Unexpected once lookback default: %v", cfg.Worker.OnceLookback)
	}
	if cfg.Kafka.Topic != "procwatch.anomalies" {
		t.Errorf("Unexpected kafka topic default: %s", cfg.Kafka.Topic)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	t.Setenv("PROCWATCH_DETECTOR_ANOMALY_THRESHOLD", "3.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Detector.AnomalyThreshold != 3.5 {
		t.Errorf("env override not applied: %f", cfg.Detector.AnomalyThreshold)
	}
	if cfg.Worker.PollInterval != 10*time.Minute {
		t.Errorf("Unexpected poll interval default: %v", cfg.Worker.PollInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/procwatch.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing telegram token when enabled",
			mutate: func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" },
		},
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Database.Driver = "mysql" },
		},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" },
		},
		{
			name:   "interval width out of range",
			mutate: func(c *Config) { c.Forecast.IntervalWidth = 1.0 },
		},
		{
			name:   "unknown seasonality mode",
			mutate: func(c *Config) { c.Forecast.SeasonalityMode = "logistic" },
		},
		{
			name:   "non-positive threshold",
			mutate: func(c *Config) { c.Detector.AnomalyThreshold = 0 },
		},
		{
			name:   "unknown worker mode",
			mutate: func(c *Config) { c.Worker.Mode = "stream" },
		},
		{
			name:   "retrain hour out of range",
			mutate: func(c *Config) { c.Retrain.Hour = 24 },
		},
		{
			name:   "kafka without brokers",
			mutate: func(c *Config) { c.Kafka.Enabled = true },
		},
		{
			name:   "file logging without size",
			mutate: func(c *Config) { c.Logging.Output = "/var/log/procwatch.log"; c.Logging.MaxSizeMB = 0 },
		},
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "trace" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() expected error")
			}
		})
	}
}
