package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/procwatch/internal/config"
	"github.com/rewired-gh/procwatch/internal/forecast"
	"github.com/rewired-gh/procwatch/internal/ingest"
	"github.com/rewired-gh/procwatch/internal/logger"
	"github.com/rewired-gh/procwatch/internal/metrics"
	"github.com/rewired-gh/procwatch/internal/modelstore"
	"github.com/rewired-gh/procwatch/internal/publish"
	"github.com/rewired-gh/procwatch/internal/retrain"
	"github.com/rewired-gh/procwatch/internal/storage"
	"github.com/rewired-gh/procwatch/internal/telegram"
)

const pingTimeout = 10 * time.Second

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	store    *storage.Storage
	models   *modelstore.Store
	oracle   forecast.Oracle
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	telegram *telegram.Client
	kafka    *publish.Publisher
}

// newApp opens storage and builds the oracle. Notifiers are attached
// separately by the commands that need them.
func newApp(cfg *config.Config) (*app, error) {
	store, err := storage.New(storage.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	oracle, err := forecast.New(forecastOptions(cfg))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize forecast engine: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		store:    store,
		models:   modelstore.New(),
		oracle:   oracle,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func forecastOptions(cfg *config.Config) forecast.Options {
	return forecast.Options{
		Engine:                cfg.Forecast.Engine,
		IntervalWidth:         cfg.Forecast.IntervalWidth,
		SeasonalityMode:       forecast.SeasonalityMode(cfg.Forecast.SeasonalityMode),
		DailySeasonality:      cfg.Forecast.DailySeasonality,
		WeeklySeasonality:     cfg.Forecast.WeeklySeasonality,
		ChangepointPriorScale: cfg.Forecast.ChangepointPriorScale,
		MinPoints:             cfg.Forecast.MinPoints,
	}
}

// loadModels publishes the models found in the models directory. A missing
// directory is an error; an empty one is an error only when required.
func (a *app) loadModels(required bool) (int, error) {
	loaded, err := modelstore.LoadDir(a.cfg.Models.Dir)
	if err != nil {
		if errors.Is(err, modelstore.ErrNoModelsDir) {
			return 0, fmt.Errorf("%w (run 'procwatch retrain' first)", err)
		}
		return 0, err
	}
	if len(loaded) == 0 && required {
		return 0, fmt.Errorf("no models found in %s", a.cfg.Models.Dir)
	}
	a.models.Publish(loaded)
	a.metrics.SetModels(len(loaded))
	logger.Info("Loaded %d models from %s", len(loaded), a.cfg.Models.Dir)
	return len(loaded), nil
}

// connectNotifiers creates the Telegram and Kafka clients that are enabled.
func (a *app) connectNotifiers() error {
	if a.cfg.Telegram.Enabled {
		tc, err := telegram.NewClient(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Telegram.MaxRetries, a.cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		a.telegram = tc
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if a.cfg.Kafka.Enabled {
		p, err := publish.NewPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka publisher: %w", err)
		}
		a.kafka = p
		logger.Info("Publishing anomalies to Kafka topic %s", a.cfg.Kafka.Topic)
	}
	return nil
}

func (a *app) workerOptions() []ingest.Option {
	opts := []ingest.Option{ingest.WithMetrics(a.metrics)}
	if a.telegram != nil {
		opts = append(opts, ingest.WithNotifiers(a.telegram), ingest.WithAlerter(a.telegram))
	}
	if a.kafka != nil {
		opts = append(opts, ingest.WithNotifiers(a.kafka))
	}
	return opts
}

func (a *app) newWorker(cfg ingest.Config) (*ingest.Worker, error) {
	return ingest.New(cfg, a.store, a.store, a.models, a.workerOptions()...)
}

func (a *app) newScheduler(hour, minute int) (*retrain.Scheduler, error) {
	return retrain.New(retrain.Config{
		Hour:           hour,
		Minute:         minute,
		CheckInterval:  a.cfg.Retrain.CheckInterval,
		Workers:        a.cfg.Retrain.Workers,
		TrainingWindow: a.cfg.Forecast.TrainingWindow,
		ModelsDir:      a.cfg.Models.Dir,
	}, a.store, a.oracle, a.models, retrain.WithMetrics(a.metrics))
}

func (a *app) close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			logger.Warn("Failed to close Kafka publisher: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}
