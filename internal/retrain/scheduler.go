// Package retrain rebuilds every variable's model once a day.
package retrain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rewired-gh/procwatch/internal/logger"
	"github.com/rewired-gh/procwatch/internal/metrics"
	"github.com/rewired-gh/procwatch/internal/modelstore"
)

// State is the scheduler's position in its daily cycle.
type State int

const (
	Waiting State = iota
	Training
)

func (s State) String() string {
	if s == Training {
		return "training"
	}
	return "waiting"
}

// Config controls when and how retraining runs.
type Config struct {
	Hour           int
	Minute         int
	CheckInterval  time.Duration
	Workers        int
	TrainingWindow time.Duration
	ModelsDir      string
}

// Scheduler fires RetrainAll at the configured time of day, at most once per
// calendar day.
type Scheduler struct {
	cfg      Config
	src      Source
	trainer  Trainer
	store    Store
	metrics  *metrics.Recorder
	now      func() time.Time
	schedule cron.Schedule

	mu      sync.Mutex
	state   State
	next    time.Time
	lastDay string
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a scheduler waiting for the first fire time after now.
func New(cfg Config, src Source, trainer Trainer, store Store, opts ...Option) (*Scheduler, error) {
	if cfg.Hour < 0 || cfg.Hour > 23 {
		return nil, fmt.Errorf("retrain hour must be in [0, 23], got %d", cfg.Hour)
	}
	if cfg.Minute < 0 || cfg.Minute > 59 {
		return nil, fmt.Errorf("retrain minute must be in [0, 59], got %d", cfg.Minute)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}

	expr := fmt.Sprintf("%d %d * * *", cfg.Minute, cfg.Hour)
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse retrain schedule %q: %w", expr, err)
	}

	s := &Scheduler{
		cfg:      cfg,
		src:      src,
		trainer:  trainer,
		store:    store,
		now:      time.Now,
		schedule: schedule,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.next = schedule.Next(s.now())
	return s, nil
}

// Next returns the next fire time.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// State returns whether a retrain is in progress.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Check runs RetrainAll when now has reached the fire time and no run has
// happened on now's calendar day. It reports whether a run was started.
func (s *Scheduler) Check(ctx context.Context, now time.Time) (bool, error) {
	s.mu.Lock()
	if now.Before(s.next) || s.state == Training {
		s.mu.Unlock()
		return false, nil
	}
	day := now.Format(time.DateOnly)
	if day == s.lastDay {
		s.next = s.schedule.Next(now)
		s.mu.Unlock()
		return false, nil
	}
	s.state = Training
	s.lastDay = day
	s.mu.Unlock()

	logger.Info("Scheduled retraining started")
	_, err := s.RetrainAll(ctx)

	s.mu.Lock()
	s.state = Waiting
	s.next = s.schedule.Next(now)
	next := s.next
	s.mu.Unlock()

	if err != nil {
		logger.Error("Scheduled retraining failed: %v", err)
	}
	logger.Info("Next retraining at %s", next.Format(time.RFC3339))
	return true, err
}

// Run calls Check every check interval until ctx is done. A retrain in
// progress runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("Starting retraining scheduler (daily at %02d:%02d, next: %s)",
		s.cfg.Hour, s.cfg.Minute, s.Next().Format(time.RFC3339))

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Retraining scheduler stopped")
			return nil
		case <-ticker.C:
			_, _ = s.Check(context.WithoutCancel(ctx), s.now())
		}
	}
}

func (s *Scheduler) persist(snap *modelstore.Snapshot) error {
	if s.cfg.ModelsDir == "" {
		return nil
	}
	if err := modelstore.SaveDir(s.cfg.ModelsDir, snap); err != nil {
		return fmt.Errorf("failed to persist models: %w", err)
	}
	return nil
}
