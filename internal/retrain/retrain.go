package retrain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/procwatch/internal/forecast"
	"github.com/rewired-gh/procwatch/internal/logger"
	"github.com/rewired-gh/procwatch/internal/models"
	"github.com/rewired-gh/procwatch/internal/modelstore"
)

// Source lists variables and reads their history.
type Source interface {
	Variables(ctx context.Context) ([]string, error)
	History(ctx context.Context, variable string, since time.Time) ([]models.ObservedPoint, error)
}

// Trainer fits one model. forecast.Oracle satisfies it.
type Trainer interface {
	Train(variable string, history []models.ObservedPoint) (*forecast.Model, error)
}

// Store publishes models.
type Store interface {
	Snapshot() *modelstore.Snapshot
	Update(fn func(prev map[string]*forecast.Model) map[string]*forecast.Model) uint64
}

// Result summarizes one retraining run.
type Result struct {
	Trained    []string
	Skipped    []string
	Failed     map[string]error
	Generation uint64
	Duration   time.Duration
}

// RetrainAll trains a model for every known variable and publishes the
// successes over the previous generation in one swap. Variables that fail
// keep their previous model.
func (s *Scheduler) RetrainAll(ctx context.Context) (Result, error) {
	start := s.now()
	res := Result{Failed: map[string]error{}}

	vars, err := s.src.Variables(ctx)
	if err != nil {
		s.metrics.RecordRetrain(0, 1, s.store.Snapshot().Len())
		return res, fmt.Errorf("failed to list variables: %w", err)
	}

	var since time.Time
	if s.cfg.TrainingWindow > 0 {
		since = start.Add(-s.cfg.TrainingWindow)
	}

	var (
		mu      sync.Mutex
		trained = map[string]*forecast.Model{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, v := range vars {
		g.Go(func() error {
			m, err := s.trainOne(gctx, v, since)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				trained[v] = m
			case errors.Is(err, models.ErrInsufficientData):
				logger.Info("Skipping %s: %v", v, err)
				res.Skipped = append(res.Skipped, v)
			default:
				logger.Warn("Failed to train %s: %v", v, err)
				res.Failed[v] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(trained) > 0 {
		res.Generation = s.store.Update(func(prev map[string]*forecast.Model) map[string]*forecast.Model {
			for v, m := range trained {
				prev[v] = m
			}
			return prev
		})
	} else {
		res.Generation = s.store.Snapshot().Generation
	}
	for v := range trained {
		res.Trained = append(res.Trained, v)
	}
	sort.Strings(res.Trained)
	sort.Strings(res.Skipped)

	snap := s.store.Snapshot()
	failed := len(res.Failed) + len(res.Skipped)
	s.metrics.RecordRetrain(len(res.Trained), failed, snap.Len())
	res.Duration = s.now().Sub(start)

	if err := s.persist(snap); err != nil {
		logger.Error("Retraining published generation %d but %v", res.Generation, err)
		return res, err
	}
	logger.Info("Retraining complete in %v: %d trained, %d skipped, %d failed, %d models in generation %d",
		res.Duration, len(res.Trained), len(res.Skipped), len(res.Failed), snap.Len(), res.Generation)
	return res, nil
}

func (s *Scheduler) trainOne(ctx context.Context, variable string, since time.Time) (*forecast.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hist, err := s.src.History(ctx, variable, since)
	if err != nil {
		return nil, err
	}
	return s.trainer.Train(variable, hist)
}
