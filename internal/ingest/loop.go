package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/procwatch/internal/logger"
)

// Run seeds the worker, runs an initial tick and then one tick per poll
// interval until ctx is done. Tick errors are logged and alerted on, never
// returned. Each tick runs to completion even if ctx is cancelled meanwhile.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Seed(ctx); err != nil {
		return err
	}
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	logger.Info("Starting ingestion worker (mode: %s, interval: %v, lookback: %v)", w.cfg.Mode, interval, w.cfg.Lookback)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Ingestion worker stopped")
			return nil
		case <-ticker.C:
			w.runTick(ctx)
		}
	}
}

func (w *Worker) runTick(ctx context.Context) {
	id := uuid.NewString()[:8]
	logger.Debug("Starting tick %s", id)
	start := w.now()
	_, err := w.Tick(context.WithoutCancel(ctx))
	w.handleTickResult(err)
	logger.Debug("Tick %s finished in %v", id, w.now().Sub(start))
}

// handleTickResult alerts on the first failure of a streak and on recovery.
func (w *Worker) handleTickResult(err error) {
	if err != nil {
		w.failures++
		logger.Error("Ingestion tick failed (%d consecutive): %v", w.failures, err)
		if w.failures == 1 && w.alerter != nil {
			if sendErr := w.alerter.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}
	if w.failures > 0 && w.alerter != nil {
		if sendErr := w.alerter.SendRecovery(w.failures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	w.failures = 0
}
