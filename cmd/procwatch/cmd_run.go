package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/procwatch/internal/ingest"
	"github.com/rewired-gh/procwatch/internal/logger"
	"github.com/rewired-gh/procwatch/internal/metrics"
	"github.com/rewired-gh/procwatch/internal/retrain"
)

var runFlags struct {
	interval      time.Duration
	lookback      time.Duration
	mode          string
	retrainHour   int
	retrainMinute int
	noRetrain     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Continuously score new telemetry and retrain daily",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.DurationVar(&runFlags.interval, "interval", 0, "Poll interval (overrides the configured interval of the active mode)")
	f.DurationVar(&runFlags.lookback, "lookback", 0, "Lookback used when no progress is recorded (overrides worker.lookback)")
	f.StringVar(&runFlags.mode, "mode", "", "Polling mode: batch or individual (overrides worker.mode)")
	f.IntVar(&runFlags.retrainHour, "retrain-hour", 0, "Hour of day to retrain (overrides retrain.hour)")
	f.IntVar(&runFlags.retrainMinute, "retrain-minute", 0, "Minute to retrain (overrides retrain.minute)")
	f.BoolVar(&runFlags.noRetrain, "no-retrain", false, "Disable scheduled retraining")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Worker.Mode = runFlags.mode
	}
	if flags.Changed("lookback") {
		cfg.Worker.Lookback = runFlags.lookback
	}
	if flags.Changed("retrain-hour") {
		cfg.Retrain.Hour = runFlags.retrainHour
	}
	if flags.Changed("retrain-minute") {
		cfg.Retrain.Minute = runFlags.retrainMinute
	}
	if runFlags.noRetrain {
		cfg.Retrain.Enabled = false
	}
	interval := cfg.Worker.PollInterval
	if cfg.Worker.Mode == ingest.ModeIndividual {
		interval = cfg.Worker.IndividualPollInterval
	}
	if flags.Changed("interval") {
		interval = runFlags.interval
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validateInterval(cfg.Worker.Mode, interval); err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	loaded, err := a.loadModels(false)
	if err != nil {
		return err
	}
	if err := a.connectNotifiers(); err != nil {
		return err
	}

	worker, err := a.newWorker(ingest.Config{
		Mode:         cfg.Worker.Mode,
		PollInterval: interval,
		Lookback:     cfg.Worker.Lookback,
		Threshold:    cfg.Detector.AnomalyThreshold,
		ScoreWorkers: cfg.Worker.ScoreWorkers,
	})
	if err != nil {
		return err
	}

	var scheduler *retrain.Scheduler
	if cfg.Retrain.Enabled {
		scheduler, err = a.newScheduler(cfg.Retrain.Hour, cfg.Retrain.Minute)
		if err != nil {
			return err
		}
	} else {
		logger.Info("Scheduled retraining disabled")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if loaded == 0 {
		if err := bootstrapModels(ctx, a, scheduler); err != nil {
			return err
		}
	}

	if a.telegram != nil {
		a.telegram.ListenForCommands(ctx, func() string {
			return statusLine(a, worker, scheduler)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	if scheduler != nil {
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	if cfg.Metrics.Enabled {
		logger.Info("Serving metrics on %s/metrics", cfg.Metrics.Addr)
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, a.registry) })
	}

	err = g.Wait()
	logger.Info("Service stopped")
	return err
}

// validateInterval applies the bounds of worker.poll_interval and
// worker.individual_poll_interval to the effective interval.
func validateInterval(mode string, interval time.Duration) error {
	floor := time.Second
	if mode == ingest.ModeIndividual {
		floor = 100 * time.Millisecond
	}
	if interval < floor {
		return fmt.Errorf("poll interval must be at least %v for %s mode, got %v", floor, mode, interval)
	}
	return nil
}

// bootstrapModels trains the first generation when the models directory is
// empty. Without models the worker would only hold its progress, so a run
// that cannot produce any is a setup failure.
func bootstrapModels(ctx context.Context, a *app, s *retrain.Scheduler) error {
	if s == nil {
		return fmt.Errorf("no models found in %s and retraining is disabled (run 'procwatch retrain' first)", a.cfg.Models.Dir)
	}
	logger.Info("No models found in %s, training the first generation", a.cfg.Models.Dir)
	res, err := s.RetrainAll(ctx)
	if err != nil {
		return fmt.Errorf("initial training failed: %w", err)
	}
	if a.models.Snapshot().Len() == 0 {
		return fmt.Errorf("initial training produced no models (%d skipped, %d failed)", len(res.Skipped), len(res.Failed))
	}
	return nil
}

func statusLine(a *app, w *ingest.Worker, s *retrain.Scheduler) string {
	snap := a.models.Snapshot()
	mark := w.Watermark()
	line := fmt.Sprintf("mode=%s models=%d generation=%d %s=%s",
		w.Mode(), snap.Len(), snap.Generation, mark.Scope, mark.Timestamp.Format(time.RFC3339))
	if s != nil {
		line += " next_retrain=" + s.Next().Format(time.RFC3339)
	}
	return line
}

// cmdContext returns a context cancelled on SIGINT or SIGTERM.
func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
