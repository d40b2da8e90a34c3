package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/procwatch/internal/ingest"
	"github.com/rewired-gh/procwatch/internal/logger"
)

var onceFlags struct {
	lookback time.Duration
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Score new telemetry once and exit",
	RunE:  runOnce,
}

func init() {
	onceCmd.Flags().DurationVar(&onceFlags.lookback, "lookback", 0, "Lookback used when no progress is recorded (overrides worker.once_lookback)")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lookback := cfg.Worker.OnceLookback
	if cmd.Flags().Changed("lookback") {
		lookback = onceFlags.lookback
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.loadModels(true); err != nil {
		return err
	}
	if err := a.connectNotifiers(); err != nil {
		return err
	}

	worker, err := a.newWorker(ingest.Config{
		Mode:         ingest.ModeBatch,
		Lookback:     lookback,
		Threshold:    cfg.Detector.AnomalyThreshold,
		ScoreWorkers: cfg.Worker.ScoreWorkers,
	})
	if err != nil {
		return err
	}

	ctx, stop := cmdContext(cmd)
	defer stop()

	start := time.Now()
	res, err := worker.RunOnce(ctx)
	if err != nil {
		logger.Error("Single pass failed: %v", err)
		return fmt.Errorf("single pass failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "OK: %d points, %d records (%d new), %d anomalies, %d skipped in %v; watermark %s\n",
		res.Points, res.Records, res.Appended, res.Anomalies, res.Skipped,
		time.Since(start).Round(time.Millisecond), res.Watermark.Format(time.RFC3339))
	return nil
}
