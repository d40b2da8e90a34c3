package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/procwatch/internal/modelstore"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Retrain every variable's model now",
	RunE:  runRetrain,
}

func runRetrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Start from the existing models so failed variables keep them.
	if loaded, err := modelstore.LoadDir(cfg.Models.Dir); err == nil {
		a.models.Publish(loaded)
	}

	s, err := a.newScheduler(cfg.Retrain.Hour, cfg.Retrain.Minute)
	if err != nil {
		return err
	}

	ctx, stop := cmdContext(cmd)
	defer stop()

	res, err := s.RetrainAll(ctx)
	if err != nil {
		return fmt.Errorf("retrain: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Trained: %d  Skipped: %d  Failed: %d  Models: %d  (%v)\n",
		len(res.Trained), len(res.Skipped), len(res.Failed), a.models.Snapshot().Len(), res.Duration)
	for v, err := range res.Failed {
		fmt.Fprintf(out, "  failed %s: %v\n", v, err)
	}
	return nil
}
