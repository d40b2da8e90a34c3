package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/procwatch/internal/detector"
)

var summaryFlags struct {
	since time.Duration
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print per-variable anomaly statistics",
	RunE:  runSummary,
}

func init() {
	summaryCmd.Flags().DurationVar(&summaryFlags.since, "since", 0, "Only include records newer than this (0 = all)")
}

func sinceTime(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-d)
}

func runSummary(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.store.ListRecords(cmd.Context(), sinceTime(summaryFlags.since), false)
	if err != nil {
		return err
	}
	summaries := detector.Summarize(records)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tANOMALIES\tRATE\tAVG SCORE\tMAX SCORE\tAVG RESIDUAL\tSTD RESIDUAL\tPOINTS")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.2f\t%.2f\t%.3f\t%.3f\t%d\n",
			s.Variable, s.NAnomalies, s.AnomalyRate*100, s.AvgScore, s.MaxScore,
			s.AvgResidual, s.StdResidual, s.NPoints)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d variables, %d records\n", len(summaries), len(records))
	return nil
}
