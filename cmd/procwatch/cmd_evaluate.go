package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/procwatch/internal/detector"
	"github.com/rewired-gh/procwatch/internal/export"
	"github.com/rewired-gh/procwatch/internal/models"
)

var evaluateFlags struct {
	since time.Duration
	out   string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Report forecast fit metrics per variable",
	Long: "evaluate compares stored forecasts with the observed values and reports\n" +
		"MAE, RMSE, MAPE, R², interval coverage and residual statistics.",
	RunE: runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.DurationVar(&evaluateFlags.since, "since", 0, "Only include records newer than this (0 = all)")
	f.StringVar(&evaluateFlags.out, "out", "", "Also write "+export.MetricsFile+" into this directory")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.store.ListRecords(cmd.Context(), sinceTime(evaluateFlags.since), false)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no scored records to evaluate")
	}

	evals := detector.Evaluate(records)
	out := cmd.OutOrStdout()
	if err := printEvaluation(out, evals, detector.Overall(evals), 100*cfg.Forecast.IntervalWidth); err != nil {
		return err
	}

	if evaluateFlags.out != "" {
		path, err := export.WriteEvaluationFile(evaluateFlags.out, evals)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nWrote %s\n", path)
	}
	return nil
}

// printEvaluation writes the per-variable table, best fit first, followed by
// the overall figures.
func printEvaluation(out io.Writer, evals []models.ModelEvaluation, o detector.Overview, expectedCoverage float64) error {
	sorted := append([]models.ModelEvaluation(nil), evals...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].R2, sorted[j].R2
		if math.IsNaN(ri) != math.IsNaN(rj) {
			return !math.IsNaN(ri)
		}
		return ri > rj
	})

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tPOINTS\tMAE\tRMSE\tMAPE\tR²\tCOVERAGE\tRESID MEAN\tRESID STD\tANOMALIES")
	for _, e := range sorted {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			e.Variable, e.NPoints, metric(e.MAE, "%.4f"), metric(e.RMSE, "%.4f"),
			metric(e.MAPE, "%.2f%%"), metric(e.R2, "%.4f"), metric(e.CoveragePct, "%.1f%%"),
			metric(e.ResidualMean, "%.4f"), metric(e.ResidualStd, "%.4f"), e.NAnomalies)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d variables, %d points, %d anomalies (%.2f%%)\n",
		o.Variables, o.TotalPoints, o.TotalAnomalies, o.AnomalyRatePct)
	fmt.Fprintf(out, "MAE   mean %s  median %s\n", metric(o.Mean.MAE, "%.4f"), metric(o.Median.MAE, "%.4f"))
	fmt.Fprintf(out, "RMSE  mean %s  median %s\n", metric(o.Mean.RMSE, "%.4f"), metric(o.Median.RMSE, "%.4f"))
	fmt.Fprintf(out, "MAPE  mean %s  median %s\n", metric(o.Mean.MAPE, "%.2f%%"), metric(o.Median.MAPE, "%.2f%%"))
	fmt.Fprintf(out, "R²    mean %s  median %s\n", metric(o.Mean.R2, "%.4f"), metric(o.Median.R2, "%.4f"))
	fmt.Fprintf(out, "Coverage mean %s, expected %.1f%%\n", metric(o.Mean.CoveragePct, "%.2f%%"), expectedCoverage)

	fmt.Fprintln(out, "\nR² distribution:")
	for _, b := range o.Bands {
		fmt.Fprintf(out, "  %-11s %d\n", b.Label, b.Count)
	}
	return nil
}

func metric(v float64, format string) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf(format, v)
}
