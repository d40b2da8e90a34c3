// Package export writes scored records, the per-variable summary and the
// anomalies-only view as CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rewired-gh/procwatch/internal/detector"
	"github.com/rewired-gh/procwatch/internal/models"
)

const (
	RecordsFile   = "records.csv"
	SummaryFile   = "summary.csv"
	AnomaliesFile = "anomalies.csv"
	MetricsFile   = "model_metrics.csv"

	timeLayout = "2006-01-02 15:04:05"
)

var recordHeader = []string{
	"ds", "y", "yhat", "yhat_lower", "yhat_upper", "residual",
	"outside_interval", "high_residual", "is_anomaly", "anomaly_score",
	"variable", "prediction_error_pct", "source_file",
}

var summaryHeader = []string{
	"variable", "n_anomalies", "anomaly_rate", "avg_score", "max_score",
	"avg_residual", "std_residual", "n_points",
}

var evaluationHeader = []string{
	"variable", "n_points", "mae", "rmse", "mape", "r2",
	"interval_coverage_pct", "n_outside_interval",
	"residual_mean", "residual_std", "residual_median",
	"n_anomalies", "anomaly_rate_pct", "avg_anomaly_score", "max_anomaly_score",
}

// WriteRecords writes records with a header row.
func WriteRecords(w io.Writer, records []models.AnomalyRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return err
	}
	for i := range records {
		r := &records[i]
		pct := ""
		if r.ErrorPctDefined() {
			pct = formatFloat(r.PredictionErrorPct)
		}
		row := []string{
			r.Timestamp.UTC().Format(timeLayout),
			formatFloat(r.Observed),
			formatFloat(r.Yhat),
			formatFloat(r.YhatLower),
			formatFloat(r.YhatUpper),
			formatFloat(r.Residual),
			strconv.FormatBool(r.OutsideInterval),
			strconv.FormatBool(r.HighResidual),
			strconv.FormatBool(r.IsAnomaly),
			formatFloat(r.AnomalyScore),
			r.Variable,
			pct,
			r.SourceTag,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary writes per-variable summaries with a header row.
func WriteSummary(w io.Writer, summaries []models.AnomalySummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, s := range summaries {
		row := []string{
			s.Variable,
			strconv.Itoa(s.NAnomalies),
			formatFloat(s.AnomalyRate),
			formatFloat(s.AvgScore),
			formatFloat(s.MaxScore),
			formatFloat(s.AvgResidual),
			formatFloat(s.StdResidual),
			strconv.Itoa(s.NPoints),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEvaluation writes per-variable fit metrics with a header row.
// Undefined metrics are written as empty cells.
func WriteEvaluation(w io.Writer, evals []models.ModelEvaluation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(evaluationHeader); err != nil {
		return err
	}
	for _, e := range evals {
		row := []string{
			e.Variable,
			strconv.Itoa(e.NPoints),
			formatMetric(e.MAE),
			formatMetric(e.RMSE),
			formatMetric(e.MAPE),
			formatMetric(e.R2),
			formatMetric(e.CoveragePct),
			strconv.Itoa(e.NOutside),
			formatMetric(e.ResidualMean),
			formatMetric(e.ResidualStd),
			formatMetric(e.ResidualMedian),
			strconv.Itoa(e.NAnomalies),
			formatMetric(e.AnomalyRatePct),
			formatMetric(e.AvgAnomalyScore),
			formatMetric(e.MaxAnomalyScore),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEvaluationFile writes evals to MetricsFile in dir and returns its path.
func WriteEvaluationFile(dir string, evals []models.ModelEvaluation) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, MetricsFile)
	if err := writeFile(path, func(w io.Writer) error { return WriteEvaluation(w, evals) }); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", MetricsFile, err)
	}
	return path, nil
}

// WriteDir writes the three CSV files into dir and returns their paths.
func WriteDir(dir string, records []models.AnomalyRecord) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{RecordsFile, func(w io.Writer) error { return WriteRecords(w, records) }},
		{SummaryFile, func(w io.Writer) error { return WriteSummary(w, detector.Summarize(records)) }},
		{AnomaliesFile, func(w io.Writer) error { return WriteRecords(w, detector.Anomalies(records)) }},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeFile(path, f.write); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatMetric(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return formatFloat(v)
}
