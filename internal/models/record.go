package models

import (
	"math"
	"time"
)

// AnomalyRecord is the verdict for one (variable, timestamp) pair.
// PredictionErrorPct is NaN when the forecast was zero.
type AnomalyRecord struct {
	Timestamp          time.Time `json:"ds"`
	Variable           string    `json:"variable"`
	Observed           float64   `json:"y"`
	Yhat               float64   `json:"yhat"`
	YhatLower          float64   `json:"yhat_lower"`
	YhatUpper          float64   `json:"yhat_upper"`
	Residual           float64   `json:"residual"`
	OutsideInterval    bool      `json:"outside_interval"`
	HighResidual       bool      `json:"high_residual"`
	IsAnomaly          bool      `json:"is_anomaly"`
	AnomalyScore       float64   `json:"anomaly_score"`
	PredictionErrorPct float64   `json:"-"`
	SourceTag          string    `json:"source_file"`
}

// Key returns the sink key of the record.
func (r *AnomalyRecord) Key() Key {
	return Key{Variable: r.Variable, Timestamp: r.Timestamp.UTC()}
}

// ErrorPctDefined reports whether PredictionErrorPct holds a value.
func (r *AnomalyRecord) ErrorPctDefined() bool {
	return !math.IsNaN(r.PredictionErrorPct)
}

// AnomalySummary aggregates the records of one variable.
type AnomalySummary struct {
	Variable    string  `json:"variable"`
	NPoints     int     `json:"n_points"`
	NAnomalies  int     `json:"n_anomalies"`
	AnomalyRate float64 `json:"anomaly_rate"`
	AvgScore    float64 `json:"avg_score"`
	MaxScore    float64 `json:"max_score"`
	AvgResidual float64 `json:"avg_residual"`
	StdResidual float64 `json:"std_residual"`
}

// ModelEvaluation measures how well one variable's forecasts fit the observed
// values in the sink. Metrics that are undefined for the data are NaN.
type ModelEvaluation struct {
	Variable        string  `json:"variable"`
	NPoints         int     `json:"n_points"`
	MAE             float64 `json:"mae"`
	RMSE            float64 `json:"rmse"`
	MAPE            float64 `json:"mape"`
	R2              float64 `json:"r2"`
	CoveragePct     float64 `json:"interval_coverage_pct"`
	NOutside        int     `json:"n_outside_interval"`
	ResidualMean    float64 `json:"residual_mean"`
	ResidualStd     float64 `json:"residual_std"`
	ResidualMedian  float64 `json:"residual_median"`
	NAnomalies      int     `json:"n_anomalies"`
	AnomalyRatePct  float64 `json:"anomaly_rate_pct"`
	AvgAnomalyScore float64 `json:"avg_anomaly_score"`
	MaxAnomalyScore float64 `json:"max_anomaly_score"`
}

// Watermark is the boundary below which every timestamp has been scored.
type Watermark struct {
	Scope     string
	Timestamp time.Time
}
