// Package detector turns forecasts and observations into graded anomaly verdicts.
package detector

import (
	"fmt"
	"math"

	"github.com/rewired-gh/procwatch/internal/models"
)

const (
	// DefaultThreshold is the residual multiple of std that flags a high residual.
	DefaultThreshold = 2.0

	maxScore       = 100.0
	intervalWeight = 50.0
	residualWeight = 20.0
)

// Scorer grades observations against their forecasts. It holds no state.
type Scorer struct {
	Threshold float64
}

// New returns a scorer using threshold, or DefaultThreshold when threshold <= 0.
func New(threshold float64) Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Scorer{Threshold: threshold}
}

// Score grades one observation. stdResidual is the standard deviation of the
// residuals in the batch the observation belongs to.
func (s Scorer) Score(obs models.ObservedPoint, fc models.ForecastRow, stdResidual float64) models.AnomalyRecord {
	y := obs.Value
	residual := y - fc.Yhat

	outside := y < fc.YhatLower || y > fc.YhatUpper
	high := stdResidual > 0 && math.Abs(residual) > s.Threshold*stdResidual

	return models.AnomalyRecord{
		Timestamp:          obs.Timestamp,
		Variable:           obs.Variable,
		Observed:           y,
		Yhat:               fc.Yhat,
		YhatLower:          fc.YhatLower,
		YhatUpper:          fc.YhatUpper,
		Residual:           residual,
		OutsideInterval:    outside,
		HighResidual:       high,
		IsAnomaly:          outside || high,
		AnomalyScore:       AnomalyScore(y, fc, residual, stdResidual),
		PredictionErrorPct: PredictionErrorPct(residual, fc.Yhat),
		SourceTag:          obs.Source,
	}
}

// AnomalyScore combines interval overshoot and residual magnitude into [0, 100].
func AnomalyScore(y float64, fc models.ForecastRow, residual, stdResidual float64) float64 {
	var base float64
	switch {
	case y > fc.YhatUpper:
		base = overshoot(y-fc.YhatUpper, fc.YhatUpper-fc.Yhat)
	case y < fc.YhatLower:
		base = overshoot(fc.YhatLower-y, fc.Yhat-fc.YhatLower)
	}

	var residualTerm float64
	if stdResidual > 0 {
		residualTerm = math.Abs(residual) / stdResidual * residualWeight
	}

	return clamp(math.Max(base, residualTerm))
}

// overshoot scales distance beyond a bound by the half-width of the interval.
// A zero-width interval is treated as maximal deviation.
func overshoot(distance, halfWidth float64) float64 {
	if halfWidth == 0 {
		return maxScore
	}
	return distance / halfWidth * intervalWeight
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

// PredictionErrorPct returns |residual/yhat|*100, or NaN when yhat is zero.
func PredictionErrorPct(residual, yhat float64) float64 {
	if yhat == 0 {
		return math.NaN()
	}
	return math.Abs(residual/yhat) * 100
}

// ScoreBatch scores the points of a single variable against rows of the same
// length and order. The residual standard deviation is computed once over the
// whole batch.
func (s Scorer) ScoreBatch(points []models.ObservedPoint, rows []models.ForecastRow) ([]models.AnomalyRecord, error) {
	if len(points) != len(rows) {
		return nil, fmt.Errorf("forecast has %d rows for %d points", len(rows), len(points))
	}

	residuals := make([]float64, len(points))
	for i, p := range points {
		residuals[i] = p.Value - rows[i].Yhat
	}
	std := StdDev(residuals)

	records := make([]models.AnomalyRecord, len(points))
	for i, p := range points {
		records[i] = s.Score(p, rows[i], std)
	}
	return records, nil
}
