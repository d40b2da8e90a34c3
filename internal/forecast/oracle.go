// Package forecast trains per-variable forecasting models and predicts point
// forecasts with confidence bounds.
package forecast

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/procwatch/internal/models"
)

// SeasonalityMode selects how seasonal components combine with the trend.
type SeasonalityMode string

const (
	Additive       SeasonalityMode = "additive"
	Multiplicative SeasonalityMode = "multiplicative"
)

const (
	EngineSeasonal = "seasonal"
	EngineFourier  = "fourier"
)

// Options configures model training.
type Options struct {
	Engine                string
	IntervalWidth         float64
	SeasonalityMode       SeasonalityMode
	DailySeasonality      bool
	WeeklySeasonality     bool
	ChangepointPriorScale float64
	MinPoints             int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Engine:                EngineSeasonal,
		IntervalWidth:         0.95,
		SeasonalityMode:       Multiplicative,
		DailySeasonality:      true,
		WeeklySeasonality:     true,
		ChangepointPriorScale: 0.05,
		MinPoints:             10,
	}
}

// Window describes the history a model was trained on.
type Window struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Points int       `json:"points"`
}

// Model is a trained forecaster for one variable. It is never mutated after
// training; retraining produces a new Model.
type Model struct {
	Variable  string
	Engine    string
	TrainedAt time.Time
	Window    Window

	predictor predictor
}

type predictor interface {
	predict(ts []time.Time) ([]models.ForecastRow, error)
	params() any
}

// Oracle trains models and produces forecasts from them.
type Oracle interface {
	Train(variable string, history []models.ObservedPoint) (*Model, error)
	Predict(m *Model, ts []time.Time) ([]models.ForecastRow, error)
}

// New returns the oracle for opts.Engine.
func New(opts Options) (Oracle, error) {
	if opts.MinPoints <= 0 {
		opts.MinPoints = DefaultOptions().MinPoints
	}
	if opts.IntervalWidth <= 0 || opts.IntervalWidth >= 1 {
		return nil, fmt.Errorf("interval width must be in (0, 1), got %v", opts.IntervalWidth)
	}
	switch opts.Engine {
	case "", EngineSeasonal:
		if opts.SeasonalityMode != Additive && opts.SeasonalityMode != Multiplicative {
			return nil, fmt.Errorf("unknown seasonality mode %q", opts.SeasonalityMode)
		}
		return &seasonalOracle{opts: opts, now: time.Now}, nil
	case EngineFourier:
		return &fourierOracle{opts: opts, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("unknown forecast engine %q", opts.Engine)
	}
}

// Predict runs m against ts and returns one row per timestamp in order.
func Predict(m *Model, ts []time.Time) ([]models.ForecastRow, error) {
	if m == nil || m.predictor == nil {
		return nil, fmt.Errorf("predict: %w", models.ErrModelNotFound)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	rows, err := m.predictor.predict(ts)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", m.Variable, err)
	}
	if len(rows) != len(ts) {
		return nil, fmt.Errorf("predict %s: got %d rows for %d timestamps", m.Variable, len(rows), len(ts))
	}
	return rows, nil
}

type series struct {
	t []time.Time
	y []float64
}

// prepare sorts history by time and drops NaN values.
func prepare(variable string, history []models.ObservedPoint, minPoints int) (series, error) {
	pts := make([]models.ObservedPoint, 0, len(history))
	for _, p := range history {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) < minPoints {
		return series{}, fmt.Errorf("%w: %s has %d points, need %d", models.ErrInsufficientData, variable, len(pts), minPoints)
	}

	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })

	s := series{t: make([]time.Time, len(pts)), y: make([]float64, len(pts))}
	for i, p := range pts {
		s.t[i] = p.Timestamp.UTC()
		s.y[i] = p.Value
	}
	return s, nil
}

func (s series) window() Window {
	return Window{Start: s.t[0], End: s.t[len(s.t)-1], Points: len(s.t)}
}
