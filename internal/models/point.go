// Package models defines the core domain entities: observed points, forecasts,
// anomaly records and their per-variable summaries.
package models

import (
	"errors"
	"math"
	"time"
)

// ObservedPoint is a single telemetry reading for one process variable.
// Source is the tag of the file or feed the reading came from.
type ObservedPoint struct {
	Variable  string    `json:"variable"`
	Timestamp time.Time `json:"ds"`
	Value     float64   `json:"y"`
	Source    string    `json:"source_file,omitempty"`
}

// Validate checks point field constraints.
func (p *ObservedPoint) Validate() error {
	if p.Variable == "" {
		return errors.New("variable must not be empty")
	}
	if p.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if math.IsInf(p.Value, 0) {
		return errors.New("value must be finite")
	}
	return nil
}

// ForecastRow is the oracle's prediction for one timestamp.
// YhatUpper >= Yhat >= YhatLower is expected but not enforced.
type ForecastRow struct {
	Timestamp time.Time `json:"ds"`
	Yhat      float64   `json:"yhat"`
	YhatLower float64   `json:"yhat_lower"`
	YhatUpper float64   `json:"yhat_upper"`
}

// Key identifies a scored point in the result sink.
type Key struct {
	Variable  string
	Timestamp time.Time
}

// KeyOf returns the sink key of p.
func KeyOf(p ObservedPoint) Key {
	return Key{Variable: p.Variable, Timestamp: p.Timestamp.UTC()}
}
