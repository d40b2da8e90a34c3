package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObservedPointValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		point   ObservedPoint
		wantErr bool
	}{
		{
			name:  "valid point",
			point: ObservedPoint{Variable: "FIC-101.PV", Timestamp: now, Value: 45.2},
		},
		{
			name:    "empty variable",
			point:   ObservedPoint{Timestamp: now, Value: 1},
			wantErr: true,
		},
		{
			name:    "zero timestamp",
			point:   ObservedPoint{Variable: "TI-204", Value: 1},
			wantErr: true,
		},
		{
			name:    "infinite value",
			point:   ObservedPoint{Variable: "TI-204", Timestamp: now, Value: math.Inf(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "Validate() error = %v", err)
		})
	}
}

func TestKeyNormalizesLocation(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("ART", -3*3600))
	p := ObservedPoint{Variable: "PI-7", Timestamp: ts}
	r := AnomalyRecord{Variable: "PI-7", Timestamp: ts.UTC()}

	assert.Equal(t, KeyOf(p), r.Key())
}

func TestErrorPctDefined(t *testing.T) {
	r := AnomalyRecord{PredictionErrorPct: math.NaN()}
	assert.False(t, r.ErrorPctDefined())
	r.PredictionErrorPct = 16.3
	assert.True(t, r.ErrorPctDefined())
}
