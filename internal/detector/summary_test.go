package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/procwatch/internal/models"
)

func TestSummarize(t *testing.T) {
	records := []models.AnomalyRecord{
		{Variable: "A", Residual: 1, AnomalyScore: 10},
		{Variable: "A", Residual: 3, AnomalyScore: 90, IsAnomaly: true},
		{Variable: "B", Residual: -2, AnomalyScore: 100, IsAnomaly: true},
		{Variable: "B", Residual: 2, AnomalyScore: 80, IsAnomaly: true},
		{Variable: "C", Residual: 0, AnomalyScore: 0},
	}

	got := Summarize(records)
	require.Len(t, got, 3)

	assert.Equal(t, "B", got[0].Variable)
	assert.Equal(t, 2, got[0].NAnomalies)
	assert.Equal(t, 1.0, got[0].AnomalyRate)
	assert.Equal(t, 90.0, got[0].AvgScore)
	assert.Equal(t, 100.0, got[0].MaxScore)
	assert.InDelta(t, 0, got[0].AvgResidual, 1e-12)
	assert.InDelta(t, 2.828427, got[0].StdResidual, 1e-6)

	assert.Equal(t, "A", got[1].Variable)
	assert.Equal(t, 0.5, got[1].AnomalyRate)
	assert.Equal(t, 2, got[1].NPoints)

	assert.Equal(t, "C", got[2].Variable)
	assert.Zero(t, got[2].StdResidual)
}

func TestAnomalies(t *testing.T) {
	records := []models.AnomalyRecord{
		{Variable: "A", IsAnomaly: true},
		{Variable: "B"},
	}
	got := Anomalies(records)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Variable)
}

func TestStdDev(t *testing.T) {
	assert.Zero(t, StdDev(nil))
	assert.Zero(t, StdDev([]float64{4}))
	assert.InDelta(t, 2.138090, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-6)
}
