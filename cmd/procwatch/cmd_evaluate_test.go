package main

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/procwatch/internal/detector"
	"github.com/rewired-gh/procwatch/internal/models"
)

func TestPrintEvaluation(t *testing.T) {
	evals := []models.ModelEvaluation{
		{Variable: "FIC-101", NPoints: 10, MAE: 1, RMSE: 1.5, MAPE: 4, R2: 0.5, CoveragePct: 90},
		{Variable: "LIC-200", NPoints: 1, MAE: 0, RMSE: 0, MAPE: math.NaN(), R2: math.NaN(), CoveragePct: 100},
		{Variable: "TIC-300", NPoints: 10, MAE: 0.2, RMSE: 0.3, MAPE: 1, R2: 0.97, CoveragePct: 95, NAnomalies: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, printEvaluation(&buf, evals, detector.Overall(evals), 95))
	out := buf.String()

	tic := strings.Index(out, "TIC-300")
	fic := strings.Index(out, "FIC-101")
	lic := strings.Index(out, "LIC-200")
	assert.True(t, tic < fic && fic < lic, "rows should be ordered by R² with undefined last:\n%s", out)
	assert.Contains(t, out, "expected 95.0%")
	assert.Contains(t, out, "R² distribution:")
	assert.Contains(t, out, "excellent")

	lines := strings.Split(out, "\n")
	for _, l := range lines {
		if strings.HasPrefix(l, "LIC-200") {
			assert.Contains(t, l, " - ", "undefined metrics print as a dash")
		}
	}
}
