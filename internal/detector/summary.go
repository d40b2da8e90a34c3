package detector

import (
	"math"
	"sort"

	"github.com/rewired-gh/procwatch/internal/models"
)

// Summarize aggregates records per variable, most anomalous variables first.
func Summarize(records []models.AnomalyRecord) []models.AnomalySummary {
	type acc struct {
		points    int
		anomalies int
		scoreSum  float64
		scoreMax  float64
		residuals Welford
	}
	byVar := make(map[string]*acc)

	for _, r := range records {
		a, ok := byVar[r.Variable]
		if !ok {
			a = &acc{}
			byVar[r.Variable] = a
		}
		a.points++
		if r.IsAnomaly {
			a.anomalies++
		}
		a.scoreSum += r.AnomalyScore
		a.scoreMax = math.Max(a.scoreMax, r.AnomalyScore)
		a.residuals.Add(r.Residual)
	}

	out := make([]models.AnomalySummary, 0, len(byVar))
	for v, a := range byVar {
		out = append(out, models.AnomalySummary{
			Variable:    v,
			NPoints:     a.points,
			NAnomalies:  a.anomalies,
			AnomalyRate: float64(a.anomalies) / float64(a.points),
			AvgScore:    a.scoreSum / float64(a.points),
			MaxScore:    a.scoreMax,
			AvgResidual: a.residuals.Mean,
			StdResidual: a.residuals.Std(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].NAnomalies != out[j].NAnomalies {
			return out[i].NAnomalies > out[j].NAnomalies
		}
		return out[i].Variable < out[j].Variable
	})
	return out
}

// Anomalies returns only the records flagged as anomalous.
func Anomalies(records []models.AnomalyRecord) []models.AnomalyRecord {
	var out []models.AnomalyRecord
	for _, r := range records {
		if r.IsAnomaly {
			out = append(out, r)
		}
	}
	return out
}
