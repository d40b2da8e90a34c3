package detector

import (
	"math"
	"sort"

	"github.com/rewired-gh/procwatch/internal/models"
)

// MetricStats holds one aggregate of the headline metrics across variables.
type MetricStats struct {
	MAE         float64
	RMSE        float64
	MAPE        float64
	R2          float64
	CoveragePct float64
	ResidualStd float64
}

// R2Band counts variables whose R² falls in [Min, Max).
type R2Band struct {
	Label string
	Min   float64
	Max   float64
	Count int
}

// Overview aggregates evaluations of all variables.
type Overview struct {
	Variables      int
	TotalPoints    int
	TotalAnomalies int
	AnomalyRatePct float64
	Mean           MetricStats
	Median         MetricStats
	Bands          []R2Band
}

var r2Bands = []R2Band{
	{Label: "excellent", Min: 0.95, Max: math.Inf(1)},
	{Label: "very good", Min: 0.90, Max: 0.95},
	{Label: "good", Min: 0.80, Max: 0.90},
	{Label: "acceptable", Min: 0.70, Max: 0.80},
	{Label: "fair", Min: 0.50, Max: 0.70},
	{Label: "poor", Min: 0, Max: 0.50},
	{Label: "very poor", Min: math.Inf(-1), Max: 0},
}

// mapeEpsilon excludes observations too close to zero from MAPE.
const mapeEpsilon = 1e-10

// Evaluate computes fit metrics per variable from scored records, ordered by
// variable. Records with a non-finite observation or forecast are left out of
// the error metrics; the anomaly counts cover every record.
func Evaluate(records []models.AnomalyRecord) []models.ModelEvaluation {
	byVar := make(map[string][]models.AnomalyRecord)
	for _, r := range records {
		byVar[r.Variable] = append(byVar[r.Variable], r)
	}

	out := make([]models.ModelEvaluation, 0, len(byVar))
	for v, rs := range byVar {
		out = append(out, evaluateVariable(v, rs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Variable < out[j].Variable })
	return out
}

func evaluateVariable(variable string, rs []models.AnomalyRecord) models.ModelEvaluation {
	e := models.ModelEvaluation{Variable: variable, NPoints: len(rs)}

	var (
		y, yhat   []float64
		residuals []float64
		inside    int
		covered   int
		scoreSum  float64
	)
	e.MaxAnomalyScore = math.NaN()
	for _, r := range rs {
		if finite(r.Observed) && finite(r.Yhat) {
			y = append(y, r.Observed)
			yhat = append(yhat, r.Yhat)
		}
		if finite(r.Observed) && finite(r.YhatLower) && finite(r.YhatUpper) {
			covered++
			if r.Observed >= r.YhatLower && r.Observed <= r.YhatUpper {
				inside++
			}
		}
		if finite(r.Residual) {
			residuals = append(residuals, r.Residual)
		}
		if r.IsAnomaly {
			e.NAnomalies++
			scoreSum += r.AnomalyScore
		}
		if math.IsNaN(e.MaxAnomalyScore) || r.AnomalyScore > e.MaxAnomalyScore {
			e.MaxAnomalyScore = r.AnomalyScore
		}
	}

	e.MAE, e.RMSE, e.MAPE, e.R2 = fitErrors(y, yhat)

	e.CoveragePct = math.NaN()
	if covered > 0 {
		e.CoveragePct = 100 * float64(inside) / float64(covered)
		e.NOutside = covered - inside
	}

	e.ResidualMean, e.ResidualStd, e.ResidualMedian = math.NaN(), math.NaN(), math.NaN()
	if len(residuals) > 0 {
		var w Welford
		for _, r := range residuals {
			w.Add(r)
		}
		e.ResidualMean = w.Mean
		e.ResidualStd = math.Sqrt(w.M2 / float64(w.Count))
		e.ResidualMedian = median(residuals)
	}

	e.AnomalyRatePct = 100 * float64(e.NAnomalies) / float64(len(rs))
	if e.NAnomalies > 0 {
		e.AvgAnomalyScore = scoreSum / float64(e.NAnomalies)
	}
	return e
}

// fitErrors returns MAE, RMSE, MAPE (percent) and R² of yhat against y.
func fitErrors(y, yhat []float64) (mae, rmse, mape, r2 float64) {
	n := len(y)
	if n == 0 {
		return math.NaN(), math.NaN(), math.NaN(), math.NaN()
	}

	var absSum, sqSum, pctSum, mean float64
	pctN := 0
	for i := range y {
		d := y[i] - yhat[i]
		absSum += math.Abs(d)
		sqSum += d * d
		mean += y[i]
		if math.Abs(y[i]) > mapeEpsilon {
			pctSum += math.Abs(d / y[i])
			pctN++
		}
	}
	mean /= float64(n)
	mae = absSum / float64(n)
	rmse = math.Sqrt(sqSum / float64(n))

	mape = math.NaN()
	if pctN > 0 {
		mape = 100 * pctSum / float64(pctN)
	}

	r2 = math.NaN()
	if n >= 2 {
		var tot float64
		for _, v := range y {
			tot += (v - mean) * (v - mean)
		}
		switch {
		case tot > 0:
			r2 = 1 - sqSum/tot
		case sqSum == 0:
			r2 = 1
		default:
			r2 = 0
		}
	}
	return mae, rmse, mape, r2
}

// Overall aggregates evaluations. Means and medians skip undefined values.
func Overall(evals []models.ModelEvaluation) Overview {
	o := Overview{Variables: len(evals)}
	cols := make([][]float64, 6)
	for _, e := range evals {
		o.TotalPoints += e.NPoints
		o.TotalAnomalies += e.NAnomalies
		for i, v := range []float64{e.MAE, e.RMSE, e.MAPE, e.R2, e.CoveragePct, e.ResidualStd} {
			if !math.IsNaN(v) {
				cols[i] = append(cols[i], v)
			}
		}
	}
	if o.TotalPoints > 0 {
		o.AnomalyRatePct = 100 * float64(o.TotalAnomalies) / float64(o.TotalPoints)
	}

	agg := func(f func([]float64) float64) MetricStats {
		return MetricStats{
			MAE:         f(cols[0]),
			RMSE:        f(cols[1]),
			MAPE:        f(cols[2]),
			R2:          f(cols[3]),
			CoveragePct: f(cols[4]),
			ResidualStd: f(cols[5]),
		}
	}
	o.Mean = agg(mean)
	o.Median = agg(median)

	o.Bands = make([]R2Band, len(r2Bands))
	copy(o.Bands, r2Bands)
	for _, e := range evals {
		for i := range o.Bands {
			if e.R2 >= o.Bands[i].Min && e.R2 < o.Bands[i].Max {
				o.Bands[i].Count++
				break
			}
		}
	}
	return o
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
