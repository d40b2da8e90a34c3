package forecast

import (
	"math"
	"time"

	"github.com/rewired-gh/procwatch/internal/detector"
	"github.com/rewired-gh/procwatch/internal/models"
)

// seasonalOracle fits a recency-weighted linear trend with hour-of-day and
// day-of-week profiles. Profiles are bucketed in UTC.
type seasonalOracle struct {
	opts Options
	now  func() time.Time
}

type seasonalParams struct {
	Mode      SeasonalityMode `json:"mode"`
	Origin    time.Time       `json:"origin"`
	Intercept float64         `json:"intercept"`
	Slope     float64         `json:"slope_per_hour"`
	Daily     []float64       `json:"daily,omitempty"`
	Weekly    []float64       `json:"weekly,omitempty"`
	Sigma     float64         `json:"sigma"`
	Z         float64         `json:"z"`
}

func (o *seasonalOracle) Train(variable string, history []models.ObservedPoint) (*Model, error) {
	s, err := prepare(variable, history, o.opts.MinPoints)
	if err != nil {
		return nil, err
	}

	p := fitSeasonal(s, o.opts)
	return &Model{
		Variable:  variable,
		Engine:    EngineSeasonal,
		TrainedAt: o.now(),
		Window:    s.window(),
		predictor: p,
	}, nil
}

func (o *seasonalOracle) Predict(m *Model, ts []time.Time) ([]models.ForecastRow, error) {
	return Predict(m, ts)
}

func fitSeasonal(s series, opts Options) *seasonalParams {
	origin := s.t[0]
	n := len(s.y)
	x := make([]float64, n)
	for i, t := range s.t {
		x[i] = t.Sub(origin).Hours()
	}

	w := trendWeights(x, opts.ChangepointPriorScale)
	intercept, slope := weightedOLS(x, s.y, w)

	p := &seasonalParams{
		Mode:      opts.SeasonalityMode,
		Origin:    origin,
		Intercept: intercept,
		Slope:     slope,
		Z:         math.Sqrt2 * math.Erfinv(opts.IntervalWidth),
	}

	// detrended signal: offsets for additive, relative deviations for multiplicative
	r := make([]float64, n)
	ok := make([]bool, n)
	for i := range s.y {
		tr := p.trend(x[i])
		switch p.Mode {
		case Multiplicative:
			if math.Abs(tr) > 1e-9 {
				r[i], ok[i] = s.y[i]/tr-1, true
			}
		default:
			r[i], ok[i] = s.y[i]-tr, true
		}
	}

	if opts.DailySeasonality {
		p.Daily = profile(s.t, r, ok, 24, func(t time.Time) int { return t.Hour() })
		for i, t := range s.t {
			r[i] -= p.Daily[t.Hour()]
		}
	}
	if opts.WeeklySeasonality {
		p.Weekly = profile(s.t, r, ok, 7, func(t time.Time) int { return int(t.Weekday()) })
	}

	resid := make([]float64, n)
	for i, t := range s.t {
		resid[i] = s.y[i] - p.at(t)
	}
	p.Sigma = detector.StdDev(resid)
	return p
}

// trendWeights gives recent points more influence as the prior scale grows.
// A scale of zero fits a plain least-squares line.
func trendWeights(x []float64, scale float64) []float64 {
	w := make([]float64, len(x))
	span := x[len(x)-1] - x[0]
	if scale <= 0 || span <= 0 {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	halfLife := span / (scale * 100)
	end := x[len(x)-1]
	for i := range x {
		w[i] = math.Exp2(-(end - x[i]) / halfLife)
	}
	return w
}

func weightedOLS(x, y, w []float64) (intercept, slope float64) {
	var sw, sx, sy float64
	for i := range x {
		sw += w[i]
		sx += w[i] * x[i]
		sy += w[i] * y[i]
	}
	mx, my := sx/sw, sy/sw

	var num, den float64
	for i := range x {
		dx := x[i] - mx
		num += w[i] * dx * (y[i] - my)
		den += w[i] * dx * dx
	}
	if den > 0 {
		slope = num / den
	}
	return my - slope*mx, slope
}

// profile averages r per bucket and centers the result around zero.
func profile(ts []time.Time, r []float64, ok []bool, buckets int, bucket func(time.Time) int) []float64 {
	sum := make([]float64, buckets)
	cnt := make([]int, buckets)
	for i, t := range ts {
		if !ok[i] {
			continue
		}
		b := bucket(t)
		sum[b] += r[i]
		cnt[b]++
	}

	out := make([]float64, buckets)
	var total float64
	var filled int
	for b := range out {
		if cnt[b] > 0 {
			out[b] = sum[b] / float64(cnt[b])
			total += out[b]
			filled++
		}
	}
	if filled == 0 {
		return out
	}
	mean := total / float64(filled)
	for b := range out {
		if cnt[b] > 0 {
			out[b] -= mean
		}
	}
	return out
}

func (p *seasonalParams) trend(x float64) float64 {
	return p.Intercept + p.Slope*x
}

func (p *seasonalParams) seasonal(t time.Time) float64 {
	var s float64
	if len(p.Daily) == 24 {
		s += p.Daily[t.Hour()]
	}
	if len(p.Weekly) == 7 {
		s += p.Weekly[int(t.Weekday())]
	}
	return s
}

func (p *seasonalParams) at(t time.Time) float64 {
	t = t.UTC()
	tr := p.trend(t.Sub(p.Origin).Hours())
	if p.Mode == Multiplicative {
		return tr * (1 + p.seasonal(t))
	}
	return tr + p.seasonal(t)
}

func (p *seasonalParams) predict(ts []time.Time) ([]models.ForecastRow, error) {
	half := p.Z * p.Sigma
	rows := make([]models.ForecastRow, len(ts))
	for i, t := range ts {
		yhat := p.at(t)
		rows[i] = models.ForecastRow{
			Timestamp: t,
			Yhat:      yhat,
			YhatLower: yhat - half,
			YhatUpper: yhat + half,
		}
	}
	return rows, nil
}

func (p *seasonalParams) params() any { return p }
