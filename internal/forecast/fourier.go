package forecast

import (
	"fmt"
	"math"
	"time"

	forecaster "github.com/aouyang1/go-forecaster"
	"github.com/aouyang1/go-forecaster/forecast"

	"github.com/rewired-gh/procwatch/internal/models"
)

const (
	dailyOrders     = 12
	weeklyOrders    = 6
	maxChangepoints = 25
)

// fourierOracle delegates to go-forecaster, which fits Fourier seasonality
// with changepoints and its own uncertainty series. The series is additive;
// the seasonality mode does not apply.
type fourierOracle struct {
	opts Options
	now  func() time.Time
}

// fourierParams are the library settings derived from Options. They travel
// with the artifact so a decoded model is refit the same way.
type fourierParams struct {
	ZScore       float64 `json:"z_score"`
	DailyOrders  int     `json:"daily_orders"`
	WeeklyOrders int     `json:"weekly_orders"`
	Changepoints int     `json:"changepoints"`
}

type fourierModel struct {
	f *forecaster.Forecaster
	h fourierHistory
}

type fourierHistory struct {
	Params fourierParams `json:"params"`
	T      []time.Time   `json:"t"`
	Y      []float64     `json:"y"`
}

// newFourierParams maps Options onto go-forecaster settings. The interval
// width becomes the residual z-score of the uncertainty series, and the
// changepoint prior scale sets how many changepoints are placed: 0 disables
// them, the default 0.05 gives 10.
func newFourierParams(opts Options) fourierParams {
	p := fourierParams{ZScore: math.Sqrt2 * math.Erfinv(opts.IntervalWidth)}
	if opts.DailySeasonality {
		p.DailyOrders = dailyOrders
	}
	if opts.WeeklySeasonality {
		p.WeeklyOrders = weeklyOrders
	}
	if opts.ChangepointPriorScale > 0 {
		p.Changepoints = int(math.Round(opts.ChangepointPriorScale * 200))
		p.Changepoints = max(1, min(p.Changepoints, maxChangepoints))
	}
	return p
}

func (p fourierParams) seasonality() []forecast.SeasonalityConfig {
	var cfgs []forecast.SeasonalityConfig
	if p.DailyOrders > 0 {
		cfgs = append(cfgs, forecast.NewDailySeasonalityConfig(p.DailyOrders))
	}
	if p.WeeklyOrders > 0 {
		cfgs = append(cfgs, forecast.NewWeeklySeasonalityConfig(p.WeeklyOrders))
	}
	return cfgs
}

func (p fourierParams) options() *forecaster.Options {
	opt := forecaster.NewDefaultOptions()
	seasonality := p.seasonality()

	series := opt.SeriesOptions.ForecastOptions
	series.SeasonalityOptions.SeasonalityConfigs = seasonality
	series.ChangepointOptions.Auto = p.Changepoints > 0
	series.ChangepointOptions.AutoNumChangepoints = p.Changepoints

	uncertainty := opt.UncertaintyOptions.ForecastOptions
	uncertainty.SeasonalityOptions.SeasonalityConfigs = seasonality
	opt.UncertaintyOptions.ResidualZscore = p.ZScore
	return opt
}

func (o *fourierOracle) Train(variable string, history []models.ObservedPoint) (*Model, error) {
	s, err := prepare(variable, history, o.opts.MinPoints)
	if err != nil {
		return nil, err
	}

	fm, err := fitFourier(fourierHistory{Params: newFourierParams(o.opts), T: s.t, Y: s.y})
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", variable, err)
	}
	return &Model{
		Variable:  variable,
		Engine:    EngineFourier,
		TrainedAt: o.now(),
		Window:    s.window(),
		predictor: fm,
	}, nil
}

func (o *fourierOracle) Predict(m *Model, ts []time.Time) ([]models.ForecastRow, error) {
	return Predict(m, ts)
}

func fitFourier(h fourierHistory) (*fourierModel, error) {
	f, err := forecaster.New(h.Params.options())
	if err != nil {
		return nil, fmt.Errorf("failed to create forecaster: %w", err)
	}
	if err := f.Fit(h.T, h.Y); err != nil {
		return nil, fmt.Errorf("failed to fit forecaster: %w", err)
	}
	return &fourierModel{f: f, h: h}, nil
}

func (m *fourierModel) predict(ts []time.Time) ([]models.ForecastRow, error) {
	res, err := m.f.Predict(ts)
	if err != nil {
		return nil, err
	}
	if len(res.Forecast) != len(ts) || len(res.Lower) != len(ts) || len(res.Upper) != len(ts) {
		return nil, fmt.Errorf("forecaster returned %d rows for %d timestamps", len(res.Forecast), len(ts))
	}

	rows := make([]models.ForecastRow, len(ts))
	for i, t := range ts {
		rows[i] = models.ForecastRow{
			Timestamp: t,
			Yhat:      res.Forecast[i],
			YhatLower: res.Lower[i],
			YhatUpper: res.Upper[i],
		}
	}
	return rows, nil
}

// params persists the settings and training window; the model is refit on decode.
func (m *fourierModel) params() any { return m.h }
