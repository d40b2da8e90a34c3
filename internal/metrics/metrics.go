// Package metrics exposes Prometheus instrumentation for ingestion and
// retraining.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records procwatch metrics. A nil *Recorder discards everything.
type Recorder struct {
	ticks           *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec
	pointsScored    prometheus.Counter
	recordsAppended prometheus.Counter
	anomalies       *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	watermark       prometheus.Gauge
	retrainRuns     *prometheus.CounterVec
	retrainVars     *prometheus.CounterVec
	modelsLoaded    prometheus.Gauge
	notifyErrors    *prometheus.CounterVec
}

// New registers the procwatch collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procwatch_ticks_total",
				Help: "Ingestion ticks by mode and result",
			},
			[]string{"mode", "result"},
		),
		tickDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "procwatch_tick_duration_seconds",
				Help:    "Duration of ingestion ticks in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		pointsScored: f.NewCounter(prometheus.CounterOpts{
			Name: "procwatch_points_scored_total",
			Help: "Observed points scored against a forecast",
		}),
		recordsAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "procwatch_records_appended_total",
			Help: "Records newly written to the result sink",
		}),
		anomalies: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procwatch_anomalies_total",
				Help: "Anomalous records by variable",
			},
			[]string{"variable"},
		),
		skipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procwatch_points_skipped_total",
				Help: "Points not scored, by reason",
			},
			[]string{"reason"},
		),
		watermark: f.NewGauge(prometheus.GaugeOpts{
			Name: "procwatch_watermark_timestamp_seconds",
			Help: "Current ingestion watermark as a unix timestamp",
		}),
		retrainRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procwatch_retrain_runs_total",
				Help: "Retraining runs by result",
			},
			[]string{"result"},
		),
		retrainVars: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procwatch_retrain_variables_total",
				Help: "Per-variable training outcomes",
			},
			[]string{"result"},
		),
		modelsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "procwatch_models_loaded",
			Help: "Models in the current store generation",
		}),
		notifyErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procwatch_notifier_errors_total",
				Help: "Failed anomaly notifications by notifier",
			},
			[]string{"notifier"},
		),
	}
}

// RecordTick records the outcome and duration of an ingestion tick.
func (r *Recorder) RecordTick(mode string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ticks.WithLabelValues(mode, result).Inc()
	r.tickDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordScored records points scored and records appended.
func (r *Recorder) RecordScored(points, appended int) {
	if r == nil {
		return
	}
	r.pointsScored.Add(float64(points))
	r.recordsAppended.Add(float64(appended))
}

// RecordAnomaly records one anomalous record for variable.
func (r *Recorder) RecordAnomaly(variable string) {
	if r == nil {
		return
	}
	r.anomalies.WithLabelValues(variable).Inc()
}

// RecordSkipped records n points skipped for reason.
func (r *Recorder) RecordSkipped(reason string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.skipped.WithLabelValues(reason).Add(float64(n))
}

// SetWatermark exports the ingestion watermark.
func (r *Recorder) SetWatermark(ts time.Time) {
	if r == nil {
		return
	}
	r.watermark.Set(float64(ts.UnixNano()) / 1e9)
}

// RecordRetrain records a retraining run and its per-variable outcomes.
func (r *Recorder) RecordRetrain(trained, failed, models int) {
	if r == nil {
		return
	}
	result := "ok"
	if failed > 0 {
		result = "partial"
	}
	if trained == 0 && failed > 0 {
		result = "error"
	}
	r.retrainRuns.WithLabelValues(result).Inc()
	r.retrainVars.WithLabelValues("trained").Add(float64(trained))
	r.retrainVars.WithLabelValues("failed").Add(float64(failed))
	r.modelsLoaded.Set(float64(models))
}

// SetModels exports the number of models currently loaded.
func (r *Recorder) SetModels(n int) {
	if r == nil {
		return
	}
	r.modelsLoaded.Set(float64(n))
}

// RecordNotifyError records a failed notification.
func (r *Recorder) RecordNotifyError(notifier string) {
	if r == nil {
		return
	}
	r.notifyErrors.WithLabelValues(notifier).Inc()
}

// Serve exposes g on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
