// Package ingest polls the telemetry source, scores each new point against
// its variable's model and appends the verdicts to the result sink.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/procwatch/internal/detector"
	"github.com/rewired-gh/procwatch/internal/logger"
	"github.com/rewired-gh/procwatch/internal/metrics"
	"github.com/rewired-gh/procwatch/internal/models"
	"github.com/rewired-gh/procwatch/internal/modelstore"
	"github.com/rewired-gh/procwatch/internal/watermark"
)

const (
	ModeBatch      = "batch"
	ModeIndividual = "individual"
)

const (
	batchScope      = "ingest.batch"
	individualScope = "ingest.individual"
)

// Source reads raw telemetry.
type Source interface {
	PointsAfter(ctx context.Context, since time.Time) ([]models.ObservedPoint, error)
	PointsAt(ctx context.Context, ts time.Time) ([]models.ObservedPoint, error)
	TimestampsAfter(ctx context.Context, since time.Time) ([]time.Time, error)
}

// Sink stores scored records and the progress made so far.
type Sink interface {
	watermark.Store
	AppendRecords(ctx context.Context, records []models.AnomalyRecord) (int, error)
	ProcessedKeys(ctx context.Context, since time.Time) ([]models.Key, error)
}

// Models supplies the current model generation.
type Models interface {
	Snapshot() *modelstore.Snapshot
}

// Notifier receives the anomalous records of each tick.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, anomalies []models.AnomalyRecord) error
}

// Alerter is told when ticks start and stop failing.
type Alerter interface {
	SendError(err error) error
	SendRecovery(failures int) error
}

// Config controls polling behaviour.
type Config struct {
	Mode         string
	PollInterval time.Duration
	Lookback     time.Duration
	Threshold    float64
	ScoreWorkers int
}

// TickResult describes what a single tick did.
type TickResult struct {
	Timestamps int
	Points     int
	Records    int
	Appended   int
	Anomalies  int
	Skipped    int
	Watermark  time.Time
}

// Worker is the ingestion state machine. It is owned by a single goroutine.
type Worker struct {
	cfg       Config
	src       Source
	sink      Sink
	models    Models
	scorer    detector.Scorer
	tracker   *watermark.Tracker
	processed *watermark.ProcessedSet
	notifiers []Notifier
	alerter   Alerter
	metrics   *metrics.Recorder
	now       func() time.Time

	seeded   bool
	failures int
}

// Option customizes a Worker.
type Option func(*Worker)

// WithNotifiers adds anomaly notifiers.
func WithNotifiers(n ...Notifier) Option {
	return func(w *Worker) { w.notifiers = append(w.notifiers, n...) }
}

// WithAlerter sets the failure alerter used by Run.
func WithAlerter(a Alerter) Option {
	return func(w *Worker) { w.alerter = a }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New returns a worker for cfg.
func New(cfg Config, src Source, sink Sink, store Models, opts ...Option) (*Worker, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeBatch
	case ModeBatch, ModeIndividual:
	default:
		return nil, fmt.Errorf("unknown worker mode %q", cfg.Mode)
	}
	if cfg.Lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive")
	}
	if cfg.ScoreWorkers <= 0 {
		cfg.ScoreWorkers = 1
	}

	w := &Worker{
		cfg:       cfg,
		src:       src,
		sink:      sink,
		models:    store,
		scorer:    detector.New(cfg.Threshold),
		processed: watermark.NewProcessedSet(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	scope := batchScope
	if cfg.Mode == ModeIndividual {
		scope = individualScope
	}
	w.tracker = watermark.NewTracker(scope, sink)
	w.tracker.SetClock(w.now)
	return w, nil
}

// Mode returns the polling mode.
func (w *Worker) Mode() string {
	return w.cfg.Mode
}

// Watermark returns the worker's progress. In batch mode every timestamp up
// to it has been scored; in individual mode it is the floor below which no
// timestamp is rescanned.
func (w *Worker) Watermark() models.Watermark {
	return models.Watermark{Scope: w.tracker.Scope(), Timestamp: w.tracker.Current()}
}

// Seed initializes progress from the sink. It is called by RunOnce and Run
// and is a no-op once done.
func (w *Worker) Seed(ctx context.Context) error {
	if w.seeded {
		return nil
	}
	switch w.cfg.Mode {
	case ModeIndividual:
		floor, err := w.tracker.SeedFloor(ctx, w.cfg.Lookback)
		if err != nil {
			return err
		}
		keys, err := w.sink.ProcessedKeys(ctx, floor)
		if err != nil {
			return fmt.Errorf("failed to seed processed set: %w", err)
		}
		w.processed.SeedKeys(keys)
		w.metrics.SetWatermark(floor)
		logger.Info("Seeded processed set with %d keys since %s", len(keys), floor.Format(time.RFC3339))
	default:
		ts, err := w.tracker.Seed(ctx, w.cfg.Lookback)
		if err != nil {
			return err
		}
		w.metrics.SetWatermark(ts)
		logger.Info("Seeded watermark at %s", ts.Format(time.RFC3339))
	}
	w.seeded = true
	return nil
}

// Tick runs one poll in the configured mode. No new data is a no-op, and so
// is a tick with no models loaded: progress is held until the first model
// generation is published.
func (w *Worker) Tick(ctx context.Context) (TickResult, error) {
	if !w.seeded {
		return TickResult{}, fmt.Errorf("worker ticked before seeding")
	}
	if w.models.Snapshot().Len() == 0 {
		logger.Warn("No models loaded, holding progress at %s", w.tracker.Current().Format(time.RFC3339))
		return TickResult{Watermark: w.tracker.Current()}, nil
	}
	start := w.now()
	var (
		res TickResult
		err error
	)
	if w.cfg.Mode == ModeIndividual {
		res, err = w.tickIndividual(ctx)
	} else {
		res, err = w.tickBatch(ctx)
	}
	w.metrics.RecordTick(w.cfg.Mode, w.now().Sub(start), err)
	return res, err
}

// RunOnce seeds and runs a single tick.
func (w *Worker) RunOnce(ctx context.Context) (TickResult, error) {
	if err := w.Seed(ctx); err != nil {
		return TickResult{}, err
	}
	return w.Tick(ctx)
}

func (w *Worker) notify(ctx context.Context, records []models.AnomalyRecord) {
	anomalies := detector.Anomalies(records)
	if len(anomalies) == 0 {
		return
	}
	for _, r := range anomalies {
		w.metrics.RecordAnomaly(r.Variable)
	}
	for _, n := range w.notifiers {
		if err := n.Notify(ctx, anomalies); err != nil {
			w.metrics.RecordNotifyError(n.Name())
			logger.Warn("Failed to notify %s of %d anomalies: %v", n.Name(), len(anomalies), err)
		}
	}
}
