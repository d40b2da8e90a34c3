package retrain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/procwatch/internal/forecast"
	"github.com/rewired-gh/procwatch/internal/models"
	"github.com/rewired-gh/procwatch/internal/modelstore"
)

var day0 = time.Date(2025, 7, 14, 1, 0, 0, 0, time.UTC)

type fakeSource struct {
	vars    []string
	history map[string][]models.ObservedPoint
	err     error
	since   map[string]time.Time
}

func (f *fakeSource) Variables(context.Context) ([]string, error) {
	return f.vars, f.err
}

func (f *fakeSource) History(_ context.Context, variable string, since time.Time) ([]models.ObservedPoint, error) {
	if f.since == nil {
		f.since = map[string]time.Time{}
	}
	f.since[variable] = since
	return f.history[variable], nil
}

type failingTrainer struct {
	forecast.Oracle
	fail map[string]error
}

func (t failingTrainer) Train(variable string, hist []models.ObservedPoint) (*forecast.Model, error) {
	if err, ok := t.fail[variable]; ok {
		return nil, err
	}
	return t.Oracle.Train(variable, hist)
}

func history(variable string, n int) []models.ObservedPoint {
	pts := make([]models.ObservedPoint, n)
	for i := range pts {
		pts[i] = models.ObservedPoint{
			Variable:  variable,
			Timestamp: day0.Add(time.Duration(i-n) * time.Hour),
			Value:     20 + float64(i%3),
		}
	}
	return pts
}

func newOracle(t *testing.T) forecast.Oracle {
	t.Helper()
	o, err := forecast.New(forecast.DefaultOptions())
	require.NoError(t, err)
	return o
}

func newScheduler(t *testing.T, cfg Config, src Source, trainer Trainer, store Store, clock *time.Time) *Scheduler {
	t.Helper()
	s, err := New(cfg, src, trainer, store, WithClock(func() time.Time { return *clock }))
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []Config{
		{Hour: 24},
		{Hour: -1},
		{Minute: 60},
	}
	for _, cfg := range tests {
		t.Run(fmt.Sprintf("%d:%d", cfg.Hour, cfg.Minute), func(t *testing.T) {
			_, err := New(cfg, &fakeSource{}, newOracle(t), modelstore.New())
			assert.Error(t, err)
		})
	}
}

func TestNextFireTime(t *testing.T) {
	clock := day0
	s := newScheduler(t, Config{Hour: 2}, &fakeSource{}, newOracle(t), modelstore.New(), &clock)
	assert.Equal(t, time.Date(2025, 7, 14, 2, 0, 0, 0, time.UTC), s.Next())

	clock = day0.Add(2 * time.Hour)
	s = newScheduler(t, Config{Hour: 2, Minute: 30}, &fakeSource{}, newOracle(t), modelstore.New(), &clock)
	assert.Equal(t, time.Date(2025, 7, 15, 2, 30, 0, 0, time.UTC), s.Next())
}

func TestCheck_FiresOncePerDay(t *testing.T) {
	clock := day0
	src := &fakeSource{vars: []string{"A"}, history: map[string][]models.ObservedPoint{"A": history("A", 48)}}
	store := modelstore.New()
	s := newScheduler(t, Config{Hour: 2}, src, newOracle(t), store, &clock)
	ctx := context.Background()

	fired, err := s.Check(ctx, day0.Add(59*time.Minute))
	require.NoError(t, err)
	assert.False(t, fired)

	fired, err = s.Check(ctx, day0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, uint64(1), store.Snapshot().Generation)
	assert.Equal(t, time.Date(2025, 7, 15, 2, 0, 0, 0, time.UTC), s.Next())
	assert.Equal(t, Waiting, s.State())

	// A fire time that lands on an already served day is skipped.
	s.next = day0.Add(2 * time.Hour)
	fired, err = s.Check(ctx, day0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, fired)

	fired, err = s.Check(ctx, day0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, uint64(2), store.Snapshot().Generation)
}

func TestRetrainAll_PartialFailureKeepsPriorModels(t *testing.T) {
	clock := day0
	oracle := newOracle(t)
	store := modelstore.New()

	prior := map[string]*forecast.Model{}
	for _, v := range []string{"A", "B", "C"} {
		m, err := oracle.Train(v, history(v, 24))
		require.NoError(t, err)
		prior[v] = m
	}
	store.Publish(prior)

	src := &fakeSource{
		vars: []string{"A", "B", "C", "D"},
		history: map[string][]models.ObservedPoint{
			"A": history("A", 48),
			"B": history("B", 3),
			"C": history("C", 48),
			"D": history("D", 48),
		},
	}
	trainer := failingTrainer{Oracle: oracle, fail: map[string]error{"C": errors.New("solver diverged")}}
	s := newScheduler(t, Config{Hour: 2, Workers: 3}, src, trainer, store, &clock)

	res, err := s.RetrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D"}, res.Trained)
	assert.Equal(t, []string{"B"}, res.Skipped)
	assert.Contains(t, res.Failed, "C")
	assert.Equal(t, uint64(2), res.Generation)

	snap := store.Snapshot()
	assert.Equal(t, []string{"A", "B", "C", "D"}, snap.Variables())
	a, _ := snap.Get("A")
	b, _ := snap.Get("B")
	c, _ := snap.Get("C")
	assert.NotSame(t, prior["A"], a)
	assert.Same(t, prior["B"], b)
	assert.Same(t, prior["C"], c)
}

func TestRetrainAll_SourceFailureLeavesStore(t *testing.T) {
	clock := day0
	store := modelstore.New()
	src := &fakeSource{err: models.ErrSourceUnavailable}
	s := newScheduler(t, Config{Hour: 2}, src, newOracle(t), store, &clock)

	_, err := s.RetrainAll(context.Background())
	assert.True(t, errors.Is(err, models.ErrSourceUnavailable))
	assert.Equal(t, uint64(0), store.Snapshot().Generation)
}

func TestRetrainAll_TrainingWindowAndPersistence(t *testing.T) {
	clock := day0
	dir := t.TempDir()
	src := &fakeSource{vars: []string{"A"}, history: map[string][]models.ObservedPoint{"A": history("A", 48)}}
	s := newScheduler(t, Config{Hour: 2, TrainingWindow: 72 * time.Hour, ModelsDir: dir}, src, newOracle(t), modelstore.New(), &clock)

	_, err := s.RetrainAll(context.Background())
	require.NoError(t, err)
	assert.True(t, day0.Add(-72*time.Hour).Equal(src.since["A"]))

	loaded, err := modelstore.LoadDir(dir)
	require.NoError(t, err)
	assert.Contains(t, loaded, "A")
}
