package modelstore

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/procwatch/internal/forecast"
	"github.com/rewired-gh/procwatch/internal/models"
)

func trainModel(t *testing.T, variable string, level float64) *forecast.Model {
	t.Helper()
	oracle, err := forecast.New(forecast.DefaultOptions())
	require.NoError(t, err)

	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	hist := make([]models.ObservedPoint, 48)
	for i := range hist {
		hist[i] = models.ObservedPoint{
			Variable:  variable,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Value:     level + float64(i%5) - 2,
		}
	}
	m, err := oracle.Train(variable, hist)
	require.NoError(t, err)
	return m
}

func TestGet_NotFound(t *testing.T) {
	s := New()
	_, err := s.Get("FIC-101")
	assert.True(t, errors.Is(err, models.ErrModelNotFound))
}

func TestPublish_ReplacesWholeMapping(t *testing.T) {
	s := New()
	a := trainModel(t, "A", 10)
	b := trainModel(t, "B", 20)

	g1 := s.Publish(map[string]*forecast.Model{"A": a})
	g2 := s.Publish(map[string]*forecast.Model{"B": b})
	assert.Equal(t, g1+1, g2)

	_, err := s.Get("A")
	assert.True(t, errors.Is(err, models.ErrModelNotFound))
	got, err := s.Get("B")
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestUpdate_MergesOverPrevious(t *testing.T) {
	s := New()
	a := trainModel(t, "A", 10)
	b := trainModel(t, "B", 20)
	s.Publish(map[string]*forecast.Model{"A": a, "B": b})

	b2 := trainModel(t, "B", 25)
	s.Update(func(prev map[string]*forecast.Model) map[string]*forecast.Model {
		prev["B"] = b2
		return prev
	})

	snap := s.Snapshot()
	assert.Equal(t, []string{"A", "B"}, snap.Variables())
	gotA, _ := snap.Get("A")
	gotB, _ := snap.Get("B")
	assert.Same(t, a, gotA)
	assert.Same(t, b2, gotB)
}

func TestSnapshot_IsolatedFromLaterPublish(t *testing.T) {
	s := New()
	a := trainModel(t, "A", 10)
	s.Publish(map[string]*forecast.Model{"A": a})

	old := s.Snapshot()
	s.Publish(map[string]*forecast.Model{})

	assert.Equal(t, 1, old.Len())
	assert.Equal(t, 0, s.Snapshot().Len())
}

// Readers must see either every model of a generation or none of them.
func TestConcurrentReadersSeeWholeGenerations(t *testing.T) {
	s := New()
	gen1 := map[string]*forecast.Model{"A": trainModel(t, "A", 1), "B": trainModel(t, "B", 1)}
	gen2 := map[string]*forecast.Model{"A": trainModel(t, "A", 2), "B": trainModel(t, "B", 2)}
	s.Publish(gen1)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				a, _ := snap.Get("A")
				b, _ := snap.Get("B")
				fromGen1 := a == gen1["A"] && b == gen1["B"]
				fromGen2 := a == gen2["A"] && b == gen2["B"]
				if !fromGen1 && !fromGen2 {
					t.Errorf("mixed generation in snapshot %d", snap.Generation)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			s.Publish(gen2)
		} else {
			s.Publish(gen1)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSaveLoadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	s := New()
	s.Publish(map[string]*forecast.Model{
		"FIC-101/PV": trainModel(t, "FIC-101/PV", 45),
		"TI 204":     trainModel(t, "TI 204", 80),
	})

	require.NoError(t, SaveDir(dir, s.Snapshot()))

	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	ts := []time.Time{time.Date(2025, 1, 9, 3, 0, 0, 0, time.UTC)}
	for v, m := range loaded {
		orig, err := s.Get(v)
		require.NoError(t, err)
		want, err := forecast.Predict(orig, ts)
		require.NoError(t, err)
		got, err := forecast.Predict(m, ts)
		require.NoError(t, err)
		assert.InDelta(t, want[0].Yhat, got[0].Yhat, 1e-9, v)
	}
}

func TestLoadDir_SkipsCorruptArtifacts(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.Publish(map[string]*forecast.Model{"A": trainModel(t, "A", 10)})
	require.NoError(t, SaveDir(dir, s.Snapshot()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_B"+artifactSuffix), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Contains(t, loaded, "A")
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, ErrNoModelsDir))
}

func TestSaveDir_SanitizedNamesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.Publish(map[string]*forecast.Model{
		"A/B": trainModel(t, "A/B", 10),
		"A_B": trainModel(t, "A_B", 500),
	})
	require.NoError(t, SaveDir(dir, s.Snapshot()))
	assert.NotEqual(t, fileName("A/B"), fileName("A_B"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	ts := []time.Time{time.Date(2025, 1, 9, 3, 0, 0, 0, time.UTC)}
	slash, err := forecast.Predict(loaded["A/B"], ts)
	require.NoError(t, err)
	under, err := forecast.Predict(loaded["A_B"], ts)
	require.NoError(t, err)
	assert.Less(t, slash[0].Yhat, 100.0)
	assert.Greater(t, under[0].Yhat, 100.0)
}
