package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/procwatch/internal/forecast"
	"github.com/rewired-gh/procwatch/internal/logger"
	"github.com/rewired-gh/procwatch/internal/models"
	"github.com/rewired-gh/procwatch/internal/modelstore"
)

const (
	skipNoModel      = "model_not_found"
	skipMissingValue = "missing_value"
	skipPredictError = "predict_error"
)

type skips map[string]int

func (s skips) total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// score grades points against snap. Variables are scored in parallel; each
// variable's points are scored in timestamp order with one residual standard
// deviation per variable. Records come back ordered by timestamp then
// variable.
func (w *Worker) score(ctx context.Context, snap *modelstore.Snapshot, points []models.ObservedPoint) ([]models.AnomalyRecord, skips) {
	byVar := make(map[string][]models.ObservedPoint)
	skipped := skips{}
	for _, p := range points {
		if math.IsNaN(p.Value) {
			skipped[skipMissingValue]++
			continue
		}
		byVar[p.Variable] = append(byVar[p.Variable], p)
	}

	var (
		mu      sync.Mutex
		records []models.AnomalyRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.ScoreWorkers)
	for variable, pts := range byVar {
		m, err := snap.Get(variable)
		if err != nil {
			logger.Debug("Skipping %d points of %s: %v", len(pts), variable, err)
			mu.Lock()
			skipped[skipNoModel] += len(pts)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			recs, err := scoreVariable(gctx, w, m, pts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Failed to score %s: %v", variable, err)
				skipped[skipPredictError] += len(pts)
				return nil
			}
			records = append(records, recs...)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].Variable < records[j].Variable
	})
	for reason, n := range skipped {
		w.metrics.RecordSkipped(reason, n)
	}
	return records, skipped
}

func scoreVariable(ctx context.Context, w *Worker, m *forecast.Model, pts []models.ObservedPoint) ([]models.AnomalyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
	ts := make([]time.Time, len(pts))
	for i, p := range pts {
		ts[i] = p.Timestamp
	}
	rows, err := forecast.Predict(m, ts)
	if err != nil {
		return nil, err
	}
	recs, err := w.scorer.ScoreBatch(pts, rows)
	if err != nil {
		return nil, fmt.Errorf("score batch: %w", err)
	}
	return recs, nil
}

func countAnomalies(records []models.AnomalyRecord) int {
	n := 0
	for i := range records {
		if records[i].IsAnomaly {
			n++
		}
	}
	return n
}
