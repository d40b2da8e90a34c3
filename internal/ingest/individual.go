package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/procwatch/internal/logger"
	"github.com/rewired-gh/procwatch/internal/models"
)

// tickIndividual scores each unprocessed timestamp above the floor on its
// own, oldest first. Keys already scored are dropped before scoring, and a
// timestamp is marked done only after its records are appended. The floor
// then moves up to the newest timestamp scanned, but never past now minus
// lookback, so late points inside the lookback are still picked up.
func (w *Worker) tickIndividual(ctx context.Context) (TickResult, error) {
	floor := w.tracker.Current()
	stamps, err := w.src.TimestampsAfter(ctx, floor)
	if err != nil {
		return TickResult{Watermark: floor}, fmt.Errorf("failed to list timestamps after %s: %w", floor.Format(time.RFC3339), err)
	}

	res := TickResult{Watermark: floor}
	scanned := floor
	for _, ts := range stamps {
		if !w.tracker.Eligible(ts) {
			continue
		}
		if w.processed.Done(ts) {
			scanned = laterOf(scanned, ts)
			continue
		}
		points, err := w.src.PointsAt(ctx, ts)
		if err != nil {
			return res, fmt.Errorf("failed to fetch points at %s: %w", ts.Format(time.RFC3339), err)
		}

		keys := make([]models.Key, 0, len(points))
		fresh := points[:0:0]
		for _, p := range points {
			k := models.KeyOf(p)
			keys = append(keys, k)
			if !w.processed.Has(k) {
				fresh = append(fresh, p)
			}
		}

		records, skipped := w.score(ctx, w.models.Snapshot(), fresh)
		appended, err := w.sink.AppendRecords(ctx, records)
		if err != nil {
			return res, fmt.Errorf("failed to append %d records at %s: %w", len(records), ts.Format(time.RFC3339), err)
		}
		w.processed.Mark(ts, keys)
		w.metrics.RecordScored(len(records), appended)
		w.notify(ctx, records)
		scanned = laterOf(scanned, ts)

		res.Timestamps++
		res.Points += len(fresh)
		res.Records += len(records)
		res.Appended += appended
		res.Anomalies += countAnomalies(records)
		res.Skipped += skipped.total()
		logger.Debug("Processed %s: %d points, %d anomalies", ts.Format(time.RFC3339), len(fresh), countAnomalies(records))
	}

	next := scanned
	if horizon := w.now().Add(-w.cfg.Lookback); next.After(horizon) {
		next = horizon
	}
	if _, err := w.tracker.Advance(ctx, next); err != nil {
		return res, err
	}
	res.Watermark = w.tracker.Current()
	w.metrics.SetWatermark(res.Watermark)

	if pruned := w.processed.Prune(res.Watermark); pruned > 0 {
		logger.Debug("Pruned %d processed keys older than %s", pruned, res.Watermark.Format(time.RFC3339))
	}
	if res.Timestamps > 0 {
		logger.Info("Individual tick: %d timestamps, %d points, %d records (%d new), %d anomalies, %d skipped, floor %s",
			res.Timestamps, res.Points, res.Records, res.Appended, res.Anomalies, res.Skipped,
			res.Watermark.Format(time.RFC3339))
	}
	return res, nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
