package ingest

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rewired-gh/procwatch/internal/logger"
	"github.com/rewired-gh/procwatch/internal/models"
)

// tickBatch scores every point after the watermark, appends the records and
// advances the watermark to the newest timestamp seen. A failed append leaves
// the watermark where it was so the same points are retried.
func (w *Worker) tickBatch(ctx context.Context) (TickResult, error) {
	mark := w.tracker.Current()
	points, err := w.src.PointsAfter(ctx, mark)
	if err != nil {
		return TickResult{Watermark: mark}, fmt.Errorf("failed to fetch points after %s: %w", mark.Format(time.RFC3339), err)
	}
	points = slices.DeleteFunc(points, func(p models.ObservedPoint) bool {
		return !w.tracker.Eligible(p.Timestamp)
	})
	if len(points) == 0 {
		logger.Debug("No new points after %s", mark.Format(time.RFC3339))
		return TickResult{Watermark: mark}, nil
	}

	latest := mark
	stamps := make(map[int64]struct{})
	for _, p := range points {
		stamps[p.Timestamp.UnixNano()] = struct{}{}
		if p.Timestamp.After(latest) {
			latest = p.Timestamp
		}
	}

	records, skipped := w.score(ctx, w.models.Snapshot(), points)
	res := TickResult{
		Timestamps: len(stamps),
		Points:     len(points),
		Records:    len(records),
		Anomalies:  countAnomalies(records),
		Skipped:    skipped.total(),
		Watermark:  mark,
	}

	appended, err := w.sink.AppendRecords(ctx, records)
	if err != nil {
		return res, fmt.Errorf("failed to append %d records: %w", len(records), err)
	}
	res.Appended = appended
	w.metrics.RecordScored(len(records), appended)

	if _, err := w.tracker.Advance(ctx, latest); err != nil {
		return res, err
	}
	res.Watermark = w.tracker.Current()
	w.metrics.SetWatermark(res.Watermark)

	w.notify(ctx, records)
	logger.Info("Batch tick: %d timestamps, %d points, %d records (%d new), %d anomalies, %d skipped, watermark %s",
		res.Timestamps, res.Points, res.Records, res.Appended, res.Anomalies, res.Skipped,
		res.Watermark.Format(time.RFC3339))
	return res, nil
}
