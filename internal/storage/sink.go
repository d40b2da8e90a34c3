package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/procwatch/internal/models"
)

type recordRow struct {
	ID                 string          `db:"id"`
	Ds                 int64           `db:"ds"`
	Y                  float64         `db:"y"`
	Yhat               float64         `db:"yhat"`
	YhatLower          float64         `db:"yhat_lower"`
	YhatUpper          float64         `db:"yhat_upper"`
	Residual           float64         `db:"residual"`
	OutsideInterval    bool            `db:"outside_interval"`
	HighResidual       bool            `db:"high_residual"`
	IsAnomaly          bool            `db:"is_anomaly"`
	AnomalyScore       float64         `db:"anomaly_score"`
	Variable           string          `db:"variable"`
	PredictionErrorPct sql.NullFloat64 `db:"prediction_error_pct"`
	SourceFile         string          `db:"source_file"`
	ProcessedAt        int64           `db:"processed_at"`
}

const recordCols = `id, ds, y, yhat, yhat_lower, yhat_upper, residual,
	outside_interval, high_residual, is_anomaly, anomaly_score, variable,
	prediction_error_pct, source_file, processed_at`

func (r recordRow) record() models.AnomalyRecord {
	rec := models.AnomalyRecord{
		Timestamp:          fromNano(r.Ds),
		Variable:           r.Variable,
		Observed:           r.Y,
		Yhat:               r.Yhat,
		YhatLower:          r.YhatLower,
		YhatUpper:          r.YhatUpper,
		Residual:           r.Residual,
		OutsideInterval:    r.OutsideInterval,
		HighResidual:       r.HighResidual,
		IsAnomaly:          r.IsAnomaly,
		AnomalyScore:       r.AnomalyScore,
		PredictionErrorPct: nan(),
		SourceTag:          r.SourceFile,
	}
	if r.PredictionErrorPct.Valid {
		rec.PredictionErrorPct = r.PredictionErrorPct.Float64
	}
	return rec
}

// AppendRecords stores scored records in one transaction. Records whose
// (variable, timestamp) already exists are ignored. It returns the number of
// rows actually inserted.
func (s *Storage) AppendRecords(ctx context.Context, records []models.AnomalyRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(`
		INSERT INTO anomaly_records (`+recordCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (variable, ds) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	processedAt := s.now().UnixNano()
	inserted := 0
	for i := range records {
		r := &records[i]
		res, err := stmt.ExecContext(ctx,
			uuid.NewString(), r.Timestamp.UnixNano(), r.Observed, r.Yhat, r.YhatLower, r.YhatUpper,
			r.Residual, r.OutsideInterval, r.HighResidual, r.IsAnomaly, r.AnomalyScore,
			r.Variable, nullFloat(r.PredictionErrorPct), r.SourceTag, processedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record %s@%s: %w", r.Variable, r.Timestamp, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit records: %w", err)
	}
	return inserted, nil
}

// MaxProcessedTimestamp returns the newest timestamp in the sink.
func (s *Storage) MaxProcessedTimestamp(ctx context.Context) (time.Time, bool, error) {
	var n sql.NullInt64
	if err := s.db.GetContext(ctx, &n, `SELECT MAX(ds) FROM anomaly_records`); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query max timestamp: %w", err)
	}
	if !n.Valid {
		return time.Time{}, false, nil
	}
	return fromNano(n.Int64), true, nil
}

// ProcessedKeys returns the (variable, timestamp) keys in the sink after since.
func (s *Storage) ProcessedKeys(ctx context.Context, since time.Time) ([]models.Key, error) {
	var rows []struct {
		Variable string `db:"variable"`
		Ds       int64  `db:"ds"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT variable, ds FROM anomaly_records WHERE ds > ? ORDER BY ds`), since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query processed keys: %w", err)
	}
	keys := make([]models.Key, len(rows))
	for i, r := range rows {
		keys[i] = models.Key{Variable: r.Variable, Timestamp: fromNano(r.Ds)}
	}
	return keys, nil
}

// ListRecords returns records after since ordered by timestamp then variable.
// With onlyAnomalies the anomalies view is read instead of the full table.
func (s *Storage) ListRecords(ctx context.Context, since time.Time, onlyAnomalies bool) ([]models.AnomalyRecord, error) {
	table := "anomaly_records"
	if onlyAnomalies {
		table = "anomalies"
	}
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+recordCols+` FROM `+table+`
		WHERE ds > ? ORDER BY ds, variable`), since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	out := make([]models.AnomalyRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nan() float64 { return math.NaN() }
