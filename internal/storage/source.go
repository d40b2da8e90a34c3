package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rewired-gh/procwatch/internal/models"
)

type pointRow struct {
	Ds         int64           `db:"ds"`
	Variable   string          `db:"variable"`
	Value      sql.NullFloat64 `db:"value"`
	SourceFile string          `db:"source_file"`
}

func (r pointRow) point() models.ObservedPoint {
	p := models.ObservedPoint{
		Variable:  r.Variable,
		Timestamp: fromNano(r.Ds),
		Source:    r.SourceFile,
	}
	if r.Value.Valid {
		p.Value = r.Value.Float64
	} else {
		p.Value = nan()
	}
	return p
}

const pointCols = `ds, variable, value, source_file`

// InsertPoints writes raw telemetry, ignoring points already present.
// It returns the number of new rows.
func (s *Storage) InsertPoints(ctx context.Context, points []models.ObservedPoint) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(`
		INSERT INTO process_data (`+pointCols+`)
		VALUES (?,?,?,?)
		ON CONFLICT (variable, ds) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range points {
		p := &points[i]
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("invalid point %s@%s: %w", p.Variable, p.Timestamp, err)
		}
		res, err := stmt.ExecContext(ctx, p.Timestamp.UnixNano(), p.Variable, nullFloat(p.Value), p.Source)
		if err != nil {
			return 0, fmt.Errorf("failed to insert point: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit points: %w", err)
	}
	return inserted, nil
}

// PointsAfter returns every point with a timestamp after since, ordered by
// timestamp then variable.
func (s *Storage) PointsAfter(ctx context.Context, since time.Time) ([]models.ObservedPoint, error) {
	var rows []pointRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+pointCols+` FROM process_data
		WHERE ds > ? ORDER BY ds, variable`), since.UnixNano())
	if err != nil {
		return nil, sourceErr("query points", err)
	}
	return toPoints(rows), nil
}

// PointsAt returns every point recorded at exactly ts.
func (s *Storage) PointsAt(ctx context.Context, ts time.Time) ([]models.ObservedPoint, error) {
	var rows []pointRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+pointCols+` FROM process_data
		WHERE ds = ? ORDER BY variable`), ts.UnixNano())
	if err != nil {
		return nil, sourceErr("query points", err)
	}
	return toPoints(rows), nil
}

// TimestampsAfter returns the distinct timestamps after since, ascending.
func (s *Storage) TimestampsAfter(ctx context.Context, since time.Time) ([]time.Time, error) {
	var nanos []int64
	err := s.db.SelectContext(ctx, &nanos, s.db.Rebind(`
		SELECT DISTINCT ds FROM process_data WHERE ds > ? ORDER BY ds`), since.UnixNano())
	if err != nil {
		return nil, sourceErr("query timestamps", err)
	}
	out := make([]time.Time, len(nanos))
	for i, n := range nanos {
		out[i] = fromNano(n)
	}
	return out, nil
}

// Variables returns every variable present in the source, sorted.
func (s *Storage) Variables(ctx context.Context) ([]string, error) {
	var vars []string
	err := s.db.SelectContext(ctx, &vars, `SELECT DISTINCT variable FROM process_data ORDER BY variable`)
	if err != nil {
		return nil, sourceErr("query variables", err)
	}
	return vars, nil
}

// History returns the points of variable after since. A zero since returns
// the full history.
func (s *Storage) History(ctx context.Context, variable string, since time.Time) ([]models.ObservedPoint, error) {
	var rows []pointRow
	var err error
	if since.IsZero() {
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(`
			SELECT `+pointCols+` FROM process_data
			WHERE variable = ? ORDER BY ds`), variable)
	} else {
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(`
			SELECT `+pointCols+` FROM process_data
			WHERE variable = ? AND ds > ? ORDER BY ds`), variable, since.UnixNano())
	}
	if err != nil {
		return nil, sourceErr("query history", err)
	}
	return toPoints(rows), nil
}

func toPoints(rows []pointRow) []models.ObservedPoint {
	out := make([]models.ObservedPoint, len(rows))
	for i, r := range rows {
		out[i] = r.point()
	}
	return out
}
