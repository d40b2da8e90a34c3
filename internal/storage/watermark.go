package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadWatermark returns the persisted watermark for scope.
func (s *Storage) LoadWatermark(ctx context.Context, scope string) (time.Time, bool, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT ts FROM watermarks WHERE scope = ?`), scope)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load watermark: %w", err)
	}
	return fromNano(n), true, nil
}

// SaveWatermark stores ts for scope. A stored value is never moved backwards.
func (s *Storage) SaveWatermark(ctx context.Context, scope string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO watermarks (scope, ts) VALUES (?, ?)
		ON CONFLICT (scope) DO UPDATE SET ts = excluded.ts
		WHERE watermarks.ts < excluded.ts`), scope, ts.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}
	return nil
}
