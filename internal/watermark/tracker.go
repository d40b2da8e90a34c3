// Package watermark tracks how far ingestion has progressed so every
// timestamp is scored once.
package watermark

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle position of a Tracker.
type State int

const (
	Uninitialized State = iota
	Seeded
	Advancing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Seeded:
		return "seeded"
	case Advancing:
		return "advancing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store persists watermarks and exposes the sink's progress.
type Store interface {
	LoadWatermark(ctx context.Context, scope string) (time.Time, bool, error)
	SaveWatermark(ctx context.Context, scope string, ts time.Time) error
	MaxProcessedTimestamp(ctx context.Context) (time.Time, bool, error)
}

// Tracker is a forward-only watermark owned by a single worker.
type Tracker struct {
	scope string
	store Store
	now   func() time.Time

	mu    sync.Mutex
	ts    time.Time
	state State
}

// NewTracker returns an uninitialized tracker for scope.
func NewTracker(scope string, store Store) *Tracker {
	return &Tracker{scope: scope, store: store, now: time.Now}
}

// SetClock overrides time.Now.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Seed sets the watermark to the later of the persisted watermark and the
// sink's newest record, or to now minus lookback when neither exists.
func (t *Tracker) Seed(ctx context.Context, lookback time.Duration) (time.Time, error) {
	persisted, okP, err := t.store.LoadWatermark(ctx, t.scope)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load watermark: %w", err)
	}
	sinkMax, okS, err := t.store.MaxProcessedTimestamp(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read sink progress: %w", err)
	}

	var ts time.Time
	switch {
	case okP && okS:
		ts = persisted
		if sinkMax.After(ts) {
			ts = sinkMax
		}
	case okP:
		ts = persisted
	case okS:
		ts = sinkMax
	default:
		ts = t.now().Add(-lookback)
	}

	t.mu.Lock()
	t.ts = ts.UTC()
	t.state = Seeded
	t.mu.Unlock()
	return ts.UTC(), nil
}

// SeedFloor seeds a lower bound for per-timestamp processing. It is the
// persisted value when one exists. Otherwise it is now minus lookback, moved
// back to the sink's newest record when that is older, so a restart after a
// long outage still covers the gap.
func (t *Tracker) SeedFloor(ctx context.Context, lookback time.Duration) (time.Time, error) {
	persisted, ok, err := t.store.LoadWatermark(ctx, t.scope)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load watermark: %w", err)
	}
	ts := persisted
	if !ok {
		ts = t.now().Add(-lookback)
		sinkMax, okS, err := t.store.MaxProcessedTimestamp(ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to read sink progress: %w", err)
		}
		if okS && sinkMax.Before(ts) {
			ts = sinkMax
		}
	}

	t.mu.Lock()
	t.ts = ts.UTC()
	t.state = Seeded
	t.mu.Unlock()
	return ts.UTC(), nil
}

// Scope returns the name the watermark is persisted under.
func (t *Tracker) Scope() string {
	return t.scope
}

// Current returns the watermark. It is the zero time before Seed.
func (t *Tracker) Current() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ts
}

// State returns the lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Eligible reports whether ts is after the watermark.
func (t *Tracker) Eligible(ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ts.After(t.ts)
}

// Advance moves the watermark to ts. It persists before updating memory and
// does nothing when ts is not after the current watermark.
func (t *Tracker) Advance(ctx context.Context, ts time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Uninitialized {
		return false, fmt.Errorf("watermark %s advanced before seeding", t.scope)
	}
	if !ts.After(t.ts) {
		return false, nil
	}
	if err := t.store.SaveWatermark(ctx, t.scope, ts.UTC()); err != nil {
		return false, fmt.Errorf("failed to persist watermark: %w", err)
	}
	t.ts = ts.UTC()
	t.state = Advancing
	return true, nil
}
