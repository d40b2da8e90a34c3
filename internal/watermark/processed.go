package watermark

import (
	"sync"
	"time"

	"github.com/rewired-gh/procwatch/internal/models"
)

// ProcessedSet remembers which keys and whole timestamps have been scored.
// Individual mode uses it in place of a single watermark.
type ProcessedSet struct {
	mu    sync.Mutex
	keys  map[models.Key]struct{}
	stamp map[int64]struct{}
}

// NewProcessedSet returns an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{
		keys:  make(map[models.Key]struct{}),
		stamp: make(map[int64]struct{}),
	}
}

// SeedKeys records keys already present in the sink. Their timestamps are
// marked done as well.
func (p *ProcessedSet) SeedKeys(keys []models.Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		k.Timestamp = k.Timestamp.UTC()
		p.keys[k] = struct{}{}
		p.stamp[k.Timestamp.UnixNano()] = struct{}{}
	}
}

// Has reports whether k has been processed.
func (p *ProcessedSet) Has(k models.Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	k.Timestamp = k.Timestamp.UTC()
	_, ok := p.keys[k]
	return ok
}

// Done reports whether the whole timestamp has been processed.
func (p *ProcessedSet) Done(ts time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.stamp[ts.UnixNano()]
	return ok
}

// Mark records keys and the timestamp they belong to as processed.
func (p *ProcessedSet) Mark(ts time.Time, keys []models.Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		k.Timestamp = k.Timestamp.UTC()
		p.keys[k] = struct{}{}
	}
	p.stamp[ts.UnixNano()] = struct{}{}
}

// Prune forgets everything before horizon and returns the number of keys removed.
func (p *ProcessedSet) Prune(horizon time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cut := horizon.UnixNano()
	n := 0
	for k := range p.keys {
		if k.Timestamp.UnixNano() < cut {
			delete(p.keys, k)
			n++
		}
	}
	for ts := range p.stamp {
		if ts < cut {
			delete(p.stamp, ts)
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (p *ProcessedSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
