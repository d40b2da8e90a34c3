// Package modelstore holds the current trained model of every variable.
//
// Readers take an immutable snapshot without locking; writers replace the
// whole snapshot at once, so a reader never sees models of two generations
// mixed by a single publish.
package modelstore

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/procwatch/internal/forecast"
	"github.com/rewired-gh/procwatch/internal/models"
)

// Snapshot is an immutable generation of models.
type Snapshot struct {
	Generation  uint64
	PublishedAt time.Time
	models      map[string]*forecast.Model
}

// Get returns the model for variable in this snapshot.
func (s *Snapshot) Get(variable string) (*forecast.Model, error) {
	m, ok := s.models[variable]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrModelNotFound, variable)
	}
	return m, nil
}

// Len returns the number of models in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.models)
}

// Variables returns the variables with a model, sorted.
func (s *Snapshot) Variables() []string {
	vars := make([]string, 0, len(s.models))
	for v := range s.models {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// Models returns a copy of the variable to model mapping.
func (s *Snapshot) Models() map[string]*forecast.Model {
	out := make(map[string]*forecast.Model, len(s.models))
	for k, v := range s.models {
		out[k] = v
	}
	return out
}

// Store publishes model snapshots.
type Store struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes writers only
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	s := &Store{now: time.Now}
	s.current.Store(&Snapshot{models: map[string]*forecast.Model{}})
	return s
}

// Snapshot returns the current generation.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Get returns the current model for variable or ErrModelNotFound.
func (s *Store) Get(variable string) (*forecast.Model, error) {
	return s.Snapshot().Get(variable)
}

// Publish replaces the entire mapping with next and returns the new generation.
func (s *Store) Publish(next map[string]*forecast.Model) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swap(next)
}

// Update builds the next mapping from a copy of the current one and
// publishes it in one swap.
func (s *Store) Update(fn func(prev map[string]*forecast.Model) map[string]*forecast.Model) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swap(fn(s.current.Load().Models()))
}

func (s *Store) swap(next map[string]*forecast.Model) uint64 {
	snap := &Snapshot{
		Generation:  s.current.Load().Generation + 1,
		PublishedAt: s.now(),
		models:      make(map[string]*forecast.Model, len(next)),
	}
	for k, v := range next {
		if v != nil {
			snap.models[k] = v
		}
	}
	s.current.Store(snap)
	return snap.Generation
}
