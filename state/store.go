package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store serializes mutating actions against a World. Each action runs on a
// private copy that replaces the committed world only if the action succeeds.
type Store struct {
	mu    sync.RWMutex
	world *World
}

// NewStore wraps w. A nil world starts empty.
func NewStore(w *World) *Store {
	if w == nil {
		w = NewWorld()
	}
	w.ensure()
	return &Store{world: w}
}

// RunInTransaction executes fn against a copy of the committed world and
// commits it if fn returns nil. On commit the action sequence number is
// advanced and returned.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *World) error) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tx := s.world.Clone()
	tx.Seq++
	if err := fn(tx); err != nil {
		return 0, err
	}

	s.world = tx
	return tx.Seq, nil
}

// View executes fn against the committed world under a read lock.
// fn must not modify or retain the world.
func (s *Store) View(fn func(w *World) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.world)
}

// Snapshot serializes the committed world.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(s.world)
	if err != nil {
		return nil, fmt.Errorf("encoding world state: %w", err)
	}
	return data, nil
}

// Restore replaces the committed world with a serialized snapshot. The
// optional check runs against the decoded world before it is installed.
func (s *Store) Restore(data []byte, check func(w *World) error) error {
	w, err := Decode(data)
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(w); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.world = w
	return nil
}

// Decode parses a serialized world.
func Decode(data []byte) (*World, error) {
	w := &World{}
	if err := json.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("decoding world state: %w", err)
	}
	w.ensure()
	return w, nil
}
