package store

import (
	"context"
	"sync"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

// Pruner is implemented by stores that can drop aggregates older than a day.
type Pruner interface {
	Prune(ctx context.Context, beforeDay string) (int64, error)
}

// MemoryStore is a concurrency-safe in-memory aggregate store.
type MemoryStore struct {
	mu sync.RWMutex

	data  map[weather.AggregateKey]weather.Aggregate
	locks KeyedMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[weather.AggregateKey]weather.Aggregate),
	}
}

// Get returns a copy of the aggregate for key, or nil.
func (s *MemoryStore) Get(_ context.Context, key weather.AggregateKey) (*weather.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	cp := agg.Clone()
	return &cp, nil
}

// UpsertWith runs fn on the current aggregate while holding key's guard and
// stores the result. Readers never observe a partially applied update.
func (s *MemoryStore) UpsertWith(_ context.Context, key weather.AggregateKey, fn weather.UpdateFunc) (weather.Aggregate, error) {
	unlock := s.locks.Lock(key.String())
	defer unlock()

	s.mu.RLock()
	var prev *weather.Aggregate
	if agg, ok := s.data[key]; ok {
		cp := agg.Clone()
		prev = &cp
	}
	s.mu.RUnlock()

	next := fn(prev)
	next.Key = key

	s.mu.Lock()
	s.data[key] = next.Clone()
	s.mu.Unlock()

	return next, nil
}

// Prune removes every aggregate whose day sorts before beforeDay. Each key is
// removed under its guard, so an update in progress finishes first and is
// then pruned rather than written back afterwards.
func (s *MemoryStore) Prune(ctx context.Context, beforeDay string) (int64, error) {
	s.mu.RLock()
	var victims []weather.AggregateKey
	for key := range s.data {
		if key.Day < beforeDay {
			victims = append(victims, key)
		}
	}
	s.mu.RUnlock()

	var n int64
	for _, key := range victims {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if s.remove(key) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) remove(key weather.AggregateKey) bool {
	unlock := s.locks.Lock(key.String())
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	return true
}

// Len reports the number of stored aggregates.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
