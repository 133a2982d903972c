package store

import (
	"context"
	"errors"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

// ErrPruneUnsupported is returned by Guarded.Prune when the backend cannot prune.
var ErrPruneUnsupported = errors.New("backend does not support pruning")

// Backend is a plain keyed get/put store with no read-modify-write primitive.
// Load returns (nil, nil) when the key is absent.
type Backend interface {
	Load(ctx context.Context, key weather.AggregateKey) (*weather.Aggregate, error)
	Save(ctx context.Context, agg weather.Aggregate) error
}

// Guarded turns a Backend into a weather.Store by serializing the
// load-fold-save cycle of each key behind its own mutex.
type Guarded struct {
	backend Backend
	locks   KeyedMutex
}

// NewGuarded wraps b.
func NewGuarded(b Backend) *Guarded {
	return &Guarded{backend: b}
}

func (g *Guarded) Get(ctx context.Context, key weather.AggregateKey) (*weather.Aggregate, error) {
	agg, err := g.backend.Load(ctx, key)
	if err != nil {
		return nil, &weather.StoreError{Op: "get", Key: key, Err: err}
	}
	return agg, nil
}

func (g *Guarded) UpsertWith(ctx context.Context, key weather.AggregateKey, fn weather.UpdateFunc) (weather.Aggregate, error) {
	unlock := g.locks.Lock(key.String())
	defer unlock()

	prev, err := g.backend.Load(ctx, key)
	if err != nil {
		return weather.Aggregate{}, &weather.StoreError{Op: "load", Key: key, Err: err}
	}

	next := fn(prev)
	next.Key = key

	if err := g.backend.Save(ctx, next); err != nil {
		return weather.Aggregate{}, &weather.StoreError{Op: "save", Key: key, Err: err}
	}
	return next, nil
}

// Prune delegates to the backend when it implements Pruner.
func (g *Guarded) Prune(ctx context.Context, beforeDay string) (int64, error) {
	p, ok := g.backend.(Pruner)
	if !ok {
		return 0, ErrPruneUnsupported
	}
	return p.Prune(ctx, beforeDay)
}
