package weather

import (
	"context"
)

// Source abstracts a weather data provider (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
// Failed calls return a *FetchError.
type Source interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (Reading, error)
}

// UpdateFunc computes the next aggregate from the current one (nil when absent).
type UpdateFunc func(prev *Aggregate) Aggregate

// Store is the contract every aggregate store must satisfy.
//
// Get returns (nil, nil) when no aggregate exists for key. UpsertWith applies
// fn to the current value and persists its result as one atomic step with
// respect to any other writer of the same key. Connectivity failures are
// reported as *StoreError.
type Store interface {
	Get(ctx context.Context, key AggregateKey) (*Aggregate, error)
	UpsertWith(ctx context.Context, key AggregateKey, fn UpdateFunc) (Aggregate, error)
}

// UpdateHook is called after a reading has been folded into its aggregate.
// This is where alerting plugs in.
type UpdateHook func(ctx context.Context, r Reading, agg Aggregate) error

// SnapshotHook receives every completed round.
type SnapshotHook func(ctx context.Context, result RoundResult) error
