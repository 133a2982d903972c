package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS daily_aggregates (
	location          TEXT             NOT NULL,
	day               TEXT             NOT NULL,
	sample_count      INTEGER          NOT NULL,
	mean_temp         DOUBLE PRECISION NOT NULL,
	max_temp          DOUBLE PRECISION NOT NULL,
	min_temp          DOUBLE PRECISION NOT NULL,
	mean_feels_like   DOUBLE PRECISION NOT NULL,
	dominant          TEXT             NOT NULL,
	frequencies       JSONB            NOT NULL,
	first_observed_at TIMESTAMPTZ      NOT NULL,
	last_observed_at  TIMESTAMPTZ      NOT NULL,
	updated_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
	PRIMARY KEY (location, day)
)`

const selectAggregate = `
	SELECT sample_count, mean_temp, max_temp, min_temp, mean_feels_like,
		dominant, frequencies, first_observed_at, last_observed_at
	FROM daily_aggregates
	WHERE location = $1 AND day = $2`

// PostgresStore keeps aggregates in PostgreSQL. UpsertWith takes a
// transaction-scoped advisory lock on the key, so concurrent writers of the
// same key (also from other processes) are serialized by the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, pings and migrates.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key weather.AggregateKey) (*weather.Aggregate, error) {
	agg, err := scanAggregate(s.pool.QueryRow(ctx, selectAggregate, key.Location, key.Day), key)
	if err != nil {
		return nil, &weather.StoreError{Op: "get", Key: key, Err: err}
	}
	return agg, nil
}

func (s *PostgresStore) UpsertWith(ctx context.Context, key weather.AggregateKey, fn weather.UpdateFunc) (weather.Aggregate, error) {
	next, err := s.upsert(ctx, key, fn)
	if err != nil {
		return weather.Aggregate{}, &weather.StoreError{Op: "upsert", Key: key, Err: err}
	}
	return next, nil
}

func (s *PostgresStore) upsert(ctx context.Context, key weather.AggregateKey, fn weather.UpdateFunc) (weather.Aggregate, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return weather.Aggregate{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
		return weather.Aggregate{}, fmt.Errorf("lock key: %w", err)
	}

	prev, err := scanAggregate(tx.QueryRow(ctx, selectAggregate, key.Location, key.Day), key)
	if err != nil {
		return weather.Aggregate{}, err
	}

	next := fn(prev)
	next.Key = key

	frequencies, err := json.Marshal(next.Frequencies)
	if err != nil {
		return weather.Aggregate{}, fmt.Errorf("encode frequencies: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_aggregates (
			location, day, sample_count, mean_temp, max_temp, min_temp, mean_feels_like,
			dominant, frequencies, first_observed_at, last_observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
		ON CONFLICT (location, day) DO UPDATE SET
			sample_count = EXCLUDED.sample_count,
			mean_temp = EXCLUDED.mean_temp,
			max_temp = EXCLUDED.max_temp,
			min_temp = EXCLUDED.min_temp,
			mean_feels_like = EXCLUDED.mean_feels_like,
			dominant = EXCLUDED.dominant,
			frequencies = EXCLUDED.frequencies,
			first_observed_at = EXCLUDED.first_observed_at,
			last_observed_at = EXCLUDED.last_observed_at,
			updated_at = NOW()`,
		key.Location, key.Day, next.Count, next.MeanTempC, next.MaxTempC, next.MinTempC, next.MeanFeelsLikeC,
		next.Dominant, string(frequencies), next.FirstObservedAt, next.LastObservedAt,
	)
	if err != nil {
		return weather.Aggregate{}, fmt.Errorf("write aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return weather.Aggregate{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) Prune(ctx context.Context, beforeDay string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM daily_aggregates WHERE day < $1`, beforeDay)
	if err != nil {
		return 0, fmt.Errorf("prune aggregates: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanAggregate(row pgx.Row, key weather.AggregateKey) (*weather.Aggregate, error) {
	agg := weather.Aggregate{Key: key}
	var frequencies []byte

	err := row.Scan(&agg.Count, &agg.MeanTempC, &agg.MaxTempC, &agg.MinTempC, &agg.MeanFeelsLikeC,
		&agg.Dominant, &frequencies, &agg.FirstObservedAt, &agg.LastObservedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read aggregate: %w", err)
	}

	if err := json.Unmarshal(frequencies, &agg.Frequencies); err != nil {
		return nil, fmt.Errorf("decode frequencies: %w", err)
	}
	return &agg, nil
}
