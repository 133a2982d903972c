package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS daily_aggregates (
	location          TEXT    NOT NULL,
	day               TEXT    NOT NULL,
	sample_count      INTEGER NOT NULL,
	mean_temp         REAL    NOT NULL,
	max_temp          REAL    NOT NULL,
	min_temp          REAL    NOT NULL,
	mean_feels_like   REAL    NOT NULL,
	dominant          TEXT    NOT NULL,
	frequencies       TEXT    NOT NULL,
	first_observed_at INTEGER NOT NULL,
	last_observed_at  INTEGER NOT NULL,
	PRIMARY KEY (location, day)
)`

// SQLiteBackend keeps aggregates in a SQLite database. It has no atomic
// read-modify-write of its own; wrap it with NewGuarded.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at dsn, e.g. "file:aggregates.db"
// or ":memory:".
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context, key weather.AggregateKey) (*weather.Aggregate, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT sample_count, mean_temp, max_temp, min_temp, mean_feels_like,
			dominant, frequencies, first_observed_at, last_observed_at
		FROM daily_aggregates
		WHERE location = ? AND day = ?`, key.Location, key.Day)

	var (
		agg         = weather.Aggregate{Key: key}
		frequencies string
		first, last int64
	)
	err := row.Scan(&agg.Count, &agg.MeanTempC, &agg.MaxTempC, &agg.MinTempC, &agg.MeanFeelsLikeC,
		&agg.Dominant, &frequencies, &first, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load aggregate: %w", err)
	}

	if err := json.Unmarshal([]byte(frequencies), &agg.Frequencies); err != nil {
		return nil, fmt.Errorf("decode frequencies: %w", err)
	}
	agg.FirstObservedAt = time.Unix(0, first)
	agg.LastObservedAt = time.Unix(0, last)

	return &agg, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, agg weather.Aggregate) error {
	frequencies, err := json.Marshal(agg.Frequencies)
	if err != nil {
		return fmt.Errorf("encode frequencies: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO daily_aggregates (
			location, day, sample_count, mean_temp, max_temp, min_temp, mean_feels_like,
			dominant, frequencies, first_observed_at, last_observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (location, day) DO UPDATE SET
			sample_count = excluded.sample_count,
			mean_temp = excluded.mean_temp,
			max_temp = excluded.max_temp,
			min_temp = excluded.min_temp,
			mean_feels_like = excluded.mean_feels_like,
			dominant = excluded.dominant,
			frequencies = excluded.frequencies,
			first_observed_at = excluded.first_observed_at,
			last_observed_at = excluded.last_observed_at`,
		agg.Key.Location, agg.Key.Day, agg.Count, agg.MeanTempC, agg.MaxTempC, agg.MinTempC, agg.MeanFeelsLikeC,
		agg.Dominant, string(frequencies), agg.FirstObservedAt.UnixNano(), agg.LastObservedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save aggregate: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Prune(ctx context.Context, beforeDay string) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM daily_aggregates WHERE day < ?`, beforeDay)
	if err != nil {
		return 0, fmt.Errorf("prune aggregates: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database is reachable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
