package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.MaxReadingAge)
	assert.Equal(t, time.Hour, cfg.MaxFutureSkew)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, "weather-round-snapshots", cfg.KafkaSnapshotTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "8080", cfg.Port)

	require.Len(t, cfg.Locations, 6)
	assert.Equal(t, weather.Location{City: "Delhi", Country: "IN"}, cfg.Locations[0])
	assert.Equal(t, weather.Location{City: "Hyderabad", Country: "IN"}, cfg.Locations[5])
}

func TestLoad_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WEATHER_LOCATION_CITY", "London, Paris")
	t.Setenv("WEATHER_LOCATION_COUNTRY", "GB,FR")
	t.Setenv("POLL_INTERVAL", "90s")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("STORE_RETENTION_DAYS", "30")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("OPENWEATHER_API_KEY", "ow-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []weather.Location{
		{City: "London", Country: "GB"},
		{City: "Paris", Country: "FR"},
	}, cfg.Locations)
	assert.Equal(t, 90*time.Second, cfg.PollInterval)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, "file:weather-aggregates.db", cfg.StoreDSN)
	assert.Equal(t, 30, cfg.StoreRetentionDays)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "ow-key", cfg.OpenWeatherAPIKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"POLL_INTERVAL": "often"}},
		{"zero interval", map[string]string{"POLL_INTERVAL": "0s"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres"}},
		{"negative retention", map[string]string{"STORE_RETENTION_DAYS": "-1"}},
		{"mismatched locations", map[string]string{"WEATHER_LOCATION_CITY": "A,B,C", "WEATHER_LOCATION_COUNTRY": "X,Y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseLocations(t *testing.T) {
	locs, err := parseLocations("Delhi,Mumbai,Delhi", "IN")
	require.NoError(t, err)
	assert.Equal(t, []weather.Location{
		{City: "Delhi", Country: "IN"},
		{City: "Mumbai", Country: "IN"},
	}, locs)

	locs, err = parseLocations("Springfield", "")
	require.NoError(t, err)
	assert.Equal(t, []weather.Location{{City: "Springfield"}}, locs)

	_, err = parseLocations(" , ", "IN")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := NewLogger(&AppConfig{LogLevel: "debug", LogFormat: format})
		require.NoError(t, err, format)
		assert.NotNil(t, logger)
	}

	_, err := NewLogger(&AppConfig{LogLevel: "loud", LogFormat: "json"})
	assert.Error(t, err)

	_, err = NewLogger(&AppConfig{LogLevel: "info", LogFormat: "xml"})
	assert.Error(t, err)
}
