package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type AppConfig struct {
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string

	// Locations to track.
	Locations []weather.Location

	// PollInterval is the initial polling period.
	PollInterval time.Duration
	FetchTimeout time.Duration
	HTTPTimeout  time.Duration

	// Readings outside [now-MaxReadingAge, now+MaxFutureSkew] are rejected.
	MaxReadingAge time.Duration
	MaxFutureSkew time.Duration

	StoreDriver        string
	StoreDSN           string
	StoreRetentionDays int // 0 keeps everything

	KafkaBrokers       []string
	KafkaSnapshotTopic string

	LogLevel  string
	LogFormat string

	Port            string
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment (and an optional .env file)
// with sensible defaults.
func Load() (*AppConfig, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("weather_location_city", "Delhi,Mumbai,Chennai,Bangalore,Kolkata,Hyderabad")
	v.SetDefault("weather_location_country", "IN")
	v.SetDefault("poll_interval", "5m")
	v.SetDefault("fetch_timeout", "10s")
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("max_reading_age", "24h")
	v.SetDefault("max_future_skew", "1h")
	v.SetDefault("store_driver", StoreMemory)
	v.SetDefault("store_retention_days", 0)
	v.SetDefault("kafka_snapshot_topic", "weather-round-snapshots")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("port", "8080")
	v.SetDefault("shutdown_timeout", "10s")
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		OpenWeatherAPIKey:  v.GetString("openweather_api_key"),
		WeatherAPIKey:      v.GetString("weatherapi_api_key"),
		GeocoderAPIKey:     v.GetString("geocoder_api_key"),
		StoreDriver:        strings.ToLower(v.GetString("store_driver")),
		StoreDSN:           v.GetString("store_dsn"),
		StoreRetentionDays: v.GetInt("store_retention_days"),
		KafkaBrokers:       splitList(v.GetString("kafka_brokers")),
		KafkaSnapshotTopic: v.GetString("kafka_snapshot_topic"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
		Port:               v.GetString("port"),
	}

	durations := []struct {
		key  string
		dst  *time.Duration
		zero bool
	}{
		{"poll_interval", &cfg.PollInterval, false},
		{"fetch_timeout", &cfg.FetchTimeout, false},
		{"http_timeout", &cfg.HTTPTimeout, false},
		{"max_reading_age", &cfg.MaxReadingAge, true},
		{"max_future_skew", &cfg.MaxFutureSkew, true},
		{"shutdown_timeout", &cfg.ShutdownTimeout, false},
	}
	for _, d := range durations {
		raw := v.GetString(d.key)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToUpper(d.key), raw, err)
		}
		if parsed < 0 || (parsed == 0 && !d.zero) {
			return nil, fmt.Errorf("invalid %s %q: must be positive", strings.ToUpper(d.key), raw)
		}
		*d.dst = parsed
	}

	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if cfg.StoreDSN == "" {
			cfg.StoreDSN = "file:weather-aggregates.db"
		}
	case StorePostgres:
		if cfg.StoreDSN == "" {
			return nil, fmt.Errorf("STORE_DSN is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: must be memory, sqlite or postgres", cfg.StoreDriver)
	}
	if cfg.StoreRetentionDays < 0 {
		return nil, fmt.Errorf("invalid STORE_RETENTION_DAYS %d: must not be negative", cfg.StoreRetentionDays)
	}

	locs, err := parseLocations(v.GetString("weather_location_city"), v.GetString("weather_location_country"))
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	return cfg, nil
}

// parseLocations pairs the comma separated city and country lists. A single
// country applies to every city.
func parseLocations(city, country string) ([]weather.Location, error) {
	cities := splitList(city)
	countries := splitList(country)

	if len(cities) == 0 {
		return nil, fmt.Errorf("WEATHER_LOCATION_CITY must name at least one city")
	}
	if len(countries) == 1 && len(cities) > 1 {
		for len(countries) < len(cities) {
			countries = append(countries, countries[0])
		}
	}
	if len(countries) != 0 && len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}

	seen := make(map[string]bool, len(cities))
	var locs []weather.Location
	for i := range cities {
		loc := weather.Location{City: cities[i]}
		if len(countries) > 0 {
			loc.Country = countries[i]
		}
		if seen[loc.Key()] {
			continue
		}
		seen[loc.Key()] = true
		locs = append(locs, loc)
	}

	return locs, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewLogger creates a zap logger at cfg.LogLevel. LogFormat is "json"
// (production encoder) or "console" (development encoder).
func NewLogger(cfg *AppConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zc zap.Config
	switch cfg.LogFormat {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "json", "":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", cfg.LogFormat)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
