package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-aggregates/internal/api/http"
	"github.com/i474232898/weather-aggregates/internal/config"
	"github.com/i474232898/weather-aggregates/internal/observability"
	"github.com/i474232898/weather-aggregates/internal/publisher"
	"github.com/i474232898/weather-aggregates/internal/scheduler"
	"github.com/i474232898/weather-aggregates/internal/store"
	"github.com/i474232898/weather-aggregates/internal/weather"
	"github.com/i474232898/weather-aggregates/internal/weather/providers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("weather-aggregates stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	aggStore, pruner, closer, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer closer.Close()

	if cfg.StoreRetentionDays > 0 {
		janitor := store.NewJanitor(pruner, cfg.StoreRetentionDays, clock, zl)
		if err := janitor.Start(); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
		defer janitor.Stop()
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	sources := []weather.Source{providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey)}
	if cfg.WeatherAPIKey != "" {
		sources = append(sources, providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey))
	}
	// Open-Meteo needs no API key, but resolving cities goes through Google geocoding.
	if cfg.GeocoderAPIKey != "" {
		geo := providers.NewCachedGeocoder(providers.NewGoogleGeocoder(cfg.GeocoderAPIKey))
		sources = append(sources, providers.NewOpenMeteoProvider(httpClient, geo))
	}

	service := weather.NewService(aggStore, providers.NewChain(zl, sources...), weather.Options{
		Locations:    cfg.Locations,
		FetchTimeout: cfg.FetchTimeout,
		Validator:    weather.NewReadingValidator(clock, cfg.MaxReadingAge, cfg.MaxFutureSkew),
		Clock:        clock,
		Logger:       zl,
		Metrics:      metrics,
	})

	alerts := zl.Named("alerts")
	service.OnUpdate(func(_ context.Context, r weather.Reading, agg weather.Aggregate) error {
		alerts.Debug("aggregate updated",
			zap.String("key", agg.Key.String()),
			zap.Float64("temperature_c", r.TemperatureC),
			zap.Float64("mean_temperature_c", agg.MeanTempC),
			zap.String("dominant", agg.Dominant))
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		pub := publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaSnapshotTopic, zl)
		defer pub.Close()
		service.OnSnapshot(pub.Publish)
	}

	sched := scheduler.New(service, clock, zl, metrics)
	if err := sched.Start(cfg.PollInterval); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "weather-aggregates",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, service, sched)

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("http server listening", zap.String("port", cfg.Port))
		serverErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		sched.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zl.Warn("error during http shutdown", zap.Error(err))
	}
	if err := sched.Wait(shutdownCtx); err != nil {
		zl.Warn("round still running at shutdown", zap.Error(err))
	}
	if err := service.WaitPublished(shutdownCtx); err != nil {
		zl.Warn("snapshot delivery still running at shutdown", zap.Error(err))
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg *config.AppConfig) (weather.Store, store.Pruner, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		backend, err := store.OpenSQLite(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewGuarded(backend), backend, backend, nil
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return pg, pg, pg, nil
	default:
		mem := store.NewMemoryStore()
		return mem, mem, nopCloser{}, nil
	}
}
