package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-aggregates/internal/scheduler"
	"github.com/i474232898/weather-aggregates/internal/weather"
)

var validate = validator.New()

// WeatherQueries is the read side of weather.Service.
type WeatherQueries interface {
	LatestSnapshot() (weather.RoundResult, bool)
	LatestReading(loc weather.Location) (weather.Reading, bool)
	DailyAggregate(ctx context.Context, loc weather.Location, day string) (*weather.Aggregate, error)
	Today() string
}

// PollingControl is the control surface of scheduler.Scheduler.
type PollingControl interface {
	SetPollingPeriod(minutes int) error
	Period() time.Duration
	State() scheduler.State
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service WeatherQueries, polling PollingControl) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/weather/latest", func(c *fiber.Ctx) error {
		snapshot, ok := service.LatestSnapshot()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no round has completed yet")
		}
		return c.JSON(snapshot)
	})

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		locReq, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reading, ok := service.LatestReading(locReq.toLocation())
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no weather data for requested location")
		}
		return c.JSON(reading)
	})

	v1.Get("/weather/daily", func(c *fiber.Ctx) error {
		var req dailyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Day == "" {
			req.Day = service.Today()
		}

		agg, err := service.DailyAggregate(c.UserContext(), req.Location.toLocation(), req.Day)
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "failed to fetch daily summary")
		}
		if agg == nil {
			return fiber.NewError(fiber.StatusNotFound, "no daily summary for requested location and day")
		}
		return c.JSON(agg)
	})

	v1.Get("/polling", func(c *fiber.Ctx) error {
		return c.JSON(pollingStatus(polling))
	})

	v1.Put("/polling", func(c *fiber.Ctx) error {
		var req pollingRequest
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := polling.SetPollingPeriod(req.Minutes); err != nil {
			if errors.Is(err, scheduler.ErrInvalidPeriod) || errors.Is(err, scheduler.ErrPeriodTooLong) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to change polling period")
		}
		return c.JSON(pollingStatus(polling))
	})
}

func pollingStatus(p PollingControl) fiber.Map {
	return fiber.Map{
		"minutes": int(p.Period() / time.Minute),
		"state":   p.State().String(),
	}
}

// locationQuery holds query parameters for identifying a location.
type locationQuery struct {
	City    string `validate:"required"`
	Country string
}

func (l locationQuery) toLocation() weather.Location {
	return weather.Location{
		City:    l.City,
		Country: l.Country,
	}
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	var q locationQuery

	q.City = c.Query("city")
	q.Country = c.Query("country")

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}

// dailyQuery holds query parameters for the daily summary endpoint.
type dailyQuery struct {
	Location locationQuery
	Day      string `validate:"omitempty,datetime=2006-01-02"`
}

func (d *dailyQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	d.Location = loc
	d.Day = c.Query("day")

	return validate.Struct(d)
}

// pollingRequest carries the new polling period in minutes.
type pollingRequest struct {
	Minutes int `validate:"min=1,max=1440"`
}

func (p *pollingRequest) bind(c *fiber.Ctx) error {
	raw := c.Query("minutes")
	if raw == "" {
		return errors.New("minutes query parameter is required")
	}

	minutes, err := strconv.Atoi(raw)
	if err != nil {
		return errors.New("minutes must be an integer")
	}
	p.Minutes = minutes

	return validate.Struct(p)
}
