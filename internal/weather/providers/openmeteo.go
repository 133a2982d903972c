package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

// OpenMeteoProvider implements weather.Source for Open-Meteo. Open-Meteo only
// accepts coordinates, so cities are resolved through a Geocoder first.
type OpenMeteoProvider struct {
	name     string
	baseURL  string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
	geocoder Geocoder
}

func NewOpenMeteoProvider(client *http.Client, geo Geocoder) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:     "openmeteo",
		baseURL:  "https://api.open-meteo.com/v1/forecast",
		httpCfg:  HTTPClientConfig{Client: client, Backoff: DefaultBackoff, Limiter: perMinute(600)},
		circuit:  newCircuitBreaker("openmeteo"),
		geocoder: geo,
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if p.geocoder == nil {
		return weather.Reading{}, fetchError(loc, fmt.Errorf("openmeteo: geocoder not configured"))
	}

	coords, err := p.geocoder.Resolve(ctx, loc)
	if err != nil {
		return weather.Reading{}, fetchError(loc, err)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(coords.Latitude, 'f', 4, 64))
		values.Set("longitude", strconv.FormatFloat(coords.Longitude, 'f', 4, 64))
		values.Set("current", "temperature_2m,apparent_temperature,weather_code")
		values.Set("timeformat", "unixtime")

		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, fetchError(loc, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			Time                int64   `json:"time"`
			Temperature         float64 `json:"temperature_2m"`
			ApparentTemperature float64 `json:"apparent_temperature"`
			WeatherCode         *int    `json:"weather_code"`
		} `json:"current"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Reading{}, fetchError(loc, fmt.Errorf("decode openmeteo response: %w", err))
	}

	var observed time.Time
	if payload.Current.Time > 0 {
		observed = time.Unix(payload.Current.Time, 0)
	}

	var cond string
	if payload.Current.WeatherCode != nil {
		cond = mapOpenMeteoCondition(*payload.Current.WeatherCode)
	}

	return weather.Reading{
		Location:     loc,
		Provider:     p.name,
		ObservedAt:   observed,
		TemperatureC: payload.Current.Temperature,
		FeelsLikeC:   payload.Current.ApparentTemperature,
		Condition:    cond,
	}, nil
}

// mapOpenMeteoCondition maps WMO weather codes onto the OpenWeatherMap vocabulary.
func mapOpenMeteoCondition(code int) string {
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionClouds
	case code == 45 || code == 48:
		return weather.ConditionMist
	case code >= 51 && code <= 57:
		return weather.ConditionDrizzle
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95 && code <= 99:
		return weather.ConditionThunderstorm
	default:
		return weather.ConditionUnknown
	}
}
