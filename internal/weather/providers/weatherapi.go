package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

// WeatherAPIProvider implements weather.Source for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/current.json",
		// Unknown cities come back as 400 with error code 1006.
		httpCfg: HTTPClientConfig{
			Client:         client,
			Backoff:        DefaultBackoff,
			NotFoundStatus: []int{http.StatusBadRequest, http.StatusNotFound},
		},
		circuit: newCircuitBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, fetchError(loc, fmt.Errorf("weatherapi: %w", errNoAPIKey))
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		values.Set("q", query(loc))

		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, fetchError(loc, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			LastUpdatedEpoch int64   `json:"last_updated_epoch"`
			TempC            float64 `json:"temp_c"`
			FeelsLikeC       float64 `json:"feelslike_c"`
			Condition        struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Reading{}, fetchError(loc, fmt.Errorf("decode weatherapi response: %w", err))
	}

	var observed time.Time
	if payload.Current.LastUpdatedEpoch > 0 {
		observed = time.Unix(payload.Current.LastUpdatedEpoch, 0)
	}

	return weather.Reading{
		Location:     loc,
		Provider:     p.name,
		ObservedAt:   observed,
		TemperatureC: payload.Current.TempC,
		FeelsLikeC:   payload.Current.FeelsLikeC,
		Condition:    mapWeatherAPICondition(payload.Current.Condition.Text),
	}, nil
}

// hasAny reports whether s contains any of subs.
func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// mapWeatherAPICondition folds WeatherAPI's free-text conditions into the
// OpenWeatherMap vocabulary.
func mapWeatherAPICondition(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.TrimSpace(t) == "":
		return ""
	case hasAny(t, "thunder"):
		return weather.ConditionThunderstorm
	case hasAny(t, "drizzle"):
		return weather.ConditionDrizzle
	case hasAny(t, "rain", "shower"):
		return weather.ConditionRain
	case hasAny(t, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case hasAny(t, "mist", "fog"):
		return weather.ConditionMist
	case hasAny(t, "cloud", "overcast"):
		return weather.ConditionClouds
	case hasAny(t, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
