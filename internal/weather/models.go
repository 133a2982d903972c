package weather

import (
	"time"
)

// Condition labels as reported by OpenWeatherMap's "weather[0].main" field.
// Providers speaking another vocabulary normalize into these where they can;
// any other non-empty label is still a valid condition.
const (
	ConditionClear        = "Clear"
	ConditionClouds       = "Clouds"
	ConditionRain         = "Rain"
	ConditionDrizzle      = "Drizzle"
	ConditionSnow         = "Snow"
	ConditionThunderstorm = "Thunderstorm"
	ConditionMist         = "Mist"
	ConditionUnknown      = "Unknown"
)

// DayLayout is the calendar day format used in aggregate keys.
const DayLayout = "2006-01-02"

// Location represents a logical place for which we track weather.
// City/Country must be provided.
type Location struct {
	City    string `json:"city" validate:"required"`
	Country string `json:"country"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return l.City + ":" + l.Country
}

// Reading is one instantaneous observation for a location.
type Reading struct {
	Location   Location  `json:"location"`
	Provider   string    `json:"provider,omitempty"`
	ObservedAt time.Time `json:"observedAt"`

	TemperatureC float64 `json:"temperatureC" validate:"finite"`
	FeelsLikeC   float64 `json:"feelsLikeC" validate:"finite"`
	Condition    string  `json:"condition" validate:"required,notblank"`
}

// AggregateKey identifies the summary of one location on one calendar day.
type AggregateKey struct {
	Location string `json:"location"`
	Day      string `json:"day"`
}

func (k AggregateKey) String() string {
	return k.Location + "@" + k.Day
}

// KeyFor derives the aggregate key of a reading. The day comes from the
// observation time in the process-local zone.
func KeyFor(r Reading) AggregateKey {
	return AggregateKey{
		Location: r.Location.Key(),
		Day:      DayOf(r.ObservedAt),
	}
}

// DayOf formats t as a calendar day in the process-local zone.
func DayOf(t time.Time) string {
	return t.Local().Format(DayLayout)
}

// Aggregate is the running summary for one AggregateKey.
type Aggregate struct {
	Key   AggregateKey `json:"key"`
	Count int          `json:"count"`

	MeanTempC      float64 `json:"meanTempC"`
	MaxTempC       float64 `json:"maxTempC"`
	MinTempC       float64 `json:"minTempC"`
	MeanFeelsLikeC float64 `json:"meanFeelsLikeC"`

	Dominant    string         `json:"dominantCondition"`
	Frequencies map[string]int `json:"conditionFrequencies"`

	FirstObservedAt time.Time `json:"firstObservedAt"`
	LastObservedAt  time.Time `json:"lastObservedAt"`
}

// Clone returns a deep copy, so callers never share the frequency table.
func (a Aggregate) Clone() Aggregate {
	freq := make(map[string]int, len(a.Frequencies))
	for k, v := range a.Frequencies {
		freq[k] = v
	}
	a.Frequencies = freq
	return a
}
