package models

import (
	"time"
)

// Location identifies one configured observation site. Static configuration,
// never mutated at runtime.
type Location struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Observation is a single raw weather data point, one row per location per
// day. NULL metrics are represented as pointers so that absent provider
// values survive normalization without sentinel encoding.
type Observation struct {
	LocationID         string    `json:"location_id" csv:"location_id"`
	Date               time.Time `json:"date" csv:"date"`
	TempMin            *float64  `json:"temp_min,omitempty" csv:"temp_min,omitempty"`
	TempMax            *float64  `json:"temp_max,omitempty" csv:"temp_max,omitempty"`
	TempAvg            *float64  `json:"temp_avg,omitempty" csv:"temp_avg,omitempty"`
	HumidityAvg        *float64  `json:"humidity_avg,omitempty" csv:"humidity_avg,omitempty"`
	PrecipitationTotal *float64  `json:"precipitation_total,omitempty" csv:"precipitation_total,omitempty"`
	WindMax            *float64  `json:"wind_max,omitempty" csv:"wind_max,omitempty"`
}

// Season returns the meteorological season label for a date, Northern
// hemisphere convention: Dec-Feb=Winter, Mar-May=Spring, Jun-Aug=Summer,
// Sep-Nov=Fall.
func Season(date time.Time) string {
	switch date.Month() {
	case time.December, time.January, time.February:
		return "Winter"
	case time.March, time.April, time.May:
		return "Spring"
	case time.June, time.July, time.August:
		return "Summer"
	default:
		return "Fall"
	}
}

// Float returns a pointer to v. Convenience for building observations.
func Float(v float64) *float64 {
	return &v
}
