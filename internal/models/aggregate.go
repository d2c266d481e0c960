package models

import (
	"time"
)

// DailyAggregate is the enriched daily row, one per (location, date). Derived
// columns (Year, Month, Season) are computed deterministically from Date.
type DailyAggregate struct {
	LocationID         string    `json:"location_id" parquet:"location_id,snappy,dict"`
	Date               time.Time `json:"date" parquet:"date,timestamp(millisecond)"`
	TempAvg            *float64  `json:"temp_avg,omitempty" parquet:"temp_avg,snappy"`
	TempMin            *float64  `json:"temp_min,omitempty" parquet:"temp_min,snappy"`
	TempMax            *float64  `json:"temp_max,omitempty" parquet:"temp_max,snappy"`
	TempRange          *float64  `json:"temp_range,omitempty" parquet:"temp_range,snappy"`
	HumidityAvg        *float64  `json:"humidity_avg,omitempty" parquet:"humidity_avg,snappy"`
	PrecipitationTotal *float64  `json:"precipitation_total,omitempty" parquet:"precipitation_total,snappy"`
	WindMax            *float64  `json:"wind_max,omitempty" parquet:"wind_max,snappy"`
	Season             string    `json:"season" parquet:"season,snappy,dict"`
	Year               int32     `json:"year" parquet:"year,snappy"`
	Month              int32     `json:"month" parquet:"month,snappy"`
}

// MetricStats holds the descriptive statistics of one metric over a bucket.
// Std is the population standard deviation. Count is the number of non-null
// values that contributed; it may be lower than the bucket's day count when
// the metric was absent on some days.
type MetricStats struct {
	Mean  float64 `json:"mean" parquet:"mean,snappy"`
	Min   float64 `json:"min" parquet:"min,snappy"`
	Max   float64 `json:"max" parquet:"max,snappy"`
	Std   float64 `json:"std" parquet:"std,snappy"`
	Count int64   `json:"count" parquet:"count,snappy"`
}

// MonthlyAggregate summarizes the daily rows of one (location, year, month)
// bucket. Precipitation is a sum, not a mean.
type MonthlyAggregate struct {
	LocationID         string      `json:"location_id" parquet:"location_id,snappy,dict"`
	Year               int32       `json:"year" parquet:"year,snappy"`
	Month              int32       `json:"month" parquet:"month,snappy"`
	Temperature        MetricStats `json:"temperature" parquet:"temperature"`
	Humidity           MetricStats `json:"humidity" parquet:"humidity"`
	Wind               MetricStats `json:"wind" parquet:"wind"`
	PrecipitationTotal float64     `json:"precipitation_total" parquet:"precipitation_total,snappy"`
	DaysCount          int64       `json:"days_count" parquet:"days_count,snappy"`
}

// SeasonalAggregate summarizes the daily rows of one (location, year, season)
// bucket. Same statistics semantics as MonthlyAggregate.
type SeasonalAggregate struct {
	LocationID         string      `json:"location_id" parquet:"location_id,snappy,dict"`
	Year               int32       `json:"year" parquet:"year,snappy"`
	Season             string      `json:"season" parquet:"season,snappy,dict"`
	Temperature        MetricStats `json:"temperature" parquet:"temperature"`
	Humidity           MetricStats `json:"humidity" parquet:"humidity"`
	Wind               MetricStats `json:"wind" parquet:"wind"`
	PrecipitationTotal float64     `json:"precipitation_total" parquet:"precipitation_total,snappy"`
	DaysCount          int64       `json:"days_count" parquet:"days_count,snappy"`
}
