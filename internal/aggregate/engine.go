package aggregate

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"weatherlake/internal/models"
	"weatherlake/pkg/logging"
)

// Result holds all three curated granularities produced from one batch of
// validated observations. Slices are deterministically ordered so repeated
// runs over the same input produce identical artifacts.
type Result struct {
	Daily    []models.DailyAggregate
	Monthly  []models.MonthlyAggregate
	Seasonal []models.SeasonalAggregate
}

// Engine derives daily, monthly, and seasonal aggregates. Monthly and
// seasonal reduction is partitioned by location hash across a fixed worker
// pool; every bucket is owned by exactly one worker, so no cross-worker
// merging of partial statistics is needed.
type Engine struct {
	workers int
	logger  *logging.StructuredLogger
}

// NewEngine creates an aggregation engine with the given worker count.
func NewEngine(workers int, logger *logging.StructuredLogger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{workers: workers, logger: logger}
}

// Aggregate computes all granularities. Empty input yields an empty result;
// buckets never contain null summary rows because absent buckets are simply
// not emitted.
func (e *Engine) Aggregate(ctx context.Context, observations []models.Observation) (*Result, error) {
	if observations == nil {
		return nil, &models.AggregationError{Stage: "input", Err: errNilInput}
	}
	if err := ctx.Err(); err != nil {
		return nil, &models.AggregationError{Stage: "input", Err: err}
	}

	daily := enrich(observations)

	partitions := partitionByLocation(daily, e.workers)

	type partial struct {
		monthly  []models.MonthlyAggregate
		seasonal []models.SeasonalAggregate
	}
	partials := make([]partial, len(partitions))

	var wg sync.WaitGroup
	for i, part := range partitions {
		if len(part) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, rows []models.DailyAggregate) {
			defer wg.Done()
			partials[i] = partial{
				monthly:  reduceMonthly(rows),
				seasonal: reduceSeasonal(rows),
			}
		}(i, part)
	}
	wg.Wait()

	result := &Result{Daily: daily}
	for _, p := range partials {
		result.Monthly = append(result.Monthly, p.monthly...)
		result.Seasonal = append(result.Seasonal, p.seasonal...)
	}

	sort.Slice(result.Monthly, func(i, j int) bool {
		a, b := result.Monthly[i], result.Monthly[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
	sort.Slice(result.Seasonal, func(i, j int) bool {
		a, b := result.Seasonal[i], result.Seasonal[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return seasonOrder(a.Season) < seasonOrder(b.Season)
	})

	e.logger.Info(ctx, "[AGGREGATE] Aggregation completed", logging.Fields{
		"daily_rows":    len(result.Daily),
		"monthly_rows":  len(result.Monthly),
		"seasonal_rows": len(result.Seasonal),
		"workers":       e.workers,
	})

	return result, nil
}

var errNilInput = errors.New("nil observation set")

// enrich turns validated observations into daily rows with derived columns,
// ordered by location then date.
func enrich(observations []models.Observation) []models.DailyAggregate {
	daily := make([]models.DailyAggregate, 0, len(observations))

	for _, obs := range observations {
		row := models.DailyAggregate{
			LocationID:         obs.LocationID,
			Date:               obs.Date,
			TempAvg:            obs.TempAvg,
			TempMin:            obs.TempMin,
			TempMax:            obs.TempMax,
			HumidityAvg:        obs.HumidityAvg,
			PrecipitationTotal: obs.PrecipitationTotal,
			WindMax:            obs.WindMax,
			Season:             models.Season(obs.Date),
			Year:               int32(obs.Date.Year()),
			Month:              int32(obs.Date.Month()),
		}
		if obs.TempMin != nil && obs.TempMax != nil {
			row.TempRange = models.Float(*obs.TempMax - *obs.TempMin)
		}
		daily = append(daily, row)
	}

	sort.Slice(daily, func(i, j int) bool {
		if daily[i].LocationID != daily[j].LocationID {
			return daily[i].LocationID < daily[j].LocationID
		}
		return daily[i].Date.Before(daily[j].Date)
	})

	return daily
}

// partitionByLocation routes each daily row to hash(location) mod workers.
func partitionByLocation(rows []models.DailyAggregate, workers int) [][]models.DailyAggregate {
	partitions := make([][]models.DailyAggregate, workers)
	for _, row := range rows {
		h := fnv.New32a()
		h.Write([]byte(row.LocationID))
		idx := int(h.Sum32()) % workers
		if idx < 0 {
			idx += workers
		}
		partitions[idx] = append(partitions[idx], row)
	}
	return partitions
}

// statsAcc accumulates one metric with a single pass over the bucket.
type statsAcc struct {
	sum   float64
	sumSq float64
	min   float64
	max   float64
	count int64
}

func (a *statsAcc) add(v *float64) {
	if v == nil {
		return
	}
	if a.count == 0 {
		a.min, a.max = *v, *v
	} else {
		if *v < a.min {
			a.min = *v
		}
		if *v > a.max {
			a.max = *v
		}
	}
	a.sum += *v
	a.sumSq += *v * *v
	a.count++
}

// stats produces the final statistics. Std is the population standard
// deviation; the variance is clamped at zero to absorb floating point noise.
func (a *statsAcc) stats() models.MetricStats {
	if a.count == 0 {
		return models.MetricStats{}
	}
	mean := a.sum / float64(a.count)
	variance := a.sumSq/float64(a.count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return models.MetricStats{
		Mean:  mean,
		Min:   a.min,
		Max:   a.max,
		Std:   math.Sqrt(variance),
		Count: a.count,
	}
}

type bucketAcc struct {
	temperature statsAcc
	humidity    statsAcc
	wind        statsAcc
	precip      float64
	days        int64
}

func (b *bucketAcc) add(row models.DailyAggregate) {
	b.temperature.add(row.TempAvg)
	b.humidity.add(row.HumidityAvg)
	b.wind.add(row.WindMax)
	if row.PrecipitationTotal != nil {
		b.precip += *row.PrecipitationTotal
	}
	b.days++
}

type monthKey struct {
	location string
	year     int32
	month    int32
}

func reduceMonthly(rows []models.DailyAggregate) []models.MonthlyAggregate {
	buckets := make(map[monthKey]*bucketAcc)
	for _, row := range rows {
		key := monthKey{location: row.LocationID, year: row.Year, month: row.Month}
		acc, ok := buckets[key]
		if !ok {
			acc = &bucketAcc{}
			buckets[key] = acc
		}
		acc.add(row)
	}

	monthly := make([]models.MonthlyAggregate, 0, len(buckets))
	for key, acc := range buckets {
		monthly = append(monthly, models.MonthlyAggregate{
			LocationID:         key.location,
			Year:               key.year,
			Month:              key.month,
			Temperature:        acc.temperature.stats(),
			Humidity:           acc.humidity.stats(),
			Wind:               acc.wind.stats(),
			PrecipitationTotal: acc.precip,
			DaysCount:          acc.days,
		})
	}
	return monthly
}

type seasonKey struct {
	location string
	year     int32
	season   string
}

func reduceSeasonal(rows []models.DailyAggregate) []models.SeasonalAggregate {
	buckets := make(map[seasonKey]*bucketAcc)
	for _, row := range rows {
		key := seasonKey{location: row.LocationID, year: row.Year, season: row.Season}
		acc, ok := buckets[key]
		if !ok {
			acc = &bucketAcc{}
			buckets[key] = acc
		}
		acc.add(row)
	}

	seasonal := make([]models.SeasonalAggregate, 0, len(buckets))
	for key, acc := range buckets {
		seasonal = append(seasonal, models.SeasonalAggregate{
			LocationID:         key.location,
			Year:               key.year,
			Season:             key.season,
			Temperature:        acc.temperature.stats(),
			Humidity:           acc.humidity.stats(),
			Wind:               acc.wind.stats(),
			PrecipitationTotal: acc.precip,
			DaysCount:          acc.days,
		})
	}
	return seasonal
}

func seasonOrder(season string) int {
	switch season {
	case "Winter":
		return 0
	case "Spring":
		return 1
	case "Summer":
		return 2
	case "Fall":
		return 3
	default:
		return 4
	}
}
