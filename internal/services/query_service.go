package services

import (
	"context"
	"math"
	"sort"
	"time"

	"weatherlake/internal/models"
	"weatherlake/internal/repository"
	"weatherlake/pkg/logging"
)

// CuratedReader reads the current curated artifact set.
type CuratedReader interface {
	ReadDaily(ctx context.Context) ([]models.DailyAggregate, error)
	ReadMonthly(ctx context.Context) ([]models.MonthlyAggregate, error)
	ReadSeasonal(ctx context.Context) ([]models.SeasonalAggregate, error)
}

// SummaryStatistics is the dashboard's overview block, computed over the full
// curated daily dataset.
type SummaryStatistics struct {
	Temperature struct {
		Mean float64 `json:"mean"`
		Min  float64 `json:"min"`
		Max  float64 `json:"max"`
		Std  float64 `json:"std"`
	} `json:"temperature"`
	Precipitation struct {
		Total        float64 `json:"total"`
		DaysWithRain int     `json:"days_with_rain"`
	} `json:"precipitation"`
	Humidity struct {
		Mean float64 `json:"mean"`
	} `json:"humidity"`
	Period struct {
		TotalDays int `json:"total_days"`
	} `json:"period"`
}

// QueryService serves read-only dashboard queries from curated storage and
// the metadata store. It never writes.
type QueryService struct {
	curated  CuratedReader
	metadata repository.MetadataRepository
	logger   *logging.StructuredLogger
}

// NewQueryService creates a dashboard query service.
func NewQueryService(curated CuratedReader, metadata repository.MetadataRepository, logger *logging.StructuredLogger) *QueryService {
	return &QueryService{curated: curated, metadata: metadata, logger: logger}
}

// GetDailyAggregates returns daily rows, filtered by the optional inclusive
// date range. Without a range the most recent rows come first; with a range
// rows are chronological.
func (s *QueryService) GetDailyAggregates(ctx context.Context, start, end *time.Time, limit int) ([]models.DailyAggregate, error) {
	rows, err := s.curated.ReadDaily(ctx)
	if err != nil {
		return nil, err
	}

	filtered := rows[:0:0]
	for _, row := range rows {
		if start != nil && row.Date.Before(*start) {
			continue
		}
		if end != nil && row.Date.After(*end) {
			continue
		}
		filtered = append(filtered, row)
	}

	if start == nil && end == nil {
		sort.Slice(filtered, func(i, j int) bool {
			return filtered[i].Date.After(filtered[j].Date)
		})
	} else {
		sort.Slice(filtered, func(i, j int) bool {
			return filtered[i].Date.Before(filtered[j].Date)
		})
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	return filtered, nil
}

// GetMonthlyAggregates returns all monthly rollups.
func (s *QueryService) GetMonthlyAggregates(ctx context.Context) ([]models.MonthlyAggregate, error) {
	return s.curated.ReadMonthly(ctx)
}

// GetSeasonalAggregates returns all seasonal rollups.
func (s *QueryService) GetSeasonalAggregates(ctx context.Context) ([]models.SeasonalAggregate, error) {
	return s.curated.ReadSeasonal(ctx)
}

// GetSummaryStatistics computes the overview block over every curated daily
// row. Absent metric values are excluded from their statistic.
func (s *QueryService) GetSummaryStatistics(ctx context.Context) (*SummaryStatistics, error) {
	rows, err := s.curated.ReadDaily(ctx)
	if err != nil {
		return nil, err
	}

	summary := &SummaryStatistics{}
	summary.Period.TotalDays = len(rows)

	var tempSum, tempSumSq float64
	var tempCount int
	var humiditySum float64
	var humidityCount int

	for _, row := range rows {
		if row.TempAvg != nil {
			v := *row.TempAvg
			if tempCount == 0 {
				summary.Temperature.Min, summary.Temperature.Max = v, v
			} else {
				if v < summary.Temperature.Min {
					summary.Temperature.Min = v
				}
				if v > summary.Temperature.Max {
					summary.Temperature.Max = v
				}
			}
			tempSum += v
			tempSumSq += v * v
			tempCount++
		}
		if row.HumidityAvg != nil {
			humiditySum += *row.HumidityAvg
			humidityCount++
		}
		if row.PrecipitationTotal != nil {
			summary.Precipitation.Total += *row.PrecipitationTotal
			if *row.PrecipitationTotal > 0 {
				summary.Precipitation.DaysWithRain++
			}
		}
	}

	if tempCount > 0 {
		mean := tempSum / float64(tempCount)
		summary.Temperature.Mean = mean
		variance := tempSumSq/float64(tempCount) - mean*mean
		if variance < 0 {
			variance = 0
		}
		summary.Temperature.Std = math.Sqrt(variance)
	}
	if humidityCount > 0 {
		summary.Humidity.Mean = humiditySum / float64(humidityCount)
	}

	return summary, nil
}

// GetIngestionStats returns the per-source-type rollup from the metadata
// store.
func (s *QueryService) GetIngestionStats(ctx context.Context) ([]models.IngestionStats, error) {
	return s.metadata.GetIngestionStats(ctx)
}

// GetRecentRuns returns the most recent ingestion ledger rows.
func (s *QueryService) GetRecentRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	return s.metadata.ListIngestionRuns(ctx, limit)
}
