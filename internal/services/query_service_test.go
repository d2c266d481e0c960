package services

import (
	"context"
	"math"
	"testing"
	"time"

	"weatherlake/internal/models"
	"weatherlake/pkg/logging"
)

type fakeCurated struct {
	daily    []models.DailyAggregate
	monthly  []models.MonthlyAggregate
	seasonal []models.SeasonalAggregate
}

func (f *fakeCurated) ReadDaily(ctx context.Context) ([]models.DailyAggregate, error) {
	return f.daily, nil
}

func (f *fakeCurated) ReadMonthly(ctx context.Context) ([]models.MonthlyAggregate, error) {
	return f.monthly, nil
}

func (f *fakeCurated) ReadSeasonal(ctx context.Context) ([]models.SeasonalAggregate, error) {
	return f.seasonal, nil
}

type fakeMetadataStore struct {
	stats []models.IngestionStats
	runs  []models.IngestionRun
}

func (f *fakeMetadataStore) CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	return nil
}

func (f *fakeMetadataStore) UpdateIngestionStatus(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error {
	return nil
}

func (f *fakeMetadataStore) GetIngestionRun(ctx context.Context, runID string) (*models.IngestionRun, error) {
	return nil, nil
}

func (f *fakeMetadataStore) UpdateIngestionCounts(ctx context.Context, runID string, total, valid, invalid int, qualityScore float64) error {
	return nil
}

func (f *fakeMetadataStore) CreateTransformationRun(ctx context.Context, run *models.TransformationRun) error {
	return nil
}

func (f *fakeMetadataStore) CreateQualityChecks(ctx context.Context, ingestionID string, checks []models.QualityCheck) error {
	return nil
}

func (f *fakeMetadataStore) GetIngestionStats(ctx context.Context) ([]models.IngestionStats, error) {
	return f.stats, nil
}

func (f *fakeMetadataStore) ListIngestionRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	return f.runs, nil
}

func day(offset int) time.Time {
	return time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func dailyRow(offset int, tempAvg, precip float64) models.DailyAggregate {
	return models.DailyAggregate{
		LocationID:         "nice",
		Date:               day(offset),
		TempAvg:            models.Float(tempAvg),
		HumidityAvg:        models.Float(60),
		PrecipitationTotal: models.Float(precip),
		Season:             "Summer",
		Year:               2023,
		Month:              6,
	}
}

func serviceForTest(daily ...models.DailyAggregate) *QueryService {
	return NewQueryService(
		&fakeCurated{daily: daily},
		&fakeMetadataStore{},
		logging.NewStructuredLogger("services-test", "test", logging.FatalLevel),
	)
}

func TestGetDailyAggregatesMostRecentFirst(t *testing.T) {
	service := serviceForTest(dailyRow(0, 20, 0), dailyRow(2, 22, 0), dailyRow(1, 21, 0))

	rows, err := service.GetDailyAggregates(context.Background(), nil, nil, 2)
	if err != nil {
		t.Fatalf("GetDailyAggregates returned error: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected limit of 2 rows, got %d", len(rows))
	}
	if !rows[0].Date.Equal(day(2)) || !rows[1].Date.Equal(day(1)) {
		t.Errorf("expected most-recent-first ordering, got %v then %v", rows[0].Date, rows[1].Date)
	}
}

func TestGetDailyAggregatesRangeFilter(t *testing.T) {
	service := serviceForTest(dailyRow(0, 20, 0), dailyRow(1, 21, 0), dailyRow(2, 22, 0), dailyRow(3, 23, 0))

	start, end := day(1), day(2)
	rows, err := service.GetDailyAggregates(context.Background(), &start, &end, 0)
	if err != nil {
		t.Fatalf("GetDailyAggregates returned error: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in range, got %d", len(rows))
	}
	// Ranged queries come back chronological.
	if !rows[0].Date.Equal(day(1)) || !rows[1].Date.Equal(day(2)) {
		t.Errorf("expected chronological ordering, got %v then %v", rows[0].Date, rows[1].Date)
	}
}

func TestGetSummaryStatistics(t *testing.T) {
	service := serviceForTest(dailyRow(0, 20, 0), dailyRow(1, 22, 3.5), dailyRow(2, 24, 0.5))

	summary, err := service.GetSummaryStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetSummaryStatistics returned error: %v", err)
	}

	if summary.Period.TotalDays != 3 {
		t.Errorf("expected 3 total days, got %d", summary.Period.TotalDays)
	}
	if summary.Temperature.Mean != 22 || summary.Temperature.Min != 20 || summary.Temperature.Max != 24 {
		t.Errorf("unexpected temperature summary: %+v", summary.Temperature)
	}
	wantStd := math.Sqrt(8.0 / 3.0)
	if math.Abs(summary.Temperature.Std-wantStd) > 1e-9 {
		t.Errorf("expected std %f, got %f", wantStd, summary.Temperature.Std)
	}
	if summary.Precipitation.Total != 4 || summary.Precipitation.DaysWithRain != 2 {
		t.Errorf("unexpected precipitation summary: %+v", summary.Precipitation)
	}
	if summary.Humidity.Mean != 60 {
		t.Errorf("expected humidity mean 60, got %f", summary.Humidity.Mean)
	}
}

func TestGetSummaryStatisticsSkipsAbsentMetrics(t *testing.T) {
	noTemp := dailyRow(1, 0, 1)
	noTemp.TempAvg = nil
	service := serviceForTest(dailyRow(0, 20, 0), noTemp)

	summary, err := service.GetSummaryStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetSummaryStatistics returned error: %v", err)
	}

	if summary.Temperature.Mean != 20 {
		t.Errorf("absent temperature must be excluded, got mean %f", summary.Temperature.Mean)
	}
	if summary.Period.TotalDays != 2 {
		t.Errorf("row with absent metric still counts as a day, got %d", summary.Period.TotalDays)
	}
}

func TestGetSummaryStatisticsEmptyDataset(t *testing.T) {
	service := serviceForTest()

	summary, err := service.GetSummaryStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetSummaryStatistics returned error: %v", err)
	}
	if summary.Period.TotalDays != 0 || summary.Temperature.Mean != 0 {
		t.Errorf("empty dataset must produce zeroed summary, got %+v", summary)
	}
}
