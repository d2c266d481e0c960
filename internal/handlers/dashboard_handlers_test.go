package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"weatherlake/internal/models"
	"weatherlake/internal/services"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

var handlerMetrics = metrics.NewCollector("handlers_test")

type stubCurated struct {
	daily []models.DailyAggregate
}

func (s *stubCurated) ReadDaily(ctx context.Context) ([]models.DailyAggregate, error) {
	return s.daily, nil
}

func (s *stubCurated) ReadMonthly(ctx context.Context) ([]models.MonthlyAggregate, error) {
	return nil, nil
}

func (s *stubCurated) ReadSeasonal(ctx context.Context) ([]models.SeasonalAggregate, error) {
	return nil, nil
}

type stubMetadata struct {
	stats []models.IngestionStats
}

func (s *stubMetadata) CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	return nil
}

func (s *stubMetadata) UpdateIngestionStatus(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error {
	return nil
}

func (s *stubMetadata) GetIngestionRun(ctx context.Context, runID string) (*models.IngestionRun, error) {
	return nil, nil
}

func (s *stubMetadata) UpdateIngestionCounts(ctx context.Context, runID string, total, valid, invalid int, qualityScore float64) error {
	return nil
}

func (s *stubMetadata) CreateTransformationRun(ctx context.Context, run *models.TransformationRun) error {
	return nil
}

func (s *stubMetadata) CreateQualityChecks(ctx context.Context, ingestionID string, checks []models.QualityCheck) error {
	return nil
}

func (s *stubMetadata) GetIngestionStats(ctx context.Context) ([]models.IngestionStats, error) {
	return s.stats, nil
}

func (s *stubMetadata) ListIngestionRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	return nil, nil
}

func routerForTest(curated *stubCurated, metadata *stubMetadata) *mux.Router {
	logger := logging.NewStructuredLogger("handlers-test", "test", logging.FatalLevel)
	queryService := services.NewQueryService(curated, metadata, logger)
	handler := NewDashboardHandler(queryService, nil, logger, handlerMetrics)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func sampleDaily() []models.DailyAggregate {
	return []models.DailyAggregate{
		{
			LocationID:         "nice",
			Date:               time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
			TempAvg:            models.Float(22),
			HumidityAvg:        models.Float(60),
			PrecipitationTotal: models.Float(0.5),
			Season:             "Summer",
			Year:               2023,
			Month:              6,
		},
	}
}

func TestGetDailyAggregatesEndpoint(t *testing.T) {
	router := routerForTest(&stubCurated{daily: sampleDaily()}, &stubMetadata{})

	req := httptest.NewRequest(http.MethodGet, "/api/weather/daily?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Total != 1 {
		t.Errorf("expected 1 row, got %d", response.Total)
	}
}

func TestGetDailyAggregatesRejectsBadDate(t *testing.T) {
	router := routerForTest(&stubCurated{}, &stubMetadata{})

	req := httptest.NewRequest(http.MethodGet, "/api/weather/daily?start_date=junk", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var response ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if response.Code != http.StatusBadRequest {
		t.Errorf("expected error code 400, got %d", response.Code)
	}
}

func TestGetSummaryStatisticsEndpoint(t *testing.T) {
	router := routerForTest(&stubCurated{daily: sampleDaily()}, &stubMetadata{})

	req := httptest.NewRequest(http.MethodGet, "/api/weather/statistics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var summary services.SummaryStatistics
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if summary.Period.TotalDays != 1 || summary.Temperature.Mean != 22 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestGetIngestionStatsEndpoint(t *testing.T) {
	metadata := &stubMetadata{stats: []models.IngestionStats{
		{SourceType: models.SourceTypeAPI, TotalIngestions: 4, TotalRecords: 1200, AvgQualityScore: 98.5},
	}}
	router := routerForTest(&stubCurated{}, metadata)

	req := httptest.NewRequest(http.MethodGet, "/api/ingestion-stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var response ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Total != 1 {
		t.Errorf("expected 1 stats row, got %d", response.Total)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := routerForTest(&stubCurated{}, &stubMetadata{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
