package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"weatherlake/internal/models"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

var testMetrics = metrics.NewCollector("source_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("source-test", "test", logging.FatalLevel)
	return logger
}

func newTestClient(t *testing.T, handler http.HandlerFunc, workers int) (*OpenMeteoClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewOpenMeteoClient(Config{
		BaseURL:        server.URL,
		Timeout:        5 * time.Second,
		Workers:        workers,
		BreakerTimeout: time.Minute,
	}, testLogger(), testMetrics)

	return client, server
}

const archiveBody = `{
	"daily": {
		"time": ["2023-06-01", "2023-06-02", "2023-06-03"],
		"temperature_2m_max": [24.5, 25.1, null],
		"temperature_2m_min": [18.2, 18.9, 19.0],
		"temperature_2m_mean": [21.0, 21.8, 21.5],
		"precipitation_sum": [0.0, 2.4, 0.1],
		"windspeed_10m_max": [14.2, 16.8, 12.0],
		"relative_humidity_2m_mean": [62.0, 70.5, 68.0]
	}
}`

func dateRange() (time.Time, time.Time) {
	return time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 3, 0, 0, 0, 0, time.UTC)
}

func TestFetchNormalizesDailyArrays(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latitude") == "" {
			t.Errorf("expected latitude query parameter, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(archiveBody))
	}, 2)

	start, end := dateRange()
	locations := []models.Location{{ID: "nice", DisplayName: "Nice", Latitude: 43.7102, Longitude: 7.2620}}

	result, err := client.Fetch(context.Background(), locations, start, end)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if len(result.Observations) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(result.Observations))
	}
	if result.InvalidCount != 0 {
		t.Errorf("expected no invalid records, got %d", result.InvalidCount)
	}

	first := result.Observations[0]
	if first.LocationID != "nice" {
		t.Errorf("expected location nice, got %s", first.LocationID)
	}
	if first.TempMax == nil || *first.TempMax != 24.5 {
		t.Errorf("unexpected temp_max: %v", first.TempMax)
	}

	// Null provider values stay nil rather than becoming zero.
	third := result.Observations[2]
	if third.TempMax != nil {
		t.Errorf("expected nil temp_max for null value, got %v", *third.TempMax)
	}
}

func TestFetchSkipsMalformedDays(t *testing.T) {
	body := `{
		"daily": {
			"time": ["2023-06-01", "not-a-date", "2023-06-03"],
			"temperature_2m_max": [24.5, 25.1, 23.0],
			"temperature_2m_min": [18.2, 18.9, 17.5],
			"temperature_2m_mean": [21.0, 21.8, 20.2],
			"precipitation_sum": [0.0, 2.4, 1.1],
			"windspeed_10m_max": [14.2, 16.8, 15.5],
			"relative_humidity_2m_mean": [62.0, 70.5, 64.0]
		}
	}`
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}, 1)

	start, end := dateRange()
	result, err := client.Fetch(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if len(result.Observations) != 2 {
		t.Errorf("expected 2 observations, got %d", len(result.Observations))
	}
	if result.InvalidCount != 1 {
		t.Errorf("expected 1 invalid record, got %d", result.InvalidCount)
	}
}

func TestFetchEmptyWindowYieldsEmptyBatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"daily":{"time":[]}}`))
	}, 2)

	start, end := dateRange()
	result, err := client.Fetch(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	// Downstream stages receive an empty batch, never a nil one.
	if result.Observations == nil {
		t.Fatal("expected non-nil observation slice for an empty window")
	}
	if len(result.Observations) != 0 || result.InvalidCount != 0 {
		t.Errorf("expected empty result, got %d observations / %d invalid",
			len(result.Observations), result.InvalidCount)
	}
}

func TestFetchRateLimitedAbortsRun(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}, 2)

	start, end := dateRange()
	_, err := client.Fetch(context.Background(), []models.Location{{ID: "nice"}, {ID: "cannes"}}, start, end)

	rateErr, ok := err.(*models.SourceRateLimitedError)
	if !ok {
		t.Fatalf("expected SourceRateLimitedError, got %T: %v", err, err)
	}
	if !rateErr.IsTransient() {
		t.Error("rate limit errors must be transient")
	}
	if rateErr.RetryAfter != 7*time.Second {
		t.Errorf("expected Retry-After of 7s, got %v", rateErr.RetryAfter)
	}
}

func TestFetchPartialFailureKeepsGoodLocations(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(archiveBody))
	}, 1)

	start, end := dateRange()
	locations := []models.Location{{ID: "nice"}, {ID: "cannes"}}

	result, err := client.Fetch(context.Background(), locations, start, end)
	if err != nil {
		t.Fatalf("partial failure must not be fatal, got %v", err)
	}

	if len(result.FailedLocations) != 1 {
		t.Fatalf("expected 1 failed location, got %v", result.FailedLocations)
	}
	if len(result.Observations) != 3 {
		t.Errorf("expected observations from the surviving location, got %d", len(result.Observations))
	}
}

func TestFetchAllLocationsFailing(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 2)

	start, end := dateRange()
	_, err := client.Fetch(context.Background(), []models.Location{{ID: "nice"}, {ID: "cannes"}}, start, end)

	unavailable, ok := err.(*models.SourceUnavailableError)
	if !ok {
		t.Fatalf("expected SourceUnavailableError, got %T: %v", err, err)
	}
	if !unavailable.IsTransient() {
		t.Error("source unavailability must be transient")
	}
}

func TestFetchValidatesInput(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid input")
	}, 1)

	start, end := dateRange()

	if _, err := client.Fetch(context.Background(), nil, start, end); err == nil {
		t.Error("expected error for empty location set")
	}
	if _, err := client.Fetch(context.Background(), []models.Location{{ID: "nice"}}, end, start); err == nil {
		t.Error("expected error for reversed date range")
	}
}
