package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"weatherlake/internal/models"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

// Client fetches raw observations from the external weather data provider.
type Client interface {
	Fetch(ctx context.Context, locations []models.Location, start, end time.Time) (*FetchResult, error)
}

// FetchResult is the outcome of one provider fetch across all locations.
// Observations from different locations may be interleaved; downstream
// grouping is order-independent.
type FetchResult struct {
	Observations    []models.Observation
	InvalidCount    int
	FailedLocations []string
}

// Config configures the provider client.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Workers        int
	BreakerTimeout time.Duration
}

// OpenMeteoClient talks to the Open-Meteo archive API. Fetches run one
// request per location under a bounded worker pool, wrapped in a circuit
// breaker. The client performs no storage writes.
type OpenMeteoClient struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	baseURL    string
	workers    int
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewOpenMeteoClient creates a provider client.
func NewOpenMeteoClient(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *OpenMeteoClient {
	settings := gobreaker.Settings{
		Name:    "open-meteo",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "[SOURCE_BREAKER] Circuit breaker state changed", logging.Fields{
				"client": name,
				"from":   from.String(),
				"to":     to.String(),
			})
		},
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &OpenMeteoClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		baseURL:    cfg.BaseURL,
		workers:    workers,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// archiveResponse is the provider-native response shape. It never leaves this
// package; normalization into Observation happens at the client boundary.
type archiveResponse struct {
	Daily struct {
		Time             []string   `json:"time"`
		TemperatureMax   []*float64 `json:"temperature_2m_max"`
		TemperatureMin   []*float64 `json:"temperature_2m_min"`
		TemperatureMean  []*float64 `json:"temperature_2m_mean"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
		WindSpeedMax     []*float64 `json:"windspeed_10m_max"`
		RelativeHumidity []*float64 `json:"relative_humidity_2m_mean"`
	} `json:"daily"`
}

type locationFetch struct {
	location     models.Location
	observations []models.Observation
	invalidCount int
	err          error
}

// Fetch retrieves observations for every location over [start, end]. One
// request per location, at most Workers in flight. A rate-limited response
// aborts the fetch so the orchestrator can back off and retry; other
// per-location failures are recorded and only fatal when every location
// fails.
func (c *OpenMeteoClient) Fetch(ctx context.Context, locations []models.Location, start, end time.Time) (*FetchResult, error) {
	if len(locations) == 0 {
		return nil, &models.InvalidInputError{Field: "locations", Message: "empty location set"}
	}
	if end.Before(start) {
		return nil, &models.InvalidInputError{Field: "date_range", Message: "end date precedes start date"}
	}

	c.logger.Info(ctx, "[SOURCE_FETCH] Fetching observations", logging.Fields{
		"locations":  len(locations),
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
		"workers":    c.workers,
	})

	results := make([]locationFetch, len(locations))
	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup

	for i, loc := range locations {
		wg.Add(1)
		go func(i int, loc models.Location) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			observations, invalid, err := c.fetchLocation(ctx, loc, start, end)
			results[i] = locationFetch{
				location:     loc,
				observations: observations,
				invalidCount: invalid,
				err:          err,
			}
		}(i, loc)
	}
	wg.Wait()

	// Observations starts non-nil: a legitimately empty window is an empty
	// batch downstream, not a missing one.
	result := &FetchResult{Observations: make([]models.Observation, 0)}
	failures := 0
	var firstErr error

	for _, lf := range results {
		if lf.err != nil {
			// Rate limiting aborts the whole fetch; the orchestrator owns the
			// backoff and the fetch has no side effects to undo.
			if rateErr, ok := lf.err.(*models.SourceRateLimitedError); ok {
				c.metrics.RecordSourceError("rate_limited")
				return nil, rateErr
			}
			failures++
			if firstErr == nil {
				firstErr = lf.err
			}
			result.FailedLocations = append(result.FailedLocations, lf.location.ID)
			c.metrics.RecordSourceError("location_failed")
			c.logger.Error(ctx, "[SOURCE_LOCATION_ERROR] Location fetch failed", logging.Fields{
				"location_id": lf.location.ID,
			}, lf.err)
			continue
		}
		result.Observations = append(result.Observations, lf.observations...)
		result.InvalidCount += lf.invalidCount
	}

	if failures == len(locations) {
		return nil, &models.SourceUnavailableError{Provider: "open-meteo", Err: firstErr}
	}

	c.logger.Info(ctx, "[SOURCE_FETCH_COMPLETE] Fetch completed", logging.Fields{
		"observations":     len(result.Observations),
		"invalid_records":  result.InvalidCount,
		"failed_locations": len(result.FailedLocations),
	})

	return result, nil
}

// fetchLocation performs one provider request and normalizes the response.
func (c *OpenMeteoClient) fetchLocation(ctx context.Context, loc models.Location, start, end time.Time) ([]models.Observation, int, error) {
	url := fmt.Sprintf(
		"%s?latitude=%.4f&longitude=%.4f&start_date=%s&end_date=%s&daily=temperature_2m_max,temperature_2m_min,temperature_2m_mean,precipitation_sum,windspeed_10m_max,relative_humidity_2m_mean&timezone=UTC",
		c.baseURL,
		loc.Latitude,
		loc.Longitude,
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
	)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, 0, err
	}

	var response archiveResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, 0, &models.SourceDataError{
			LocationID: loc.ID,
			Field:      "body",
			Message:    fmt.Sprintf("unparseable provider response: %v", err),
		}
	}

	return normalize(loc, response, start, end)
}

// get issues the HTTP request through the circuit breaker and classifies
// failures into the source error taxonomy.
func (c *OpenMeteoClient) get(ctx context.Context, url string) ([]byte, error) {
	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &models.SourceUnavailableError{Provider: "open-meteo", Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &models.SourceRateLimitedError{Provider: "open-meteo", RetryAfter: retryAfter(resp)}
		case resp.StatusCode != http.StatusOK:
			return nil, &models.SourceUnavailableError{
				Provider: "open-meteo",
				Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
			}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &models.SourceUnavailableError{Provider: "open-meteo", Err: err}
		}
		return data, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &models.SourceUnavailableError{Provider: "open-meteo", Err: err}
		}
		return nil, err
	}

	return body.([]byte), nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}

// normalize flattens the provider's column-oriented daily arrays into one
// Observation per day. Days with an unparseable date or outside the requested
// window are skipped and counted invalid; absent metric values stay nil.
func normalize(loc models.Location, response archiveResponse, start, end time.Time) ([]models.Observation, int, error) {
	daily := response.Daily
	observations := make([]models.Observation, 0, len(daily.Time))
	invalid := 0

	for i, day := range daily.Time {
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			invalid++
			continue
		}
		if date.Before(start) || date.After(end) {
			invalid++
			continue
		}

		observations = append(observations, models.Observation{
			LocationID:         loc.ID,
			Date:               date,
			TempMax:            at(daily.TemperatureMax, i),
			TempMin:            at(daily.TemperatureMin, i),
			TempAvg:            at(daily.TemperatureMean, i),
			PrecipitationTotal: at(daily.PrecipitationSum, i),
			WindMax:            at(daily.WindSpeedMax, i),
			HumidityAvg:        at(daily.RelativeHumidity, i),
		})
	}

	return observations, invalid, nil
}

// at guards against provider arrays shorter than the time axis.
func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
