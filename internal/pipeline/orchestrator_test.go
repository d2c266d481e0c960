package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"weatherlake/internal/aggregate"
	"weatherlake/internal/models"
	"weatherlake/internal/quality"
	"weatherlake/internal/source"
	"weatherlake/internal/storage"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

var pipelineMetrics = metrics.NewCollector("pipeline_test")

func pipelineLogger() *logging.StructuredLogger {
	return logging.NewStructuredLogger("pipeline-test", "test", logging.FatalLevel)
}

type fakeSource struct {
	results []fetchAttempt
	calls   int
}

type fetchAttempt struct {
	result *source.FetchResult
	err    error
}

func (f *fakeSource) Fetch(ctx context.Context, locations []models.Location, start, end time.Time) (*source.FetchResult, error) {
	attempt := f.results[f.calls]
	if f.calls < len(f.results)-1 {
		f.calls++
	}
	return attempt.result, attempt.err
}

type fakeRaw struct {
	writes int
	err    error
}

func (f *fakeRaw) Write(ctx context.Context, runID string, observations []models.Observation) (*storage.RawArtifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.writes++
	return &storage.RawArtifact{Records: len(observations)}, nil
}

type fakeCurated struct {
	writes int
	err    error
}

func (f *fakeCurated) Write(ctx context.Context, result *aggregate.Result) error {
	if f.err != nil {
		return f.err
	}
	f.writes++
	return nil
}

type fakeMetadata struct {
	created    *models.IngestionRun
	statuses   []models.RunStatus
	counts     bool
	checks     int
	transforms int
	forcedErr  error
}

func (f *fakeMetadata) CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	if f.forcedErr != nil {
		return f.forcedErr
	}
	f.created = run
	return nil
}

func (f *fakeMetadata) UpdateIngestionStatus(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error {
	if f.forcedErr != nil {
		return f.forcedErr
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeMetadata) UpdateIngestionCounts(ctx context.Context, runID string, total, valid, invalid int, qualityScore float64) error {
	if f.forcedErr != nil {
		return f.forcedErr
	}
	f.counts = true
	return nil
}

func (f *fakeMetadata) CreateTransformationRun(ctx context.Context, run *models.TransformationRun) error {
	if f.forcedErr != nil {
		return f.forcedErr
	}
	f.transforms++
	return nil
}

func (f *fakeMetadata) CreateQualityChecks(ctx context.Context, ingestionID string, checks []models.QualityCheck) error {
	if f.forcedErr != nil {
		return f.forcedErr
	}
	f.checks += len(checks)
	return nil
}

func observationsFixture() []models.Observation {
	date := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	return []models.Observation{
		{
			LocationID:         "nice",
			Date:               date,
			TempMin:            models.Float(18),
			TempMax:            models.Float(26),
			TempAvg:            models.Float(22),
			HumidityAvg:        models.Float(60),
			PrecipitationTotal: models.Float(0.5),
			WindMax:            models.Float(12),
		},
		{
			LocationID:         "nice",
			Date:               date.AddDate(0, 0, 1),
			TempMin:            models.Float(19),
			TempMax:            models.Float(27),
			TempAvg:            models.Float(23),
			HumidityAvg:        models.Float(58),
			PrecipitationTotal: models.Float(0),
			WindMax:            models.Float(10),
		},
	}
}

type harness struct {
	orchestrator *Orchestrator
	source       *fakeSource
	raw          *fakeRaw
	curated      *fakeCurated
	metadata     *fakeMetadata
	slept        []time.Duration
}

func newHarness(attempts ...fetchAttempt) *harness {
	logger := pipelineLogger()
	h := &harness{
		source:   &fakeSource{results: attempts},
		raw:      &fakeRaw{},
		curated:  &fakeCurated{},
		metadata: &fakeMetadata{},
	}
	h.orchestrator = NewOrchestrator(
		h.source,
		SourceInfo{Type: models.SourceTypeAPI, Name: "open-meteo"},
		quality.NewGate(logger),
		aggregate.NewEngine(2, logger),
		h.raw,
		h.curated,
		h.metadata,
		RetryPolicy{MaxRetries: 2, Delay: 10 * time.Millisecond, Multiplier: 2},
		logger,
		pipelineMetrics,
	)
	h.orchestrator.sleep = func(d time.Duration) { h.slept = append(h.slept, d) }
	return h
}

func runWindow() (time.Time, time.Time) {
	return time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC)
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(fetchAttempt{result: &source.FetchResult{Observations: observationsFixture()}})
	start, end := runWindow()

	summary, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Status != models.RunStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", summary.Status)
	}
	if summary.RecordsTotal != 2 || summary.RecordsValid != 2 || summary.RecordsInvalid != 0 {
		t.Errorf("unexpected counts: %+v", summary)
	}
	if summary.QualityScore != 100 {
		t.Errorf("expected quality score 100, got %f", summary.QualityScore)
	}
	if summary.DailyRows != 2 || summary.MonthlyRows != 1 || summary.SeasonalRows != 1 {
		t.Errorf("unexpected aggregate rows: %+v", summary)
	}

	if h.raw.writes != 1 {
		t.Error("raw artifact not written")
	}
	if h.curated.writes != 1 {
		t.Error("curated artifacts not written")
	}
	if h.metadata.created == nil || h.metadata.created.Status != models.RunStatusPending {
		t.Error("run must be created PENDING in the ledger")
	}
	if h.metadata.created.SourceType != models.SourceTypeAPI || h.metadata.created.SourceName != "open-meteo" {
		t.Errorf("ledger row must carry the source identity, got %s/%s",
			h.metadata.created.SourceType, h.metadata.created.SourceName)
	}
	if len(h.metadata.statuses) != 1 || h.metadata.statuses[0] != models.RunStatusSuccess {
		t.Errorf("expected one SUCCESS status update, got %v", h.metadata.statuses)
	}
	if !h.metadata.counts || h.metadata.checks == 0 || h.metadata.transforms != 1 {
		t.Error("audit trail incomplete after successful run")
	}
}

func TestRunRecordsCSVSourceIdentity(t *testing.T) {
	h := newHarness(fetchAttempt{result: &source.FetchResult{Observations: observationsFixture()}})
	h.orchestrator.info = SourceInfo{Type: models.SourceTypeCSV, Name: "noaa-exports"}
	start, end := runWindow()

	if _, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}}, start, end); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if h.metadata.created.SourceType != models.SourceTypeCSV || h.metadata.created.SourceName != "noaa-exports" {
		t.Errorf("CSV runs must be ledgered as CSV, got %s/%s",
			h.metadata.created.SourceType, h.metadata.created.SourceName)
	}
}

func TestRunZeroObservationsSucceeds(t *testing.T) {
	// A provider answering with an empty window is a valid run, not a failure:
	// the gate scores 0 over 0 records and every later stage sees an empty batch.
	h := newHarness(fetchAttempt{result: &source.FetchResult{}})
	start, end := runWindow()

	summary, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Status != models.RunStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", summary.Status)
	}
	if summary.RecordsTotal != 0 || summary.RecordsValid != 0 || summary.RecordsInvalid != 0 {
		t.Errorf("unexpected counts: %+v", summary)
	}
	if summary.QualityScore != 0 {
		t.Errorf("expected quality score 0 for an empty run, got %f", summary.QualityScore)
	}
	if summary.DailyRows != 0 || summary.MonthlyRows != 0 || summary.SeasonalRows != 0 {
		t.Errorf("unexpected aggregate rows: %+v", summary)
	}
	if h.raw.writes != 1 || h.curated.writes != 1 {
		t.Error("empty runs still write their (empty) artifacts")
	}
	if len(h.metadata.statuses) != 1 || h.metadata.statuses[0] != models.RunStatusSuccess {
		t.Errorf("expected one SUCCESS status update, got %v", h.metadata.statuses)
	}
}

func TestRunRetriesOnRateLimit(t *testing.T) {
	rateLimited := fetchAttempt{err: &models.SourceRateLimitedError{Provider: "open-meteo"}}
	h := newHarness(
		rateLimited,
		rateLimited,
		fetchAttempt{result: &source.FetchResult{Observations: observationsFixture()}},
	)
	start, end := runWindow()

	summary, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != models.RunStatusSuccess {
		t.Errorf("expected SUCCESS after retries, got %s", summary.Status)
	}

	// Exponential backoff: base delay, then doubled.
	if len(h.slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(h.slept))
	}
	if h.slept[0] != 10*time.Millisecond || h.slept[1] != 20*time.Millisecond {
		t.Errorf("unexpected backoff schedule: %v", h.slept)
	}
}

func TestRunFailsWhenRetryBudgetExhausted(t *testing.T) {
	rateLimited := fetchAttempt{err: &models.SourceRateLimitedError{Provider: "open-meteo"}}
	h := newHarness(rateLimited, rateLimited, rateLimited)
	start, end := runWindow()

	summary, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err == nil {
		t.Fatal("expected error after retry budget exhaustion")
	}
	if summary.Status != models.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", summary.Status)
	}
	if summary.ErrorMessage == "" {
		t.Error("failed summary must carry the first fatal error message")
	}
	if len(h.metadata.statuses) != 1 || h.metadata.statuses[0] != models.RunStatusFailed {
		t.Errorf("expected FAILED status in ledger, got %v", h.metadata.statuses)
	}
	if h.curated.writes != 0 {
		t.Error("no curated output may be persisted from a failed ingestion")
	}
}

func TestRunPartialWhenLocationsFail(t *testing.T) {
	h := newHarness(fetchAttempt{result: &source.FetchResult{
		Observations:    observationsFixture(),
		FailedLocations: []string{"cannes"},
	}})
	start, end := runWindow()

	summary, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}, {ID: "cannes"}}, start, end)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Status != models.RunStatusPartial {
		t.Errorf("expected PARTIAL, got %s", summary.Status)
	}
	if h.curated.writes != 1 {
		t.Error("partial runs still persist the data that did arrive")
	}
	if len(h.metadata.statuses) != 1 || h.metadata.statuses[0] != models.RunStatusPartial {
		t.Errorf("expected PARTIAL status in ledger, got %v", h.metadata.statuses)
	}
}

func TestRunRawWriteFailureIsFatal(t *testing.T) {
	h := newHarness(fetchAttempt{result: &source.FetchResult{Observations: observationsFixture()}})
	h.raw.err = &models.StorageWriteError{Path: "/raw", Err: errors.New("disk full")}
	start, end := runWindow()

	summary, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err == nil {
		t.Fatal("raw write failure must be fatal")
	}
	if summary.Status != models.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", summary.Status)
	}
	if h.curated.writes != 0 {
		t.Error("aggregation must not proceed from data that was not durably recorded")
	}
}

func TestRunCuratedWriteFailureIsFatal(t *testing.T) {
	h := newHarness(fetchAttempt{result: &source.FetchResult{Observations: observationsFixture()}})
	h.curated.err = &models.StorageWriteError{Path: "/curated", Err: errors.New("disk full")}
	start, end := runWindow()

	summary, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err == nil {
		t.Fatal("curated write failure must be fatal")
	}
	if summary.Status != models.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", summary.Status)
	}
}

func TestRunMetadataFailuresAreNonFatal(t *testing.T) {
	h := newHarness(fetchAttempt{result: &source.FetchResult{Observations: observationsFixture()}})
	h.metadata.forcedErr = &models.MetadataWriteError{Op: "any", Err: errors.New("db down")}
	start, end := runWindow()

	summary, err := h.orchestrator.Run(context.Background(), []models.Location{{ID: "nice"}}, start, end)
	if err != nil {
		t.Fatalf("metadata failures must not fail the run: %v", err)
	}
	if summary.Status != models.RunStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", summary.Status)
	}
	if h.curated.writes != 1 {
		t.Error("data outputs must still be persisted")
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	h := newHarness(fetchAttempt{result: &source.FetchResult{Observations: observationsFixture()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start, end := runWindow()

	summary, err := h.orchestrator.Run(ctx, []models.Location{{ID: "nice"}}, start, end)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if summary.Status != models.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", summary.Status)
	}
	if h.raw.writes != 0 || h.curated.writes != 0 {
		t.Error("no stage may run after cancellation at a stage boundary")
	}
}

func TestAdvanceHappyPath(t *testing.T) {
	path := []State{StateIngesting, StateValidating, StateTransforming, StatePersisting, StateSuccess}
	state := StatePending
	for _, next := range path {
		moved, err := advance(state, next)
		if err != nil {
			t.Fatalf("transition %s -> %s rejected: %v", state, next, err)
		}
		state = moved
	}
	if !state.Terminal() {
		t.Errorf("expected terminal state, got %s", state)
	}
}

func TestAdvanceRejectsIllegalTransitions(t *testing.T) {
	cases := []struct{ from, to State }{
		{StatePending, StateValidating},
		{StatePending, StateSuccess},
		{StateIngesting, StatePartial},
		{StateSuccess, StateFailed},
		{StateFailed, StateIngesting},
	}
	for _, tc := range cases {
		if _, err := advance(tc.from, tc.to); err == nil {
			t.Errorf("transition %s -> %s must be rejected", tc.from, tc.to)
		}
	}
}

func TestAdvanceAllowsFailureFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []State{StatePending, StateIngesting, StateValidating, StateTransforming, StatePersisting} {
		if _, err := advance(from, StateFailed); err != nil {
			t.Errorf("FAILED must be reachable from %s: %v", from, err)
		}
	}
}
