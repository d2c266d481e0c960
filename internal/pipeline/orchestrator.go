package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"weatherlake/internal/aggregate"
	"weatherlake/internal/models"
	"weatherlake/internal/quality"
	"weatherlake/internal/source"
	"weatherlake/internal/storage"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

// Collaborator interfaces. The orchestrator depends on behavior, not on the
// concrete implementations, so runs are testable without real I/O.
type (
	QualityEvaluator interface {
		Evaluate(ctx context.Context, observations []models.Observation) (*quality.Result, error)
	}

	Aggregator interface {
		Aggregate(ctx context.Context, observations []models.Observation) (*aggregate.Result, error)
	}

	RawWriter interface {
		Write(ctx context.Context, runID string, observations []models.Observation) (*storage.RawArtifact, error)
	}

	CuratedWriter interface {
		Write(ctx context.Context, result *aggregate.Result) error
	}

	MetadataRecorder interface {
		CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error
		UpdateIngestionStatus(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error
		UpdateIngestionCounts(ctx context.Context, runID string, total, valid, invalid int, qualityScore float64) error
		CreateTransformationRun(ctx context.Context, run *models.TransformationRun) error
		CreateQualityChecks(ctx context.Context, ingestionID string, checks []models.QualityCheck) error
	}
)

// RetryPolicy bounds the rate-limit retry loop around the source fetch.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Multiplier float64
}

// SourceInfo identifies where a run's records come from; it is recorded on
// the run's ledger row so API and CSV ingestions stay distinguishable.
type SourceInfo struct {
	Type models.SourceType
	Name string
}

// RunContext carries one run's identity and accumulated counts through the
// stages. Explicit value, passed by reference; there is no ambient run state.
type RunContext struct {
	RunID           string
	State           State
	StartedAt       time.Time
	StartDate       time.Time
	EndDate         time.Time
	RecordsTotal    int
	RecordsValid    int
	RecordsInvalid  int
	QualityScore    float64
	FailedLocations []string
	FirstError      error
}

// RunSummary is the orchestrator's report of one completed run.
type RunSummary struct {
	RunID           string           `json:"run_id"`
	Status          models.RunStatus `json:"status"`
	RecordsTotal    int              `json:"records_total"`
	RecordsValid    int              `json:"records_valid"`
	RecordsInvalid  int              `json:"records_invalid"`
	QualityScore    float64          `json:"quality_score"`
	DailyRows       int              `json:"daily_rows"`
	MonthlyRows     int              `json:"monthly_rows"`
	SeasonalRows    int              `json:"seasonal_rows"`
	FailedLocations []string         `json:"failed_locations,omitempty"`
	Elapsed         time.Duration    `json:"elapsed"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// Orchestrator sequences one end-to-end pipeline run. Stages run strictly
// sequentially; cancellation is honored at stage boundaries so no stage is
// interrupted mid-write.
type Orchestrator struct {
	source   source.Client
	info     SourceInfo
	gate     QualityEvaluator
	engine   Aggregator
	raw      RawWriter
	curated  CuratedWriter
	metadata MetadataRecorder
	retry    RetryPolicy
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewOrchestrator wires a pipeline orchestrator.
func NewOrchestrator(
	sourceClient source.Client,
	info SourceInfo,
	gate QualityEvaluator,
	engine Aggregator,
	raw RawWriter,
	curated CuratedWriter,
	metadata MetadataRecorder,
	retry RetryPolicy,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *Orchestrator {
	return &Orchestrator{
		source:   sourceClient,
		info:     info,
		gate:     gate,
		engine:   engine,
		raw:      raw,
		curated:  curated,
		metadata: metadata,
		retry:    retry,
		logger:   logger,
		metrics:  metricsCollector,
		sleep:    time.Sleep,
	}
}

// Run executes one pipeline run over the given locations and window.
func (o *Orchestrator) Run(ctx context.Context, locations []models.Location, start, end time.Time) (*RunSummary, error) {
	run := &RunContext{
		RunID:     uuid.New().String(),
		State:     StatePending,
		StartedAt: time.Now(),
		StartDate: start,
		EndDate:   end,
	}
	ctx = logging.WithRunID(ctx, run.RunID)

	o.logger.Info(ctx, "[PIPELINE_START] Pipeline run starting", logging.Fields{
		"locations":  len(locations),
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
	})

	o.recordMetadata(ctx, "create_ingestion_run", func() error {
		return o.metadata.CreateIngestionRun(ctx, &models.IngestionRun{
			ID:            run.RunID,
			Timestamp:     run.StartedAt.UTC(),
			SourceType:    o.info.Type,
			SourceName:    o.info.Name,
			Status:        models.RunStatusPending,
			DataStartDate: start,
			DataEndDate:   end,
		})
	})

	// INGESTING
	if err := o.enter(ctx, run, StateIngesting); err != nil {
		return o.fail(ctx, run, err)
	}
	fetched, err := o.fetchWithRetry(ctx, locations, start, end)
	if err != nil {
		return o.fail(ctx, run, err)
	}
	run.FailedLocations = fetched.FailedLocations
	run.RecordsTotal = len(fetched.Observations) + fetched.InvalidCount
	run.RecordsInvalid = fetched.InvalidCount
	o.metrics.RecordsIngestedTotal.Add(float64(len(fetched.Observations)))

	// Raw preservation precedes validation: raw artifacts are written
	// regardless of the quality outcome, and a raw write failure is fatal.
	if _, err := o.raw.Write(ctx, run.RunID, fetched.Observations); err != nil {
		return o.fail(ctx, run, err)
	}

	// VALIDATING
	if err := o.enter(ctx, run, StateValidating); err != nil {
		return o.fail(ctx, run, err)
	}
	validateTimer := o.metrics.NewTimer(o.metrics.PipelineStageDuration.WithLabelValues("validate"))
	gated, err := o.gate.Evaluate(ctx, fetched.Observations)
	validateTimer.ObserveDuration()
	if err != nil {
		return o.fail(ctx, run, err)
	}
	run.RecordsValid = len(gated.Valid)
	run.RecordsInvalid += gated.InvalidCount
	run.QualityScore = gated.Score
	o.metrics.RecordsValidTotal.Add(float64(len(gated.Valid)))
	o.metrics.RecordsInvalidTotal.Add(float64(run.RecordsInvalid))
	o.metrics.QualityScore.Set(gated.Score)

	o.recordMetadata(ctx, "update_ingestion_counts", func() error {
		return o.metadata.UpdateIngestionCounts(ctx, run.RunID,
			run.RecordsTotal, run.RecordsValid, run.RecordsInvalid, run.QualityScore)
	})
	o.recordMetadata(ctx, "create_quality_checks", func() error {
		return o.metadata.CreateQualityChecks(ctx, run.RunID, gated.Checks)
	})

	// TRANSFORMING
	if err := o.enter(ctx, run, StateTransforming); err != nil {
		return o.fail(ctx, run, err)
	}
	transformTimer := o.metrics.NewTimer(o.metrics.PipelineStageDuration.WithLabelValues("transform"))
	transformStart := time.Now()
	aggregated, err := o.engine.Aggregate(ctx, gated.Valid)
	transformTimer.ObserveDuration()
	if err != nil {
		return o.fail(ctx, run, err)
	}

	o.recordMetadata(ctx, "create_transformation_run", func() error {
		return o.metadata.CreateTransformationRun(ctx, &models.TransformationRun{
			ID:             uuid.New().String(),
			IngestionID:    run.RunID,
			Name:           "daily_monthly_seasonal_aggregation",
			InputRecords:   run.RecordsValid,
			OutputRecords:  len(aggregated.Daily),
			RecordsDropped: run.RecordsValid - len(aggregated.Daily),
			Status:         models.RunStatusSuccess,
			DurationSecs:   time.Since(transformStart).Seconds(),
			CompletedAt:    time.Now().UTC(),
		})
	})

	// PERSISTING
	if err := o.enter(ctx, run, StatePersisting); err != nil {
		return o.fail(ctx, run, err)
	}
	persistTimer := o.metrics.NewTimer(o.metrics.PipelineStageDuration.WithLabelValues("persist"))
	err = o.curated.Write(ctx, aggregated)
	persistTimer.ObserveDuration()
	if err != nil {
		return o.fail(ctx, run, err)
	}

	terminal := StateSuccess
	if len(run.FailedLocations) > 0 {
		terminal = StatePartial
	}
	next, err := advance(run.State, terminal)
	if err != nil {
		return o.fail(ctx, run, err)
	}
	run.State = next

	status := terminalStatus(run.State)
	var errorMessage *string
	if terminal == StatePartial {
		msg := partialMessage(run.FailedLocations)
		errorMessage = &msg
	}
	o.recordMetadata(ctx, "update_ingestion_status", func() error {
		return o.metadata.UpdateIngestionStatus(ctx, run.RunID, status, errorMessage)
	})
	o.metrics.RecordRunOutcome(string(status))

	summary := o.summarize(run, aggregated)
	o.logger.Info(ctx, "[PIPELINE_COMPLETE] Pipeline run completed", logging.Fields{
		"status":          string(summary.Status),
		"records_total":   summary.RecordsTotal,
		"records_valid":   summary.RecordsValid,
		"records_invalid": summary.RecordsInvalid,
		"quality_score":   summary.QualityScore,
		"daily_rows":      summary.DailyRows,
		"elapsed":         summary.Elapsed.String(),
	})

	return summary, nil
}

// enter moves the run to the next stage, honoring cancellation at the stage
// boundary. In-flight work of the previous stage has already completed.
func (o *Orchestrator) enter(ctx context.Context, run *RunContext, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := advance(run.State, next)
	if err != nil {
		return err
	}
	run.State = state

	o.logger.Debug(ctx, "[PIPELINE_STAGE] Entering stage", logging.Fields{
		"stage": string(next),
	})
	return nil
}

// fetchWithRetry wraps the source fetch with the rate-limit backoff policy.
// Only rate limiting is retried here; availability errors surface immediately
// because the circuit breaker already absorbs transient flapping.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, locations []models.Location, start, end time.Time) (*source.FetchResult, error) {
	timer := o.metrics.NewTimer(o.metrics.PipelineStageDuration.WithLabelValues("ingest"))
	defer timer.ObserveDuration()

	delay := o.retry.Delay
	for attempt := 0; ; attempt++ {
		result, err := o.source.Fetch(ctx, locations, start, end)
		if err == nil {
			return result, nil
		}

		rateErr, ok := err.(*models.SourceRateLimitedError)
		if !ok || attempt >= o.retry.MaxRetries {
			return nil, err
		}

		wait := delay
		if rateErr.RetryAfter > wait {
			wait = rateErr.RetryAfter
		}
		o.metrics.SourceRetriesTotal.Inc()
		o.logger.Warn(ctx, "[PIPELINE_RETRY] Source rate limited, backing off", logging.Fields{
			"attempt": attempt + 1,
			"wait":    wait.String(),
		})
		o.sleep(wait)
		delay = time.Duration(float64(delay) * o.retry.Multiplier)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// fail moves the run to FAILED, records the terminal status, and returns the
// summary together with the fatal error.
func (o *Orchestrator) fail(ctx context.Context, run *RunContext, cause error) (*RunSummary, error) {
	run.FirstError = cause
	if !run.State.Terminal() {
		if next, err := advance(run.State, StateFailed); err == nil {
			run.State = next
		}
	}

	message := cause.Error()
	o.recordMetadata(ctx, "update_ingestion_status", func() error {
		return o.metadata.UpdateIngestionStatus(ctx, run.RunID, models.RunStatusFailed, &message)
	})
	o.metrics.RecordRunOutcome(string(models.RunStatusFailed))

	o.logger.Error(ctx, "[PIPELINE_FAILED] Pipeline run failed", logging.Fields{
		"records_total": run.RecordsTotal,
	}, cause)

	return o.summarize(run, nil), cause
}

// recordMetadata runs one audit-trail write. Metadata failures never alter
// the run's data outcome; they are logged and absorbed here.
func (o *Orchestrator) recordMetadata(ctx context.Context, op string, write func() error) {
	if err := write(); err != nil {
		o.logger.Error(ctx, "[METADATA_WRITE_ERROR] Audit trail write failed", logging.Fields{
			"op": op,
		}, err)
	}
}

func (o *Orchestrator) summarize(run *RunContext, aggregated *aggregate.Result) *RunSummary {
	summary := &RunSummary{
		RunID:           run.RunID,
		Status:          terminalStatus(run.State),
		RecordsTotal:    run.RecordsTotal,
		RecordsValid:    run.RecordsValid,
		RecordsInvalid:  run.RecordsInvalid,
		QualityScore:    run.QualityScore,
		FailedLocations: run.FailedLocations,
		Elapsed:         time.Since(run.StartedAt),
	}
	if aggregated != nil {
		summary.DailyRows = len(aggregated.Daily)
		summary.MonthlyRows = len(aggregated.Monthly)
		summary.SeasonalRows = len(aggregated.Seasonal)
	}
	if run.FirstError != nil {
		summary.ErrorMessage = run.FirstError.Error()
	}
	return summary
}

func partialMessage(failed []string) string {
	msg := "partial run, failed locations:"
	for _, id := range failed {
		msg += " " + id
	}
	return msg
}
