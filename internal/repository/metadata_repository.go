package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"weatherlake/internal/models"
	"weatherlake/pkg/database"
	"weatherlake/pkg/logging"
)

// MetadataRepository is the audit trail persistence interface. The ledger is
// append-only: rows are inserted and ingestion status transitions exactly
// once from PENDING to a terminal status, nothing is ever deleted.
type MetadataRepository interface {
	CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error
	UpdateIngestionStatus(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error
	GetIngestionRun(ctx context.Context, runID string) (*models.IngestionRun, error)
	UpdateIngestionCounts(ctx context.Context, runID string, total, valid, invalid int, qualityScore float64) error
	CreateTransformationRun(ctx context.Context, run *models.TransformationRun) error
	CreateQualityChecks(ctx context.Context, ingestionID string, checks []models.QualityCheck) error
	GetIngestionStats(ctx context.Context) ([]models.IngestionStats, error)
	ListIngestionRuns(ctx context.Context, limit int) ([]models.IngestionRun, error)
}

// executor is the slice of database.PostgresDB the repository uses. The
// narrow interface keeps the status-transition logic testable without a
// running database.
type executor interface {
	ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
}

type metadataRepository struct {
	db     executor
	logger *logging.StructuredLogger
}

// NewMetadataRepository creates a PostgreSQL-backed metadata repository.
func NewMetadataRepository(db *database.PostgresDB, logger *logging.StructuredLogger) MetadataRepository {
	return &metadataRepository{db: db, logger: logger}
}

// CreateIngestionRun inserts the PENDING ledger row for a new run. Re-running
// with the same run id is a no-op so that a retried pipeline never duplicates
// its audit row.
func (r *metadataRepository) CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	query := `
		INSERT INTO ingestion_runs (
			id, run_timestamp, source_type, source_name,
			records_count, records_valid, records_invalid, quality_score,
			status, error_message, data_start_date, data_end_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, "create_ingestion_run", query,
		run.ID,
		run.Timestamp,
		run.SourceType,
		run.SourceName,
		run.RecordsCount,
		run.RecordsValid,
		run.RecordsInvalid,
		run.QualityScore,
		run.Status,
		run.ErrorMessage,
		run.DataStartDate,
		run.DataEndDate,
	)
	if err != nil {
		return &models.MetadataWriteError{Op: "create_ingestion_run", Err: err}
	}

	return nil
}

// UpdateIngestionStatus moves a run to a terminal status. The transition is
// guarded: only a PENDING row is updated. Setting the same terminal status
// again is a no-op; a conflicting terminal status is rejected.
func (r *metadataRepository) UpdateIngestionStatus(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error {
	if !status.Terminal() {
		return &models.InvalidInputError{Field: "status", Message: "status must be terminal"}
	}

	query := `
		UPDATE ingestion_runs
		SET status = $1, error_message = $2
		WHERE id = $3 AND status = 'PENDING'`

	result, err := r.db.ExecContext(ctx, "update_ingestion_status", query, status, errorMessage, runID)
	if err != nil {
		return &models.MetadataWriteError{Op: "update_ingestion_status", Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &models.MetadataWriteError{Op: "update_ingestion_status", Err: err}
	}
	if affected == 1 {
		return nil
	}

	// The guard did not match: the row is either missing or already terminal.
	existing, err := r.GetIngestionRun(ctx, runID)
	if err != nil {
		return err
	}
	if existing.Status == status {
		return nil
	}
	return &models.StatusConflictError{RunID: runID, Existing: existing.Status, Requested: status}
}

// GetIngestionRun fetches one ledger row.
func (r *metadataRepository) GetIngestionRun(ctx context.Context, runID string) (*models.IngestionRun, error) {
	query := `
		SELECT id, run_timestamp, source_type, source_name,
		       records_count, records_valid, records_invalid, quality_score,
		       status, error_message, data_start_date, data_end_date
		FROM ingestion_runs
		WHERE id = $1`

	var run models.IngestionRun
	err := r.db.GetContext(ctx, "get_ingestion_run", &run, query, runID)
	if err == sql.ErrNoRows {
		return nil, &models.MetadataWriteError{Op: "get_ingestion_run", Err: sql.ErrNoRows}
	}
	if err != nil {
		return nil, &models.MetadataWriteError{Op: "get_ingestion_run", Err: err}
	}

	return &run, nil
}

// UpdateIngestionCounts records the observed record counts and quality score
// once the quality gate has run. Counts may be written while the run is still
// PENDING; the status guard applies only to status transitions.
func (r *metadataRepository) UpdateIngestionCounts(ctx context.Context, runID string, total, valid, invalid int, qualityScore float64) error {
	query := `
		UPDATE ingestion_runs
		SET records_count = $1, records_valid = $2, records_invalid = $3, quality_score = $4
		WHERE id = $5`

	_, err := r.db.ExecContext(ctx, "update_ingestion_counts", query, total, valid, invalid, qualityScore, runID)
	if err != nil {
		return &models.MetadataWriteError{Op: "update_ingestion_counts", Err: err}
	}

	return nil
}

// CreateTransformationRun appends one transformation audit row.
func (r *metadataRepository) CreateTransformationRun(ctx context.Context, run *models.TransformationRun) error {
	query := `
		INSERT INTO transformation_runs (
			id, ingestion_id, name, input_records, output_records,
			records_dropped, status, duration_seconds, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, "create_transformation_run", query,
		run.ID,
		run.IngestionID,
		run.Name,
		run.InputRecords,
		run.OutputRecords,
		run.RecordsDropped,
		run.Status,
		run.DurationSecs,
		run.CompletedAt,
	)
	if err != nil {
		return &models.MetadataWriteError{Op: "create_transformation_run", Err: err}
	}

	return nil
}

// CreateQualityChecks appends the quality check rows of one run in a single
// transaction so the audit trail never shows a partial check set.
func (r *metadataRepository) CreateQualityChecks(ctx context.Context, ingestionID string, checks []models.QualityCheck) error {
	if len(checks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return &models.MetadataWriteError{Op: "create_quality_checks", Err: err}
	}
	defer tx.Rollback()

	query := `
		INSERT INTO quality_checks (
			ingestion_id, check_name, check_type, passed, threshold_value, actual_value
		) VALUES ($1, $2, $3, $4, $5, $6)`

	for _, check := range checks {
		if _, err := tx.ExecContext(ctx, query,
			ingestionID,
			check.CheckName,
			check.CheckType,
			check.Passed,
			check.ThresholdValue,
			check.ActualValue,
		); err != nil {
			return &models.MetadataWriteError{Op: "create_quality_checks", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.MetadataWriteError{Op: "create_quality_checks", Err: err}
	}

	return nil
}

// GetIngestionStats returns the per-source-type rollup consumed by the
// dashboard.
func (r *metadataRepository) GetIngestionStats(ctx context.Context) ([]models.IngestionStats, error) {
	query := `
		SELECT source_type,
		       COUNT(*) AS total_ingestions,
		       COALESCE(SUM(records_count), 0) AS total_records,
		       COALESCE(AVG(quality_score), 0) AS avg_quality_score,
		       MAX(run_timestamp) AS last_ingestion
		FROM ingestion_runs
		GROUP BY source_type
		ORDER BY source_type`

	var stats []models.IngestionStats
	if err := r.db.SelectContext(ctx, "get_ingestion_stats", &stats, query); err != nil {
		return nil, &models.MetadataWriteError{Op: "get_ingestion_stats", Err: err}
	}

	return stats, nil
}

// ListIngestionRuns returns the most recent ledger rows, newest first.
func (r *metadataRepository) ListIngestionRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, run_timestamp, source_type, source_name,
		       records_count, records_valid, records_invalid, quality_score,
		       status, error_message, data_start_date, data_end_date
		FROM ingestion_runs
		ORDER BY run_timestamp DESC
		LIMIT $1`

	var runs []models.IngestionRun
	if err := r.db.SelectContext(ctx, "list_ingestion_runs", &runs, query, limit); err != nil {
		return nil, &models.MetadataWriteError{Op: "list_ingestion_runs", Err: err}
	}

	return runs, nil
}
