package models

import (
	"time"
)

// SourceType classifies where a run's records came from.
type SourceType string

const (
	SourceTypeCSV   SourceType = "CSV"
	SourceTypeAPI   SourceType = "API"
	SourceTypeJSON  SourceType = "JSON"
	SourceTypeOther SourceType = "OTHER"
)

// RunStatus is the lifecycle status recorded in the audit trail. A run is
// created PENDING and moves exactly once to one of the terminal statuses.
type RunStatus string

const (
	RunStatusPending RunStatus = "PENDING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
	RunStatusPartial RunStatus = "PARTIAL"
)

// Terminal reports whether s is a terminal run status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusPartial
}

// IngestionRun is one row of the append-only ingestion audit ledger. Owned
// exclusively by the metadata repository; never deleted programmatically.
type IngestionRun struct {
	ID             string     `json:"id" db:"id"`
	Timestamp      time.Time  `json:"timestamp" db:"run_timestamp"`
	SourceType     SourceType `json:"source_type" db:"source_type"`
	SourceName     string     `json:"source_name" db:"source_name"`
	RecordsCount   int        `json:"records_count" db:"records_count"`
	RecordsValid   int        `json:"records_valid" db:"records_valid"`
	RecordsInvalid int        `json:"records_invalid" db:"records_invalid"`
	QualityScore   float64    `json:"quality_score" db:"quality_score"`
	Status         RunStatus  `json:"status" db:"status"`
	ErrorMessage   *string    `json:"error_message,omitempty" db:"error_message"`
	DataStartDate  time.Time  `json:"data_start_date" db:"data_start_date"`
	DataEndDate    time.Time  `json:"data_end_date" db:"data_end_date"`
}

// TransformationRun records one aggregation pass over an ingestion run.
// Invariant: OutputRecords <= InputRecords.
type TransformationRun struct {
	ID             string    `json:"id" db:"id"`
	IngestionID    string    `json:"ingestion_id" db:"ingestion_id"`
	Name           string    `json:"name" db:"name"`
	InputRecords   int       `json:"input_records" db:"input_records"`
	OutputRecords  int       `json:"output_records" db:"output_records"`
	RecordsDropped int       `json:"records_dropped" db:"records_dropped"`
	Status         RunStatus `json:"status" db:"status"`
	DurationSecs   float64   `json:"duration_seconds" db:"duration_seconds"`
	CompletedAt    time.Time `json:"completed_at" db:"completed_at"`
}

// QualityCheck is the audit record of a single validation rule applied to a
// run's raw records.
type QualityCheck struct {
	ID             int64    `json:"id" db:"id"`
	IngestionID    string   `json:"ingestion_id" db:"ingestion_id"`
	CheckName      string   `json:"check_name" db:"check_name"`
	CheckType      string   `json:"check_type" db:"check_type"`
	Passed         bool     `json:"passed" db:"passed"`
	ThresholdValue *float64 `json:"threshold_value,omitempty" db:"threshold_value"`
	ActualValue    *float64 `json:"actual_value,omitempty" db:"actual_value"`
}

// IngestionStats is one row of the per-source-type summary view consumed by
// the dashboard.
type IngestionStats struct {
	SourceType      SourceType `json:"source_type" db:"source_type"`
	TotalIngestions int        `json:"total_ingestions" db:"total_ingestions"`
	TotalRecords    int        `json:"total_records" db:"total_records"`
	AvgQualityScore float64    `json:"avg_quality_score" db:"avg_quality_score"`
	LastIngestion   time.Time  `json:"last_ingestion" db:"last_ingestion"`
}
