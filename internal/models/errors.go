package models

import (
	"fmt"
	"time"
)

// SourceUnavailableError indicates the weather provider could not be reached
// or answered with a server error. Transient: the orchestrator may retry.
type SourceUnavailableError struct {
	Provider string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Provider, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

func (e *SourceUnavailableError) IsTransient() bool { return true }

// SourceRateLimitedError indicates the provider throttled the request. The
// orchestrator retries with exponential backoff up to its retry budget.
type SourceRateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *SourceRateLimitedError) Error() string {
	return fmt.Sprintf("source %s rate limited", e.Provider)
}

func (e *SourceRateLimitedError) IsTransient() bool { return true }

// SourceDataError marks a single provider record that could not be normalized
// into an Observation. Per-record and non-fatal: the record is skipped and
// counted invalid.
type SourceDataError struct {
	LocationID string
	Field      string
	Message    string
}

func (e *SourceDataError) Error() string {
	return fmt.Sprintf("bad source record for %s (%s): %s", e.LocationID, e.Field, e.Message)
}

func (e *SourceDataError) IsTransient() bool { return false }

// InvalidInputError indicates caller misconfiguration such as an empty
// location set or a non-chronological date range.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Message)
}

func (e *InvalidInputError) IsTransient() bool { return false }

// StorageWriteError indicates a raw or curated artifact could not be written.
// Fatal for the run: aggregation never proceeds from data that was not
// durably recorded first.
type StorageWriteError struct {
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write failed for %s: %v", e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

func (e *StorageWriteError) IsTransient() bool { return false }

// AggregationError indicates an engine-level aggregation failure. Data
// sparsity is never an AggregationError; empty buckets are simply absent.
type AggregationError struct {
	Stage string
	Err   error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation failed at %s: %v", e.Stage, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

func (e *AggregationError) IsTransient() bool { return false }

// MetadataWriteError indicates an audit-trail write failed. Non-fatal: data
// durability takes precedence over completeness of the audit trail.
type MetadataWriteError struct {
	Op  string
	Err error
}

func (e *MetadataWriteError) Error() string {
	return fmt.Sprintf("metadata write %s failed: %v", e.Op, e.Err)
}

func (e *MetadataWriteError) Unwrap() error { return e.Err }

func (e *MetadataWriteError) IsTransient() bool { return true }

// StatusConflictError reports an attempt to move a run that already reached a
// terminal status to a different terminal status. The first status wins; the
// conflict is surfaced instead of silently overwritten.
type StatusConflictError struct {
	RunID     string
	Existing  RunStatus
	Requested RunStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("run %s already %s, refusing transition to %s", e.RunID, e.Existing, e.Requested)
}

func (e *StatusConflictError) IsTransient() bool { return false }
