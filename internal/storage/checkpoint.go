package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"weatherlake/internal/models"
	"weatherlake/pkg/logging"
)

// Checkpoint records the last window a pipeline job completed, so a
// rescheduled or restarted job can resume past days it already ingested.
type Checkpoint struct {
	RunID       string    `json:"run_id"`
	DataEndDate time.Time `json:"data_end_date"`
	SavedAt     time.Time `json:"saved_at"`
}

// CheckpointStore keeps one checkpoint file per job name under its own
// directory. Checkpoints are advisory: losing one only means re-ingesting a
// window, which the rest of the pipeline absorbs (raw artifacts are keyed by
// run id, curated artifacts are rebuilt, ledger inserts are idempotent).
type CheckpointStore struct {
	dir    string
	logger *logging.StructuredLogger
}

// NewCheckpointStore creates a checkpoint store rooted at dir.
func NewCheckpointStore(dir string, logger *logging.StructuredLogger) *CheckpointStore {
	return &CheckpointStore{dir: dir, logger: logger}
}

func (s *CheckpointStore) path(job string) string {
	return filepath.Join(s.dir, job+".checkpoint.json")
}

// Load returns the checkpoint for a job, or nil when none exists yet.
func (s *CheckpointStore) Load(ctx context.Context, job string) (*Checkpoint, error) {
	path := s.path(job)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.StorageWriteError{Path: path, Err: err}
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, &models.StorageWriteError{Path: path, Err: err}
	}

	s.logger.Info(ctx, "[CHECKPOINT_LOAD] Checkpoint loaded", logging.Fields{
		"job":           job,
		"run_id":        checkpoint.RunID,
		"data_end_date": checkpoint.DataEndDate.Format("2006-01-02"),
		"saved_at":      checkpoint.SavedAt.Format(time.RFC3339),
	})

	return &checkpoint, nil
}

// Save writes the checkpoint atomically: staged to a tmp file, then renamed,
// so an interrupted save never leaves a truncated checkpoint behind.
func (s *CheckpointStore) Save(ctx context.Context, job string, checkpoint *Checkpoint) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &models.StorageWriteError{Path: s.dir, Err: err}
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return &models.StorageWriteError{Path: s.path(job), Err: err}
	}

	final := s.path(job)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &models.StorageWriteError{Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return &models.StorageWriteError{Path: final, Err: err}
	}

	s.logger.Info(ctx, "[CHECKPOINT_SAVE] Checkpoint saved", logging.Fields{
		"job":           job,
		"run_id":        checkpoint.RunID,
		"data_end_date": checkpoint.DataEndDate.Format("2006-01-02"),
	})

	return nil
}

// Clear removes a job's checkpoint. Clearing an absent checkpoint is a no-op.
func (s *CheckpointStore) Clear(ctx context.Context, job string) error {
	path := s.path(job)
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &models.StorageWriteError{Path: path, Err: err}
	}

	s.logger.Info(ctx, "[CHECKPOINT_CLEAR] Checkpoint cleared", logging.Fields{
		"job": job,
	})
	return nil
}
