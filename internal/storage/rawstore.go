package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"

	"weatherlake/internal/models"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

// RawStore persists fetched observations exactly as normalized, before any
// validation or transformation. Artifacts are append-only: one JSONL file
// and one CSV file per run, never rewritten.
type RawStore struct {
	dir     string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRawStore creates a raw store rooted at dir.
func NewRawStore(dir string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *RawStore {
	return &RawStore{dir: dir, logger: logger, metrics: metricsCollector}
}

// RawArtifact describes one written raw artifact pair.
type RawArtifact struct {
	JSONPath string
	CSVPath  string
	Records  int
}

// Write persists the observations of one run. Both encodings carry the same
// records; a failure on either leaves no half-written artifact behind.
func (s *RawStore) Write(ctx context.Context, runID string, observations []models.Observation) (*RawArtifact, error) {
	if runID == "" {
		return nil, &models.InvalidInputError{Field: "run_id", Message: "empty run id"}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &models.StorageWriteError{Path: s.dir, Err: err}
	}

	jsonPath := filepath.Join(s.dir, fmt.Sprintf("observations_%s.json", runID))
	csvPath := filepath.Join(s.dir, fmt.Sprintf("observations_%s.csv", runID))

	if err := s.writeJSONL(jsonPath, observations); err != nil {
		return nil, err
	}
	if err := s.writeCSV(csvPath, observations); err != nil {
		os.Remove(jsonPath)
		return nil, err
	}

	s.metrics.RawArtifactsTotal.Inc()
	s.logger.Info(ctx, "[RAW_STORE] Raw artifacts written", logging.Fields{
		"run_id":  runID,
		"records": len(observations),
		"json":    jsonPath,
		"csv":     csvPath,
	})

	return &RawArtifact{JSONPath: jsonPath, CSVPath: csvPath, Records: len(observations)}, nil
}

// writeJSONL writes one JSON object per line.
func (s *RawStore) writeJSONL(path string, observations []models.Observation) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return &models.StorageWriteError{Path: path, Err: err}
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, obs := range observations {
		if err := encoder.Encode(obs); err != nil {
			os.Remove(path)
			return &models.StorageWriteError{Path: path, Err: err}
		}
	}
	return nil
}

func (s *RawStore) writeCSV(path string, observations []models.Observation) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return &models.StorageWriteError{Path: path, Err: err}
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	encoder := csvutil.NewEncoder(writer)
	for _, obs := range observations {
		if err := encoder.Encode(obs); err != nil {
			os.Remove(path)
			return &models.StorageWriteError{Path: path, Err: err}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		os.Remove(path)
		return &models.StorageWriteError{Path: path, Err: err}
	}
	return nil
}

// Read loads the JSONL artifact of a run. Used for replays and audits.
func (s *RawStore) Read(ctx context.Context, runID string) ([]models.Observation, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("observations_%s.json", runID))

	file, err := os.Open(path)
	if err != nil {
		return nil, &models.StorageWriteError{Path: path, Err: err}
	}
	defer file.Close()

	var observations []models.Observation
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var obs models.Observation
		if err := decoder.Decode(&obs); err != nil {
			return nil, &models.StorageWriteError{Path: path, Err: err}
		}
		observations = append(observations, obs)
	}
	return observations, nil
}
