package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"weatherlake/internal/aggregate"
	"weatherlake/internal/models"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

// Curated artifact names, one per granularity.
const (
	DailyArtifact    = "daily.parquet"
	MonthlyArtifact  = "monthly.parquet"
	SeasonalArtifact = "seasonal.parquet"
)

// CuratedStore persists aggregates as columnar artifacts. Each run rebuilds
// all granularities: every file is written to a temporary sibling first, and
// the renames happen only after every granularity succeeded, so readers
// always see either the previous complete set or the new complete set.
type CuratedStore struct {
	dir     string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCuratedStore creates a curated store rooted at dir.
func NewCuratedStore(dir string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CuratedStore {
	return &CuratedStore{dir: dir, logger: logger, metrics: metricsCollector}
}

// Write rebuilds all curated artifacts from one aggregation result.
func (s *CuratedStore) Write(ctx context.Context, result *aggregate.Result) error {
	if result == nil {
		return &models.InvalidInputError{Field: "result", Message: "nil aggregation result"}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &models.StorageWriteError{Path: s.dir, Err: err}
	}

	type staged struct {
		tmp   string
		final string
		rows  int
	}
	var pending []staged

	cleanup := func() {
		for _, p := range pending {
			os.Remove(p.tmp)
		}
	}

	stage := func(name string, rows int, write func(path string) error) error {
		final := filepath.Join(s.dir, name)
		tmp := final + ".tmp"
		if err := write(tmp); err != nil {
			cleanup()
			return err
		}
		pending = append(pending, staged{tmp: tmp, final: final, rows: rows})
		return nil
	}

	if err := stage(DailyArtifact, len(result.Daily), func(path string) error {
		return writeParquet(path, result.Daily)
	}); err != nil {
		return err
	}
	if err := stage(MonthlyArtifact, len(result.Monthly), func(path string) error {
		return writeParquet(path, result.Monthly)
	}); err != nil {
		return err
	}
	if err := stage(SeasonalArtifact, len(result.Seasonal), func(path string) error {
		return writeParquet(path, result.Seasonal)
	}); err != nil {
		return err
	}

	// All granularities staged; publish atomically.
	for _, p := range pending {
		if err := os.Rename(p.tmp, p.final); err != nil {
			cleanup()
			return &models.StorageWriteError{Path: p.final, Err: err}
		}
	}

	for _, p := range pending {
		if info, err := os.Stat(p.final); err == nil {
			granularity := granularityOf(filepath.Base(p.final))
			s.metrics.RecordCuratedArtifact(granularity, info.Size(), p.rows)
		}
	}

	s.logger.Info(ctx, "[CURATED_STORE] Curated artifacts published", logging.Fields{
		"daily_rows":    len(result.Daily),
		"monthly_rows":  len(result.Monthly),
		"seasonal_rows": len(result.Seasonal),
		"dir":           s.dir,
	})

	return nil
}

// ReadDaily loads the current daily artifact. A missing artifact is not an
// error; it reads as empty before the first successful run.
func (s *CuratedStore) ReadDaily(ctx context.Context) ([]models.DailyAggregate, error) {
	return readParquet[models.DailyAggregate](filepath.Join(s.dir, DailyArtifact))
}

// ReadMonthly loads the current monthly artifact.
func (s *CuratedStore) ReadMonthly(ctx context.Context) ([]models.MonthlyAggregate, error) {
	return readParquet[models.MonthlyAggregate](filepath.Join(s.dir, MonthlyArtifact))
}

// ReadSeasonal loads the current seasonal artifact.
func (s *CuratedStore) ReadSeasonal(ctx context.Context) ([]models.SeasonalAggregate, error) {
	return readParquet[models.SeasonalAggregate](filepath.Join(s.dir, SeasonalArtifact))
}

func writeParquet[T any](path string, rows []T) error {
	file, err := os.Create(path)
	if err != nil {
		return &models.StorageWriteError{Path: path, Err: err}
	}

	writer := parquet.NewGenericWriter[T](file)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			file.Close()
			os.Remove(path)
			return &models.StorageWriteError{Path: path, Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		file.Close()
		os.Remove(path)
		return &models.StorageWriteError{Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return &models.StorageWriteError{Path: path, Err: err}
	}
	return nil
}

func readParquet[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, &models.StorageWriteError{Path: path, Err: err}
	}
	return rows, nil
}

func granularityOf(artifact string) string {
	switch artifact {
	case DailyArtifact:
		return "daily"
	case MonthlyArtifact:
		return "monthly"
	case SeasonalArtifact:
		return "seasonal"
	default:
		return "unknown"
	}
}
