package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"weatherlake/internal/models"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

// CSVClient ingests historical observations from NOAA-style daily CSV
// exports in a local directory. Rows are matched to locations by station id
// (the location id), so the same directory can mix stations. Files are
// archives, usually wider than the requested window; rows outside the window
// are skipped silently rather than counted invalid.
type CSVClient struct {
	dir     string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCSVClient creates a CSV file source over the given directory.
func NewCSVClient(dir string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CSVClient {
	return &CSVClient{
		dir:     dir,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// csvRecord is the GHCN-Daily export row shape. Extra columns (coordinates,
// elevation, station name) are ignored; absent metric columns and empty
// cells stay nil.
type csvRecord struct {
	Station       string   `csv:"STATION"`
	Date          string   `csv:"DATE"`
	TempMax       *float64 `csv:"TMAX"`
	TempMin       *float64 `csv:"TMIN"`
	TempAvg       *float64 `csv:"TAVG"`
	Precipitation *float64 `csv:"PRCP"`
	WindMax       *float64 `csv:"AWND"`
	Humidity      *float64 `csv:"RHUM"`
}

// Fetch reads every *.csv file in the directory (lexicographic order, so
// reruns are deterministic) and returns the observations for the requested
// locations over [start, end]. A location whose station appears in no file is
// recorded as failed; rows with an unparseable date or a malformed line count
// invalid.
func (c *CSVClient) Fetch(ctx context.Context, locations []models.Location, start, end time.Time) (*FetchResult, error) {
	if len(locations) == 0 {
		return nil, &models.InvalidInputError{Field: "locations", Message: "empty location set"}
	}
	if end.Before(start) {
		return nil, &models.InvalidInputError{Field: "date_range", Message: "end date precedes start date"}
	}

	wanted := make(map[string]bool, len(locations))
	for _, loc := range locations {
		wanted[loc.ID] = true
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, &models.SourceUnavailableError{Provider: "csv", Err: err}
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		files = append(files, filepath.Join(c.dir, entry.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, &models.SourceUnavailableError{
			Provider: "csv",
			Err:      fmt.Errorf("no csv files in %s", c.dir),
		}
	}

	c.logger.Info(ctx, "[SOURCE_CSV] Ingesting CSV exports", logging.Fields{
		"directory":  c.dir,
		"files":      len(files),
		"locations":  len(locations),
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
	})

	result := &FetchResult{Observations: make([]models.Observation, 0)}
	seen := make(map[string]bool, len(locations))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, &models.SourceUnavailableError{Provider: "csv", Err: err}
		}
		observations, invalid, err := c.ingestFile(ctx, path, wanted, seen, start, end)
		if err != nil {
			return nil, err
		}
		result.Observations = append(result.Observations, observations...)
		result.InvalidCount += invalid
	}

	for _, loc := range locations {
		if !seen[loc.ID] {
			result.FailedLocations = append(result.FailedLocations, loc.ID)
			c.metrics.RecordSourceError("location_failed")
			c.logger.Warn(ctx, "[SOURCE_CSV_MISSING] Station absent from CSV exports", logging.Fields{
				"location_id": loc.ID,
			})
		}
	}

	c.logger.Info(ctx, "[SOURCE_FETCH_COMPLETE] Fetch completed", logging.Fields{
		"observations":     len(result.Observations),
		"invalid_records":  result.InvalidCount,
		"failed_locations": len(result.FailedLocations),
	})

	return result, nil
}

// ingestFile decodes one export file. Per-row problems are counted invalid
// and never abort the file; only an unreadable file or a broken header is
// fatal.
func (c *CSVClient) ingestFile(ctx context.Context, path string, wanted map[string]bool, seen map[string]bool, start, end time.Time) ([]models.Observation, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, &models.SourceUnavailableError{Provider: "csv", Err: err}
	}
	defer f.Close()

	decoder, err := csvutil.NewDecoder(csv.NewReader(f))
	if err == io.EOF {
		// Empty file, nothing to ingest.
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, &models.SourceDataError{
			Field:   "header",
			Message: fmt.Sprintf("%s: %v", filepath.Base(path), err),
		}
	}

	var observations []models.Observation
	invalid := 0

	for {
		var row csvRecord
		err := decoder.Decode(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			invalid++
			continue
		}

		if !wanted[row.Station] {
			continue
		}
		seen[row.Station] = true

		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			invalid++
			continue
		}
		if date.Before(start) || date.After(end) {
			continue
		}

		observations = append(observations, models.Observation{
			LocationID:         row.Station,
			Date:               date,
			TempMax:            row.TempMax,
			TempMin:            row.TempMin,
			TempAvg:            row.TempAvg,
			PrecipitationTotal: row.Precipitation,
			WindMax:            row.WindMax,
			HumidityAvg:        row.Humidity,
		})
	}

	c.logger.Debug(ctx, "[SOURCE_CSV_FILE] File ingested", logging.Fields{
		"file":            filepath.Base(path),
		"observations":    len(observations),
		"invalid_records": invalid,
	})

	return observations, invalid, nil
}
