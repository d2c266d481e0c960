package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"weatherlake/internal/aggregate"
	"weatherlake/internal/config"
	"weatherlake/internal/models"
	"weatherlake/internal/pipeline"
	"weatherlake/internal/quality"
	"weatherlake/internal/repository"
	"weatherlake/internal/source"
	"weatherlake/internal/storage"
	"weatherlake/pkg/database"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

func main() {
	// Parse command-line flags
	startDateFlag := flag.String("start-date", "", "Ingestion window start (YYYY-MM-DD, overrides INGEST_START_DATE)")
	endDateFlag := flag.String("end-date", "", "Ingestion window end (YYYY-MM-DD, overrides INGEST_END_DATE)")
	schedule := flag.String("schedule", "", "Cron expression for recurring runs (empty runs once and exits)")
	sourceFlag := flag.String("source", "api", "Data source: api (Open-Meteo archive) or csv (local CSV exports)")
	csvDirFlag := flag.String("csv-dir", "", "Directory of CSV exports for -source csv (overrides SOURCE_CSV_DIR)")
	resume := flag.Bool("resume", false, "Start the window after the last checkpointed run")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *startDateFlag != "" {
		start, err := time.Parse("2006-01-02", *startDateFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -start-date: %v\n", err)
			os.Exit(1)
		}
		cfg.Ingestion.StartDate = start
	}
	if *endDateFlag != "" {
		end, err := time.Parse("2006-01-02", *endDateFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -end-date: %v\n", err)
			os.Exit(1)
		}
		cfg.Ingestion.EndDate = end
	}

	if *csvDirFlag != "" {
		cfg.Source.CSVDir = *csvDirFlag
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logLevel := logging.InfoLevel
	if cfg.Logging.Level == "debug" {
		logLevel = logging.DebugLevel
	}

	logger := logging.NewStructuredLogger("weatherlake-pipeline", "1.0.0", logLevel)

	ctx := context.Background()
	logger.Info(ctx, "[PIPELINE_BOOT] Starting weather data pipeline", logging.Fields{
		"version":    "1.0.0",
		"source":     *sourceFlag,
		"locations":  len(cfg.Ingestion.Locations),
		"start_date": cfg.Ingestion.StartDate.Format("2006-01-02"),
		"end_date":   cfg.Ingestion.EndDate.Format("2006-01-02"),
		"schedule":   *schedule,
		"resume":     *resume,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("weatherlake_pipeline")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_BOOT_ERROR] Failed to connect to metadata store", logging.Fields{}, err)
	}
	defer db.Close()

	// Wire pipeline components
	metadataRepo := repository.NewMetadataRepository(db, logger)

	var sourceClient source.Client
	sourceInfo := pipeline.SourceInfo{Type: models.SourceTypeAPI, Name: "open-meteo"}
	switch *sourceFlag {
	case "api":
		sourceClient = source.NewOpenMeteoClient(source.Config{
			BaseURL:        cfg.Source.BaseURL,
			Timeout:        cfg.Source.Timeout,
			Workers:        cfg.Source.Workers,
			BreakerTimeout: cfg.Source.BreakerTimeout,
		}, logger, metricsCollector)
	case "csv":
		sourceClient = source.NewCSVClient(cfg.Source.CSVDir, logger, metricsCollector)
		sourceInfo = pipeline.SourceInfo{Type: models.SourceTypeCSV, Name: filepath.Base(cfg.Source.CSVDir)}
	default:
		fmt.Fprintf(os.Stderr, "Unknown -source %q (expected api or csv)\n", *sourceFlag)
		os.Exit(1)
	}

	gate := quality.NewGate(logger)
	engine := aggregate.NewEngine(cfg.Source.Workers, logger)
	rawStore := storage.NewRawStore(cfg.Storage.RawDir, logger, metricsCollector)
	curatedStore := storage.NewCuratedStore(cfg.Storage.CuratedDir, logger, metricsCollector)
	checkpoints := storage.NewCheckpointStore(cfg.Storage.CheckpointDir, logger)
	checkpointJob := "pipeline_" + *sourceFlag

	orchestrator := pipeline.NewOrchestrator(
		sourceClient,
		sourceInfo,
		gate,
		engine,
		rawStore,
		curatedStore,
		metadataRepo,
		pipeline.RetryPolicy{
			MaxRetries: cfg.Source.MaxRetries,
			Delay:      cfg.Source.RetryDelay,
			Multiplier: cfg.Source.Multiplier,
		},
		logger,
		metricsCollector,
	)

	runOnce := func() {
		start, end := cfg.Ingestion.StartDate, cfg.Ingestion.EndDate
		if *resume {
			checkpoint, err := checkpoints.Load(ctx, checkpointJob)
			if err != nil {
				logger.Error(ctx, "[CHECKPOINT_ERROR] Failed to load checkpoint, running the full window", logging.Fields{
					"job": checkpointJob,
				}, err)
			} else if checkpoint != nil && !checkpoint.DataEndDate.Before(start) {
				start = checkpoint.DataEndDate.AddDate(0, 0, 1)
				logger.Info(ctx, "[PIPELINE_RESUME] Resuming past checkpointed window", logging.Fields{
					"job":        checkpointJob,
					"start_date": start.Format("2006-01-02"),
				})
			}
			if start.After(end) {
				logger.Info(ctx, "[PIPELINE_SKIP] Window already ingested, nothing to do", logging.Fields{
					"job":      checkpointJob,
					"end_date": end.Format("2006-01-02"),
				})
				return
			}
		}

		summary, err := orchestrator.Run(ctx, cfg.Ingestion.Locations, start, end)
		if err != nil {
			logger.Error(ctx, "[PIPELINE_RUN_ERROR] Run failed", logging.Fields{
				"run_id": summary.RunID,
			}, err)
		}

		// Only fully successful windows advance the checkpoint; a PARTIAL
		// window stays eligible for re-ingestion of its failed locations.
		if summary.Status == models.RunStatusSuccess {
			if err := checkpoints.Save(ctx, checkpointJob, &storage.Checkpoint{
				RunID:       summary.RunID,
				DataEndDate: end,
				SavedAt:     time.Now().UTC(),
			}); err != nil {
				logger.Error(ctx, "[CHECKPOINT_ERROR] Failed to save checkpoint", logging.Fields{
					"job": checkpointJob,
				}, err)
			}
		}
		printSummary(summary)
	}

	if *schedule == "" {
		runOnce()
		return
	}

	// Recurring mode: run on the cron schedule until interrupted.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(*schedule, runOnce); err != nil {
		logger.Fatal(ctx, "[PIPELINE_BOOT_ERROR] Invalid cron schedule", logging.Fields{
			"schedule": *schedule,
		}, err)
	}
	scheduler.Start()

	logger.Info(ctx, "[PIPELINE_SCHEDULED] Scheduler started", logging.Fields{
		"schedule": *schedule,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info(ctx, "[PIPELINE_STOPPED] Scheduler stopped", logging.Fields{})
}

func printSummary(summary *pipeline.RunSummary) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("PIPELINE RUN COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:          %s\n", summary.RunID)
	fmt.Printf("Status:          %s\n", summary.Status)
	fmt.Printf("Total Records:   %d\n", summary.RecordsTotal)
	fmt.Printf("Valid Records:   %d\n", summary.RecordsValid)
	fmt.Printf("Invalid Records: %d\n", summary.RecordsInvalid)
	fmt.Printf("Quality Score:   %.2f\n", summary.QualityScore)
	fmt.Printf("Daily Rows:      %d\n", summary.DailyRows)
	fmt.Printf("Monthly Rows:    %d\n", summary.MonthlyRows)
	fmt.Printf("Seasonal Rows:   %d\n", summary.SeasonalRows)
	fmt.Printf("Elapsed:         %v\n", summary.Elapsed)

	if len(summary.FailedLocations) > 0 {
		fmt.Printf("\nFailed Locations (%d):\n", len(summary.FailedLocations))
		for _, id := range summary.FailedLocations {
			fmt.Printf("  - %s\n", id)
		}
	}
	if summary.ErrorMessage != "" {
		fmt.Printf("\nError: %s\n", summary.ErrorMessage)
	}
}
