package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"weatherlake/internal/models"
)

// Config holds the full application configuration, loaded from environment
// variables with sensible defaults. A .env file is honored when present.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Source    SourceConfig
	Ingestion IngestionConfig
	Logging   LoggingConfig
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig configures the metadata store connection.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// StorageConfig configures the raw and curated storage areas and the
// checkpoint directory used for resumable runs.
type StorageConfig struct {
	RawDir        string
	CuratedDir    string
	CheckpointDir string
}

// SourceConfig configures the weather data provider client. CSVDir is only
// consulted when the pipeline runs with the CSV source.
type SourceConfig struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	Multiplier     float64
	Workers        int
	BreakerTimeout time.Duration
	CSVDir         string
}

// IngestionConfig configures what to ingest: locations and date window.
type IngestionConfig struct {
	Locations []models.Location
	StartDate time.Time
	EndDate   time.Time
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string
}

// defaultLocations are the configured observation sites when LOCATIONS is
// unset. Coordinates are fixed; locations are static configuration.
func defaultLocations() []models.Location {
	return []models.Location{
		{ID: "nice", DisplayName: "Nice", Latitude: 43.7102, Longitude: 7.2620},
		{ID: "cannes", DisplayName: "Cannes", Latitude: 43.5528, Longitude: 7.0174},
		{ID: "monaco", DisplayName: "Monaco", Latitude: 43.7384, Longitude: 7.4246},
		{ID: "antibes", DisplayName: "Antibes", Latitude: 43.5808, Longitude: 7.1239},
		{ID: "menton", DisplayName: "Menton", Latitude: 43.7765, Longitude: 7.5045},
	}
}

// LoadConfig loads configuration from the environment.
func LoadConfig() (*Config, error) {
	// Optional .env; real deployments set environment variables directly.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	cfg.Server.Port = getEnvInt("SERVER_PORT", 8080)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	cfg.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	cfg.Database.Host = getEnv("POSTGRES_HOST", "localhost")
	cfg.Database.Port = getEnvInt("POSTGRES_PORT", 5432)
	cfg.Database.User = getEnv("POSTGRES_USER", "weather_admin")
	cfg.Database.Password = getEnv("POSTGRES_PASSWORD", "")
	cfg.Database.Database = getEnv("POSTGRES_DB", "weather_metadata")
	cfg.Database.SSLMode = getEnv("POSTGRES_SSLMODE", "disable")
	cfg.Database.MaxOpenConns = getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25)
	cfg.Database.MaxIdleConns = getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5)
	cfg.Database.ConnMaxLifetime = getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.Database.ConnMaxIdleTime = getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", 5*time.Minute)

	cfg.Storage.RawDir = getEnv("RAW_DATA_DIR", "./data/raw")
	cfg.Storage.CuratedDir = getEnv("CURATED_DATA_DIR", "./data/curated")
	cfg.Storage.CheckpointDir = getEnv("CHECKPOINT_DIR", "./data/checkpoints")

	cfg.Source.BaseURL = getEnv("SOURCE_BASE_URL", "https://archive-api.open-meteo.com/v1/archive")
	cfg.Source.Timeout = getEnvDuration("SOURCE_TIMEOUT", 30*time.Second)
	cfg.Source.MaxRetries = getEnvInt("SOURCE_MAX_RETRIES", 3)
	cfg.Source.RetryDelay = getEnvDuration("SOURCE_RETRY_DELAY", 2*time.Second)
	cfg.Source.Multiplier = getEnvFloat("SOURCE_RETRY_MULTIPLIER", 2.0)
	cfg.Source.Workers = getEnvInt("SOURCE_WORKERS", 3)
	cfg.Source.BreakerTimeout = getEnvDuration("SOURCE_BREAKER_TIMEOUT", 30*time.Second)
	cfg.Source.CSVDir = getEnv("SOURCE_CSV_DIR", "./data/input")

	locations, err := parseLocations(os.Getenv("LOCATIONS"))
	if err != nil {
		return nil, err
	}
	cfg.Ingestion.Locations = locations

	start, err := getEnvDate("INGEST_START_DATE", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	end, err := getEnvDate("INGEST_END_DATE", time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, err
	}
	cfg.Ingestion.StartDate = start
	cfg.Ingestion.EndDate = end

	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	return cfg, nil
}

// Validate checks the configuration for caller misconfiguration.
func (c *Config) Validate() error {
	if len(c.Ingestion.Locations) == 0 {
		return &models.InvalidInputError{Field: "locations", Message: "at least one location is required"}
	}
	if c.Ingestion.EndDate.Before(c.Ingestion.StartDate) {
		return &models.InvalidInputError{Field: "date_range", Message: "end date precedes start date"}
	}
	if c.Storage.RawDir == "" || c.Storage.CuratedDir == "" {
		return &models.InvalidInputError{Field: "storage", Message: "raw and curated directories are required"}
	}
	if c.Source.Workers < 1 {
		return &models.InvalidInputError{Field: "source_workers", Message: "worker pool must be at least 1"}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &models.InvalidInputError{Field: "server_port", Message: "port out of range"}
	}
	return nil
}

// parseLocations parses the LOCATIONS env var:
// "id:DisplayName:lat:lon;id:DisplayName:lat:lon". Empty input falls back to
// the default location set.
func parseLocations(raw string) ([]models.Location, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultLocations(), nil
	}

	var locations []models.Location
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, &models.InvalidInputError{
				Field:   "locations",
				Message: fmt.Sprintf("expected id:name:lat:lon, got %q", entry),
			}
		}
		lat, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, &models.InvalidInputError{Field: "locations", Message: fmt.Sprintf("bad latitude in %q", entry)}
		}
		lon, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, &models.InvalidInputError{Field: "locations", Message: fmt.Sprintf("bad longitude in %q", entry)}
		}
		locations = append(locations, models.Location{
			ID:          parts[0],
			DisplayName: parts[1],
			Latitude:    lat,
			Longitude:   lon,
		})
	}
	return locations, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDate(key string, defaultValue time.Time) (time.Time, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, &models.InvalidInputError{
			Field:   key,
			Message: "expected YYYY-MM-DD",
		}
	}
	return parsed, nil
}
