package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"weatherlake/internal/services"
	"weatherlake/pkg/logging"
	"weatherlake/pkg/metrics"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DashboardHandler serves the read-only dashboard API.
type DashboardHandler struct {
	queryService *services.QueryService
	db           HealthChecker
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(
	queryService *services.QueryService,
	db HealthChecker,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *DashboardHandler {
	return &DashboardHandler{
		queryService: queryService,
		db:           db,
		logger:       logger,
		metrics:      metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse wraps a result set with its row count.
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// GetDailyAggregates handles GET /api/weather/daily
func (h *DashboardHandler) GetDailyAggregates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/weather/daily").Observe(duration.Seconds())
	}()

	startDateStr := r.URL.Query().Get("start_date")
	endDateStr := r.URL.Query().Get("end_date")
	limitStr := r.URL.Query().Get("limit")

	limit := 100
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 10000 {
			limit = l
		}
	}

	var startDate, endDate *time.Time
	if startDateStr != "" {
		parsed, err := time.Parse("2006-01-02", startDateStr)
		if err != nil {
			h.sendError(w, r, "invalid start_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		startDate = &parsed
	}
	if endDateStr != "" {
		parsed, err := time.Parse("2006-01-02", endDateStr)
		if err != nil {
			h.sendError(w, r, "invalid end_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		endDate = &parsed
	}

	rows, err := h.queryService.GetDailyAggregates(ctx, startDate, endDate, limit)
	if err != nil {
		h.logger.Error(ctx, "[API_ERROR] Failed to retrieve daily aggregates", logging.Fields{}, err)
		h.metrics.RecordAPIError("query_error", "/api/weather/daily")
		h.sendError(w, r, "failed to retrieve daily aggregates", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/weather/daily", r.Method, "200")
	h.sendJSON(w, ListResponse{Data: rows, Total: len(rows)}, http.StatusOK)
}

// GetMonthlyAggregates handles GET /api/weather/monthly
func (h *DashboardHandler) GetMonthlyAggregates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/weather/monthly").Observe(duration.Seconds())
	}()

	rows, err := h.queryService.GetMonthlyAggregates(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_ERROR] Failed to retrieve monthly aggregates", logging.Fields{}, err)
		h.metrics.RecordAPIError("query_error", "/api/weather/monthly")
		h.sendError(w, r, "failed to retrieve monthly aggregates", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/weather/monthly", r.Method, "200")
	h.sendJSON(w, ListResponse{Data: rows, Total: len(rows)}, http.StatusOK)
}

// GetSeasonalAggregates handles GET /api/weather/seasonal
func (h *DashboardHandler) GetSeasonalAggregates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/weather/seasonal").Observe(duration.Seconds())
	}()

	rows, err := h.queryService.GetSeasonalAggregates(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_ERROR] Failed to retrieve seasonal aggregates", logging.Fields{}, err)
		h.metrics.RecordAPIError("query_error", "/api/weather/seasonal")
		h.sendError(w, r, "failed to retrieve seasonal aggregates", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/weather/seasonal", r.Method, "200")
	h.sendJSON(w, ListResponse{Data: rows, Total: len(rows)}, http.StatusOK)
}

// GetSummaryStatistics handles GET /api/weather/statistics
func (h *DashboardHandler) GetSummaryStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/weather/statistics").Observe(duration.Seconds())
	}()

	summary, err := h.queryService.GetSummaryStatistics(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_ERROR] Failed to compute summary statistics", logging.Fields{}, err)
		h.metrics.RecordAPIError("query_error", "/api/weather/statistics")
		h.sendError(w, r, "failed to compute summary statistics", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/weather/statistics", r.Method, "200")
	h.sendJSON(w, summary, http.StatusOK)
}

// GetIngestionStats handles GET /api/ingestion-stats
func (h *DashboardHandler) GetIngestionStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/ingestion-stats").Observe(duration.Seconds())
	}()

	stats, err := h.queryService.GetIngestionStats(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_ERROR] Failed to retrieve ingestion stats", logging.Fields{}, err)
		h.metrics.RecordAPIError("query_error", "/api/ingestion-stats")
		h.sendError(w, r, "failed to retrieve ingestion stats", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/ingestion-stats", r.Method, "200")
	h.sendJSON(w, ListResponse{Data: stats, Total: len(stats)}, http.StatusOK)
}

// GetRecentRuns handles GET /api/ingestion-runs
func (h *DashboardHandler) GetRecentRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	runs, err := h.queryService.GetRecentRuns(ctx, limit)
	if err != nil {
		h.logger.Error(ctx, "[API_ERROR] Failed to retrieve ingestion runs", logging.Fields{}, err)
		h.metrics.RecordAPIError("query_error", "/api/ingestion-runs")
		h.sendError(w, r, "failed to retrieve ingestion runs", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/ingestion-runs", r.Method, "200")
	h.sendJSON(w, ListResponse{Data: runs, Total: len(runs)}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *DashboardHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "weatherlake",
	}

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			h.sendJSON(w, status, http.StatusServiceUnavailable)
			return
		}
		status["database"] = "ok"
	}

	h.sendJSON(w, status, http.StatusOK)
}

// sendJSON sends a JSON response
func (h *DashboardHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *DashboardHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all dashboard API routes
func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/weather/daily", h.GetDailyAggregates).Methods("GET")
	router.HandleFunc("/api/weather/monthly", h.GetMonthlyAggregates).Methods("GET")
	router.HandleFunc("/api/weather/seasonal", h.GetSeasonalAggregates).Methods("GET")
	router.HandleFunc("/api/weather/statistics", h.GetSummaryStatistics).Methods("GET")
	router.HandleFunc("/api/ingestion-stats", h.GetIngestionStats).Methods("GET")
	router.HandleFunc("/api/ingestion-runs", h.GetRecentRuns).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
