package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/triago/triago/domain"
	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/http/middleware"
	"github.com/triago/triago/infrastructure/http/response"
	"github.com/triago/triago/internal/service"
)

// dateParamFormat is the layout of start/end query parameters.
const dateParamFormat = "2006-01-02"

// MetricsHandler maps the facade contract onto HTTP routes.
type MetricsHandler struct {
	facade *service.Facade
	auth   *middleware.AuthMiddleware
}

func NewMetricsHandler(facade *service.Facade, auth *middleware.AuthMiddleware) *MetricsHandler {
	return &MetricsHandler{
		facade: facade,
		auth:   auth,
	}
}

// RegisterRoutes registers the metrics routes.
func (h *MetricsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/metrics/dashboard", h.auth.RequireAuth(h.GetDashboard)).Methods("GET")
	router.HandleFunc("/api/v1/metrics/hierarchy", h.auth.RequireAuth(h.GetHierarchy)).Methods("GET")
	router.HandleFunc("/api/v1/metrics/technicians/ranking", h.auth.RequireAuth(h.GetRanking)).Methods("GET")
	router.HandleFunc("/api/v1/metrics/trends", h.auth.RequireAuth(h.GetTrends)).Methods("GET")
	router.HandleFunc("/api/v1/metrics/fields/refresh", h.auth.RequireAuth(h.RefreshFields)).Methods("POST")
	router.HandleFunc("/health", h.Health).Methods("GET")
}

// GetDashboard handles GET /api/v1/metrics/dashboard.
func (h *MetricsHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	startDate, endDate, err := parseDateRange(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	snapshot, err := h.facade.GetDashboardMetrics(r.Context(), startDate, endDate, useCache(r))
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Dashboard metrics", snapshot)
}

// GetHierarchy handles GET /api/v1/metrics/hierarchy.
func (h *MetricsHandler) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	startDate, endDate, err := parseDateRange(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	query := domain.TicketCountQuery{
		StartDate: startDate,
		EndDate:   endDate,
		Status:    r.URL.Query().Get("status"),
		DateField: r.URL.Query().Get("date_field"),
	}
	if levelParam := r.URL.Query().Get("level"); levelParam != "" {
		level, ok := domain.ParseLevel(levelParam)
		if !ok {
			response.BadRequest(w, "Invalid level, expected N1..N4")
			return
		}
		query.Level = &level
	}

	result, err := h.facade.GetTicketCountByHierarchy(r.Context(), query, useCache(r))
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Hierarchy ticket counts", result)
}

// GetRanking handles GET /api/v1/metrics/technicians/ranking.
func (h *MetricsHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.facade.GetTechnicianRanking(r.Context(), useCache(r))
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Technician ranking", ranking)
}

// GetTrends handles GET /api/v1/metrics/trends.
func (h *MetricsHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	currentStart, err := time.Parse(dateParamFormat, q.Get("current_start"))
	if err != nil {
		response.BadRequest(w, "current_start is required as YYYY-MM-DD")
		return
	}
	currentEnd, err := time.Parse(dateParamFormat, q.Get("current_end"))
	if err != nil {
		response.BadRequest(w, "current_end is required as YYYY-MM-DD")
		return
	}
	if !currentEnd.After(currentStart) {
		response.BadRequest(w, "current_end must be after current_start")
		return
	}

	comparisonDays := int(currentEnd.Sub(currentStart).Hours() / 24)
	if raw := q.Get("comparison_days"); raw != "" {
		comparisonDays, err = strconv.Atoi(raw)
		if err != nil || comparisonDays <= 0 {
			response.BadRequest(w, "comparison_days must be a positive integer")
			return
		}
	}

	trends, err := h.facade.CalculateTrends(r.Context(), currentStart, currentEnd, comparisonDays, useCache(r))
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Trend comparison", trends)
}

// RefreshFields handles POST /api/v1/metrics/fields/refresh. Discovery
// failure still answers 200: the catalog has fallen back to static IDs.
func (h *MetricsHandler) RefreshFields(w http.ResponseWriter, r *http.Request) {
	if err := h.facade.DiscoverFields(r.Context()); err != nil {
		response.Success(w, http.StatusOK, "Discovery failed, static fallback active", nil)
		return
	}
	response.Success(w, http.StatusOK, "Field catalog refreshed", nil)
}

// Health handles GET /health. Always 200; degraded state shows in the body.
func (h *MetricsHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.facade.HealthCheck(r.Context())
	response.Success(w, http.StatusOK, "Health report", status)
}

func parseDateRange(r *http.Request) (*time.Time, *time.Time, error) {
	var startDate, endDate *time.Time
	q := r.URL.Query()

	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(dateParamFormat, raw)
		if err != nil {
			return nil, nil, errInvalidDate("start")
		}
		startDate = &t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(dateParamFormat, raw)
		if err != nil {
			return nil, nil, errInvalidDate("end")
		}
		endDate = &t
	}
	return startDate, endDate, nil
}

func errInvalidDate(param string) error {
	return apperror.New(apperror.ErrCodeInvalidRequest, param+" must be formatted as YYYY-MM-DD")
}

func useCache(r *http.Request) bool {
	raw := r.URL.Query().Get("use_cache")
	if raw == "" {
		return true
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return parsed
}

func writeFacadeError(w http.ResponseWriter, err error) {
	response.Error(w, apperror.HTTPStatus(err), err.Error())
}
