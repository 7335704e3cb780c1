package handler

import (
	"net/http"
	"strconv"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/service"
)

// DashboardHandler serves the chart series and the metrics snapshots.
type DashboardHandler struct {
	charts    *service.ChartService
	dashboard *service.DashboardService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(charts *service.ChartService, dashboard *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{charts: charts, dashboard: dashboard}
}

// HandleChart returns the bucketed series of one store.
// GET /api/chart?store=...&period=day|week|month
func (h *DashboardHandler) HandleChart(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	store := r.URL.Query().Get("store")
	if store != "" && !storeAllowed(ProfileFromContext(r.Context()), store) {
		writeError(w, http.StatusForbidden, "You do not have access to this store.")
		return
	}

	periodName := r.URL.Query().Get("period")
	if periodName == "" {
		periodName = string(domain.PeriodWeek)
	}
	period, err := domain.ParsePeriod(periodName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := h.charts.ChartData(r.Context(), session.UserID, store, period)
	if err != nil {
		writeServiceError(w, "chart data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store":  store,
		"period": period,
		"points": points,
	})
}

// HandleLatest returns the newest snapshot, or null.
// GET /api/metrics/latest?store=...
func (h *DashboardHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	m, err := h.dashboard.Latest(r.Context(), session.UserID, store)
	if err != nil {
		writeServiceError(w, "latest metrics", err)
		return
	}
	var dto *MetricDTO
	if m != nil {
		d := toMetricDTO(*m)
		dto = &d
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": dto})
}

// HandleHistory returns up to days snapshots, oldest first.
// GET /api/metrics/history?store=...&days=7
func (h *DashboardHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 366 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366.")
			return
		}
		days = parsed
	}

	history, err := h.dashboard.History(r.Context(), session.UserID, store, days)
	if err != nil {
		writeServiceError(w, "metrics history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": toMetricDTOs(history)})
}

// store reads the optional store parameter. An empty store means every
// store, which only admins may ask for.
func (h *DashboardHandler) store(w http.ResponseWriter, r *http.Request) (string, bool) {
	profile := ProfileFromContext(r.Context())
	store := r.URL.Query().Get("store")
	if store == "" && !profile.IsAdmin() {
		writeError(w, http.StatusBadRequest, "store is required.")
		return "", false
	}
	if store != "" && !storeAllowed(profile, store) {
		writeError(w, http.StatusForbidden, "You do not have access to this store.")
		return "", false
	}
	return store, true
}
