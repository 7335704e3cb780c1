package handler

import (
	"net/http"

	"github.com/nanoassist/dashboard/internal/service"
)

// IngestHandler accepts call records and metrics snapshots from the voice
// assistant backend.
type IngestHandler struct {
	recordings *service.RecordingService
	dashboard  *service.DashboardService
}

func NewIngestHandler(recordings *service.RecordingService, dashboard *service.DashboardService) *IngestHandler {
	return &IngestHandler{recordings: recordings, dashboard: dashboard}
}

// POST /api/ingest/recordings
func (h *IngestHandler) HandleRecording(w http.ResponseWriter, r *http.Request) {
	var req recordingIngest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec := req.toDomain()
	if err := h.recordings.Create(r.Context(), rec); err != nil {
		writeServiceError(w, "ingest recording", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": rec.ID})
}

// POST /api/ingest/metrics
func (h *IngestHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	var req metricIngest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m := req.toDomain()
	if err := h.dashboard.Record(r.Context(), m); err != nil {
		writeServiceError(w, "ingest metrics", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": m.ID})
}
