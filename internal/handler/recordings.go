package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	datastar "github.com/starfederation/datastar-go/datastar"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/realtime"
	"github.com/nanoassist/dashboard/internal/service"
)

// RecordingHandler browses a store's call records.
type RecordingHandler struct {
	recordings *service.RecordingService
	feed       domain.ChangeFeed
	clock      clock.Clock
	debounce   time.Duration
	loc        *time.Location
}

func NewRecordingHandler(recordings *service.RecordingService, feed domain.ChangeFeed, c clock.Clock, debounce time.Duration, loc *time.Location) *RecordingHandler {
	if c == nil {
		c = clock.Real()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RecordingHandler{recordings: recordings, feed: feed, clock: c, debounce: debounce, loc: loc}
}

// HandleList returns one page of records.
// GET /api/recordings?store=...&start=YYYY-MM-DD&end=YYYY-MM-DD&page=1&pageSize=10
func (h *RecordingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	page, err := h.recordings.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, "list recordings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":    toRecordingDTOs(page.Records),
		"total":      page.Total,
		"page":       page.Page,
		"pageSize":   page.PageSize,
		"totalPages": page.TotalPages,
	})
}

// HandleGet returns one record with its transcript.
// GET /api/recordings/{id}
func (h *RecordingHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recording ID.")
		return
	}
	session := SessionFromContext(r.Context())
	rec, err := h.recordings.Get(r.Context(), session.UserID, id)
	if err != nil {
		writeServiceError(w, "get recording", err)
		return
	}
	if !storeAllowed(ProfileFromContext(r.Context()), rec.StoreName) {
		writeError(w, http.StatusNotFound, "Not found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recording": toRecordingDTO(*rec)})
}

// HandleStream renders the requested page and re-renders it whenever new
// calls for the user and store arrive. Bursts of inserts are coalesced into
// one refetch.
// GET /api/recordings/stream?store=...&start=...&end=...
func (h *RecordingHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	first, err := h.recordings.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, "list recordings", err)
		return
	}

	sub, err := h.feed.Subscribe(r.Context(), domain.ChangeFilter{
		Table:  domain.TableCallRecordings,
		Column: "user_id",
		Value:  q.UserID,
		Events: []domain.ChangeType{domain.ChangeInsert},
	})
	if err != nil {
		slog.Warn("recordings stream subscription failed", "user_id", q.UserID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Realtime updates are unavailable.")
		return
	}
	defer sub.Unsubscribe()

	refetch := make(chan struct{}, 1)
	debouncer := realtime.NewDebouncer(h.clock, h.debounce, func() {
		select {
		case refetch <- struct{}{}:
		default:
		}
	})
	defer debouncer.Stop()

	sse := datastar.NewSSE(w, r)
	if err := sse.PatchElementTempl(recordingsFragment(first, h.loc)); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Attrs["store_name"] == q.StoreName {
				debouncer.Trigger()
			}
		case <-refetch:
			page, err := h.recordings.List(r.Context(), q)
			if err != nil {
				slog.Error("refetch recordings", "user_id", q.UserID, "error", err)
				continue
			}
			if err := sse.PatchElementTempl(recordingsFragment(page, h.loc)); err != nil {
				return
			}
		}
	}
}

func (h *RecordingHandler) query(w http.ResponseWriter, r *http.Request) (service.RecordingQuery, bool) {
	v := r.URL.Query()
	q := service.RecordingQuery{
		UserID:    SessionFromContext(r.Context()).UserID,
		StoreName: v.Get("store"),
		StartDate: v.Get("start"),
		EndDate:   v.Get("end"),
	}
	if q.StoreName == "" {
		writeError(w, http.StatusBadRequest, "store is required.")
		return q, false
	}
	if !storeAllowed(ProfileFromContext(r.Context()), q.StoreName) {
		writeError(w, http.StatusForbidden, "You do not have access to this store.")
		return q, false
	}

	// Default to the last seven days, today included.
	today := h.clock.Now().In(h.loc).Format(time.DateOnly)
	if q.EndDate == "" {
		q.EndDate = today
	}
	if q.StartDate == "" {
		end, err := time.ParseInLocation(time.DateOnly, q.EndDate, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be a YYYY-MM-DD date.")
			return q, false
		}
		q.StartDate = end.AddDate(0, 0, -6).Format(time.DateOnly)
	}

	for name, dst := range map[string]*int{"page": &q.Page, "pageSize": &q.PageSize} {
		if s := v.Get(name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, name+" must be a positive integer.")
				return q, false
			}
			*dst = n
		}
	}
	return q, true
}
