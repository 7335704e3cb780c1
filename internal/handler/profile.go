package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	datastar "github.com/starfederation/datastar-go/datastar"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/service"
)

// ProfileHandler serves the signed-in user's profile and the admin
// profile editor.
type ProfileHandler struct {
	profiles *service.ProfileService
	feed     domain.ChangeFeed
}

func NewProfileHandler(profiles *service.ProfileService, feed domain.ChangeFeed) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, feed: feed}
}

// HandleStream pushes the profile fragment and the profile signal now and
// again after every change of the user's profile row.
// GET /api/profile/stream
func (h *ProfileHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	profile := ProfileFromContext(r.Context())

	sub, err := h.feed.Subscribe(r.Context(), domain.ChangeFilter{
		Table:  domain.TableProfiles,
		Column: "id",
		Value:  session.UserID,
		Events: []domain.ChangeType{domain.ChangeInsert, domain.ChangeUpdate},
	})
	if err != nil {
		slog.Warn("profile stream subscription failed", "user_id", session.UserID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Realtime updates are unavailable.")
		return
	}
	defer sub.Unsubscribe()

	sse := datastar.NewSSE(w, r)
	if err := patchProfile(sse, profile); err != nil {
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
			row, ok := ev.New.(*domain.ProfileRow)
			if !ok {
				continue
			}
			p := service.ProfileFromRow(row)
			if p.Email == "" {
				p.Email = session.Email
			}
			h.profiles.Remember(&p)
			if err := patchProfile(sse, &p); err != nil {
				slog.Debug("profile stream closed", "user_id", session.UserID, "error", err)
				return
			}
		}
	}
}

func patchProfile(sse *datastar.ServerSentEventGenerator, p *domain.Profile) error {
	if err := sse.PatchElementTempl(profileFragment(p)); err != nil {
		return err
	}
	return sse.MarshalAndPatchSignals(map[string]any{"profile": p})
}

// HandleList returns every profile.
// GET /api/admin/profiles
func (h *ProfileHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.List(r.Context())
	if err != nil {
		writeServiceError(w, "list profiles", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

// HandleUpdate edits the role, name, avatar or stores of a profile. Fields
// left out of the request keep their value.
// PUT /api/admin/profiles/{id}
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req profileUpdateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	current, err := h.profiles.Fetch(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found.")
			return
		}
		writeServiceError(w, "get profile", err)
		return
	}

	row := &domain.ProfileRow{
		ID:        current.ID,
		Email:     current.Email,
		Role:      string(current.Role),
		FullName:  current.FullName,
		AvatarURL: current.AvatarURL,
		Stores:    strings.Join(current.Stores, ", "),
	}
	if req.Role != "" {
		row.Role = req.Role
	}
	if req.FullName != nil {
		row.FullName = *req.FullName
	}
	if req.AvatarURL != nil {
		row.AvatarURL = *req.AvatarURL
	}
	if req.Stores != nil {
		row.Stores = strings.Join(req.Stores, ",")
	}

	updated, err := h.profiles.Update(r.Context(), row)
	if err != nil {
		writeServiceError(w, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": updated})
}
