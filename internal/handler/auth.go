package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/instrument"
	"github.com/nanoassist/dashboard/internal/service"
)

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	auth         *service.AuthService
	profiles     *service.ProfileService
	metrics      *instrument.Metrics
	cookieSecure bool
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, profiles *service.ProfileService, metrics *instrument.Metrics, cookieSecure bool) *AuthHandler {
	return &AuthHandler{auth: auth, profiles: profiles, metrics: metrics, cookieSecure: cookieSecure}
}

// HandleLogin processes a JSON login request.
// POST /api/auth/login
// Request:  {"email":"...","password":"..."}
// Response: {"session": {...}, "profile": {...}}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			h.metrics.LoginAttempt("failure")
			writeError(w, http.StatusUnauthorized, "Invalid email or password.")
			return
		}
		writeServiceError(w, "login user", err)
		return
	}
	h.metrics.LoginAttempt("success")

	h.setCookie(w, session.AccessToken, session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"session": toSessionDTO(session),
		"profile": h.profiles.Resolve(r.Context(), session),
	})
}

// HandleRegister processes a JSON registration request.
// POST /api/auth/register
// Request:  {"email":"...","fullName":"...","password":"...","confirmPassword":"..."}
// Response: {"user": {...}}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	user, err := h.auth.Register(r.Context(), req.Email, req.FullName, req.Password, req.ConfirmPassword)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "An account with that email already exists.")
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeServiceError(w, "register user", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user": toUserDTO(user),
	})
}

// HandleLogout clears the auth cookie and the caller's cached profile.
// Tokens are stateless, so there is nothing to revoke server side.
// POST /api/auth/logout
// Response: 204 No Content
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if session, err := authenticateRequest(r, h.auth); err == nil {
		h.profiles.Forget(session.UserID)
	}
	h.setCookie(w, "", time.Time{})
	w.WriteHeader(http.StatusNoContent)
}

// HandleRefresh reissues the session token before it expires.
// POST /api/auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	current := SessionFromContext(r.Context())
	session, err := h.auth.Refresh(r.Context(), current.AccessToken)
	if err != nil {
		writeServiceError(w, "refresh session", err)
		return
	}
	h.setCookie(w, session.AccessToken, session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionDTO(session)})
}

// HandleMe returns the current session and the resolved profile.
// GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	if session == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": toSessionDTO(session),
		"profile": ProfileFromContext(r.Context()),
	})
}

// setCookie stores token in the auth cookie. An empty token deletes it.
func (h *AuthHandler) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	maxAge := -1
	if token != "" {
		maxAge = max(int(time.Until(expires).Seconds()), 1)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}
