package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/instrument"
	"github.com/nanoassist/dashboard/internal/service"
)

type contextKey string

const (
	sessionContextKey contextKey = "session"
	profileContextKey contextKey = "profile"
)

const authCookie = "auth_token"

// SessionFromContext returns the authenticated session, or nil.
func SessionFromContext(ctx context.Context) *domain.Session {
	s, _ := ctx.Value(sessionContextKey).(*domain.Session)
	return s
}

// ProfileFromContext returns the profile resolved for the authenticated
// session, or nil.
func ProfileFromContext(ctx context.Context) *domain.Profile {
	p, _ := ctx.Value(profileContextKey).(*domain.Profile)
	return p
}

// RequireAuth validates the auth_token cookie (or a bearer token), resolves
// the user's profile and injects both into the request context. A profile
// that cannot be loaded degrades to the minimal one instead of failing the
// request.
func RequireAuth(auth *service.AuthService, profiles *service.ProfileService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := authenticateRequest(r, auth)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated.")
			return
		}

		profile := profiles.Resolve(r.Context(), session)
		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		ctx = context.WithValue(ctx, profileContextKey, profile)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects requests whose profile is not an admin. It must run
// inside RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ProfileFromContext(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authenticateRequest(r *http.Request, auth *service.AuthService) (*domain.Session, error) {
	token := ""
	if cookie, err := r.Cookie(authCookie); err == nil {
		token = cookie.Value
	} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	return auth.ValidateToken(token)
}

// storeAllowed reports whether the profile may read the named store.
// Admins may read every store.
func storeAllowed(p *domain.Profile, store string) bool {
	return p.IsAdmin() || p.HasStore(store)
}

// RateLimit allows each client IP the limiter's budget of requests.
func RateLimit(limiter *service.TokenBucket, metrics *instrument.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(clientIP(r)) {
			metrics.LoginAttempt("throttled")
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Too many attempts. Please wait a minute.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireAPIKey guards ingestion endpoints with a static key sent in the
// X-API-Key header. With no keys configured every request is rejected.
func RequireAPIKey(keys []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("X-API-Key"))
		for _, k := range keys {
			if len(got) > 0 && subtle.ConstantTimeCompare(got, []byte(k)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "Invalid API key.")
	})
}

// SecurityHeaders sets conservative browser security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Observe logs every request and records its latency by route pattern.
func Observe(metrics *instrument.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(r.Method, route, status, elapsed)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
			"remote", clientIP(r),
		)
	})
}

// Stack wraps the routed handler with the middleware every request passes
// through, outermost first: request id, real client IP, panic recovery,
// logging and metrics, security headers.
func Stack(h http.Handler, metrics *instrument.Metrics) http.Handler {
	h = SecurityHeaders(h)
	h = Observe(metrics, h)
	h = middleware.Recoverer(h)
	h = middleware.RealIP(h)
	return middleware.RequestID(h)
}
