package handler

import (
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/instrument"
	"github.com/nanoassist/dashboard/internal/service"
)

// Services are the dependencies of the HTTP surface.
type Services struct {
	Auth       *service.AuthService
	Profiles   *service.ProfileService
	Charts     *service.ChartService
	Dashboard  *service.DashboardService
	Recordings *service.RecordingService
	Feed       domain.ChangeFeed
	DB         Pinger

	LoginLimiter *service.TokenBucket
	Metrics      *instrument.Metrics
	IngestKeys   []string
	CookieSecure bool

	Clock    clock.Clock // drives the recordings refetch debounce
	Debounce time.Duration
	Location *time.Location
}

// RegisterRoutes sets up all HTTP routes on the given mux. JSON endpoints
// are gzip-compressed; SSE streams are not.
func RegisterRoutes(mux *http.ServeMux, s Services) {
	authH := NewAuthHandler(s.Auth, s.Profiles, s.Metrics, s.CookieSecure)
	profileH := NewProfileHandler(s.Profiles, s.Feed)
	dashH := NewDashboardHandler(s.Charts, s.Dashboard)
	recH := NewRecordingHandler(s.Recordings, s.Feed, s.Clock, s.Debounce, s.Location)
	ingestH := NewIngestHandler(s.Recordings, s.Dashboard)

	authed := func(h http.HandlerFunc) http.Handler {
		return RequireAuth(s.Auth, s.Profiles, h)
	}
	compressed := func(h http.Handler) http.Handler {
		return gzhttp.GzipHandler(h)
	}

	mux.Handle("GET /healthz", HandleHealthz(s.DB))
	mux.Handle("GET /metrics", s.Metrics.Handler())

	login := http.Handler(http.HandlerFunc(authH.HandleLogin))
	if s.LoginLimiter != nil {
		login = RateLimit(s.LoginLimiter, s.Metrics, login)
	}
	mux.Handle("POST /api/auth/login", login)
	mux.HandleFunc("POST /api/auth/register", authH.HandleRegister)
	mux.HandleFunc("POST /api/auth/logout", authH.HandleLogout)
	mux.Handle("POST /api/auth/refresh", authed(authH.HandleRefresh))
	mux.Handle("GET /api/auth/me", authed(authH.HandleMe))

	mux.Handle("GET /api/profile/stream", authed(profileH.HandleStream))
	mux.Handle("GET /api/admin/profiles", compressed(RequireAuth(s.Auth, s.Profiles, RequireAdmin(http.HandlerFunc(profileH.HandleList)))))
	mux.Handle("PUT /api/admin/profiles/{id}", RequireAuth(s.Auth, s.Profiles, RequireAdmin(http.HandlerFunc(profileH.HandleUpdate))))

	mux.Handle("GET /api/chart", compressed(authed(dashH.HandleChart)))
	mux.Handle("GET /api/metrics/latest", compressed(authed(dashH.HandleLatest)))
	mux.Handle("GET /api/metrics/history", compressed(authed(dashH.HandleHistory)))

	mux.Handle("GET /api/recordings", compressed(authed(recH.HandleList)))
	mux.Handle("GET /api/recordings/stream", authed(recH.HandleStream))
	mux.Handle("GET /api/recordings/{id}", compressed(authed(recH.HandleGet)))

	mux.Handle("POST /api/ingest/recordings", RequireAPIKey(s.IngestKeys, http.HandlerFunc(ingestH.HandleRecording)))
	mux.Handle("POST /api/ingest/metrics", RequireAPIKey(s.IngestKeys, http.HandlerFunc(ingestH.HandleMetrics)))
}
