package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/handler"
	"github.com/nanoassist/dashboard/internal/realtime"
	"github.com/nanoassist/dashboard/internal/repository/sqlite"
	"github.com/nanoassist/dashboard/internal/service"
)

const testJWTSecret = "test-secret-for-handler-tests-0123456789"

type testServices struct {
	db       *sqlite.DB
	broker   *realtime.Broker
	auth     *service.AuthService
	profiles *service.ProfileService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	broker := realtime.NewBroker()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"), sqlite.WithPublisher(broker))
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() {
		broker.Close()
		db.Close()
	})

	return &testServices{
		db:       db,
		broker:   broker,
		auth:     service.NewAuthService(db.Users(), db.Profiles(), testJWTSecret, 4),
		profiles: service.NewProfileService(db.Profiles(), nil),
	}
}

// registerAndLogin creates an account and returns its session token.
func (s *testServices) registerAndLogin(t *testing.T, email string) *domain.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := s.auth.Register(ctx, email, "Test User", "password123", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	session, err := s.auth.Login(ctx, email, "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return session
}

func (s *testServices) setStores(t *testing.T, userID, role, stores string) {
	t.Helper()
	row := &domain.ProfileRow{ID: userID, Role: role, Stores: stores}
	if _, err := s.profiles.Update(context.Background(), row); err != nil {
		t.Fatalf("Update profile: %v", err)
	}
}

func TestRequireAuth_ValidCookie(t *testing.T) {
	s := newTestServices(t)
	session := s.registerAndLogin(t, "valid@example.com")
	s.setStores(t, session.UserID, "user", "Acme, Beta")

	var gotSession *domain.Session
	var gotProfile *domain.Profile
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = handler.SessionFromContext(r.Context())
		gotProfile = handler.ProfileFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: session.AccessToken})
	w := httptest.NewRecorder()

	handler.RequireAuth(s.auth, s.profiles, inner).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotSession == nil || gotSession.UserID != session.UserID {
		t.Fatalf("unexpected session %+v", gotSession)
	}
	if gotProfile == nil || len(gotProfile.Stores) != 2 || gotProfile.Stores[1] != "Beta" {
		t.Fatalf("unexpected profile %+v", gotProfile)
	}
}

func TestRequireAuth_BearerToken(t *testing.T) {
	s := newTestServices(t)
	session := s.registerAndLogin(t, "bearer@example.com")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	w := httptest.NewRecorder()

	handler.RequireAuth(s.auth, s.profiles, inner).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireAuth_Rejects(t *testing.T) {
	s := newTestServices(t)
	session := s.registerAndLogin(t, "tamper@example.com")
	tampered := []byte(session.AccessToken)
	// Flip a character in the middle of the signature.
	i := len(tampered) - 10
	if tampered[i] == 'A' {
		tampered[i] = 'B'
	} else {
		tampered[i] = 'A'
	}

	tests := []struct {
		name   string
		cookie string
	}{
		{"missing cookie", ""},
		{"invalid token", "invalid.jwt.token"},
		{"tampered token", string(tampered)},
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be called")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "auth_token", Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			handler.RequireAuth(s.auth, s.profiles, inner).ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestRequireAuth_MissingProfileIsDegraded(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	// A user created without the profile row that registration adds.
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	user := &domain.User{Email: "bare@example.com", PasswordHash: string(hash)}
	if err := s.db.Users().Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}
	session, err := s.auth.Login(ctx, "bare@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	var got *domain.Profile
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = handler.ProfileFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: session.AccessToken})
	handler.RequireAuth(s.auth, s.profiles, inner).ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.Role != domain.RoleUser || len(got.Stores) != 0 || got.Email != "bare@example.com" {
		t.Fatalf("expected degraded profile, got %+v", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	if err := s.auth.SeedAdmin(ctx, "admin@example.com", "password123", "Acme"); err != nil {
		t.Fatalf("SeedAdmin: %v", err)
	}
	admin, err := s.auth.Login(ctx, "admin@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	user := s.registerAndLogin(t, "user@example.com")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := handler.RequireAuth(s.auth, s.profiles, handler.RequireAdmin(inner))

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"admin", admin.AccessToken, http.StatusOK},
		{"user", user.AccessToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.AddCookie(&http.Cookie{Name: "auth_token", Value: tt.token})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}

	// Without RequireAuth there is no profile at all.
	w := httptest.NewRecorder()
	handler.RequireAdmin(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a profile, got %d", w.Code)
	}
}

func TestRequireAPIKey(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name string
		keys []string
		sent string
		want int
	}{
		{"valid", []string{"k1", "k2"}, "k2", http.StatusNoContent},
		{"wrong", []string{"k1"}, "nope", http.StatusUnauthorized},
		{"missing", []string{"k1"}, "", http.StatusUnauthorized},
		{"none configured", nil, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
			if tt.sent != "" {
				req.Header.Set("X-API-Key", tt.sent)
			}
			w := httptest.NewRecorder()
			handler.RequireAPIKey(tt.keys, inner).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRateLimit_PerClientIP(t *testing.T) {
	c := clock.Fake(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	limiter := service.NewTokenBucket(1.0/60, 2, c)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := handler.RateLimit(limiter, nil, inner)

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	for i := range 2 {
		if code := send("10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, code)
		}
	}
	if code := send("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the burst is spent, got %d", code)
	}
	if code := send("10.0.0.2:5000"); code != http.StatusOK {
		t.Fatalf("expected another client to pass, got %d", code)
	}

	c.Advance(time.Minute)
	if code := send("10.0.0.1:5002"); code != http.StatusOK {
		t.Fatalf("expected a refilled token after a minute, got %d", code)
	}
}

func TestStack_RecoversPanicsAndSetsHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	mux.HandleFunc("GET /ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := handler.Stack(mux, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff header, got %q", got)
	}
}
