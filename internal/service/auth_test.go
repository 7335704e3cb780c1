package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/repository/sqlite"
	"github.com/nanoassist/dashboard/internal/service"
)

const testJWTSecret = "test-secret-key-for-unit-tests"

func newTestDB(t *testing.T, opts ...sqlite.Option) *sqlite.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sqlite.New(dbPath, opts...)
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestAuthService(t *testing.T, opts ...service.AuthOption) (*service.AuthService, *sqlite.DB) {
	t.Helper()
	db := newTestDB(t)
	// Use cost 4 for fast tests.
	auth := service.NewAuthService(db.Users(), db.Profiles(), testJWTSecret, 4, opts...)
	return auth, db
}

func TestAuthService_Register_Success(t *testing.T) {
	auth, db := newTestAuthService(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, "new@example.com", "New User", "password123", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if user.ID == "" {
		t.Fatal("expected user ID to be set")
	}
	if user.Email != "new@example.com" {
		t.Fatalf("expected email new@example.com, got %s", user.Email)
	}

	row, err := db.Profiles().GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("expected a profile row for the new user: %v", err)
	}
	if row.Role != "user" || row.FullName != "New User" {
		t.Fatalf("unexpected profile row: %+v", row)
	}
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	auth, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "dup@example.com", "User 1", "password123", "password123"); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, err := auth.Register(ctx, "dup@example.com", "User 2", "password456", "password456")
	if !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestAuthService_Register_InvalidInput(t *testing.T) {
	auth, _ := newTestAuthService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		confirm  string
	}{
		{"empty email", "", "password123", "password123"},
		{"empty password", "a@b.com", "", ""},
		{"weak password", "weak@example.com", "short", "short"},
		{"password mismatch", "mismatch@example.com", "password123", "different456"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := auth.Register(ctx, tc.email, "Name", tc.password, tc.confirm)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	auth, _ := newTestAuthService(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, "login@example.com", "Login User", "password123", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	session, err := auth.Login(ctx, "login@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.AccessToken == "" || session.UserID != user.ID || session.Email != user.Email {
		t.Fatalf("unexpected session: %+v", session)
	}

	if _, err := auth.Login(ctx, "login@example.com", "wrongpassword"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong password, got %v", err)
	}
	if _, err := auth.Login(ctx, "nobody@example.com", "password123"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown email, got %v", err)
	}
}

func TestAuthService_ValidateToken(t *testing.T) {
	auth, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "jwt@example.com", "JWT User", "password123", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	session, err := auth.Login(ctx, "jwt@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	got, err := auth.ValidateToken(session.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got.UserID != session.UserID || got.Email != "jwt@example.com" || !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("expected %+v, got %+v", session, got)
	}

	if _, err := auth.ValidateToken("not-a-valid-jwt"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage, got %v", err)
	}

	tampered := session.AccessToken[:len(session.AccessToken)-5] + "XXXXX"
	if _, err := auth.ValidateToken(tampered); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for tampered token, got %v", err)
	}

	other := service.NewAuthService(nil, nil, "different-secret", 4)
	if _, err := other.ValidateToken(session.AccessToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong secret, got %v", err)
	}
}

func TestAuthService_TokenExpiry(t *testing.T) {
	clk := clock.Fake(time.Now())
	auth, _ := newTestAuthService(t, service.WithAuthClock(clk), service.WithTokenTTL(time.Hour))
	ctx := context.Background()

	if _, err := auth.Register(ctx, "exp@example.com", "", "password123", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	session, err := auth.Login(ctx, "exp@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	clk.Advance(30 * time.Minute)
	refreshed, err := auth.Refresh(ctx, session.AccessToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !refreshed.ExpiresAt.After(session.ExpiresAt) {
		t.Fatalf("expected refreshed expiry after %v, got %v", session.ExpiresAt, refreshed.ExpiresAt)
	}

	clk.Advance(2 * time.Hour)
	if _, err := auth.ValidateToken(refreshed.AccessToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
	if _, err := auth.Refresh(ctx, refreshed.AccessToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected refresh of expired token to fail, got %v", err)
	}
}

func TestAuthService_SeedAdmin(t *testing.T) {
	auth, db := newTestAuthService(t)
	ctx := context.Background()

	if err := auth.SeedAdmin(ctx, "admin@example.com", "password123", "Acme, Beta"); err != nil {
		t.Fatalf("SeedAdmin: %v", err)
	}
	// Seeding again is a no-op apart from re-promoting.
	if err := auth.SeedAdmin(ctx, "admin@example.com", "ignored-password", ""); err != nil {
		t.Fatalf("SeedAdmin again: %v", err)
	}

	session, err := auth.Login(ctx, "admin@example.com", "password123")
	if err != nil {
		t.Fatalf("Login with the original password: %v", err)
	}
	row, err := db.Profiles().GetByID(ctx, session.UserID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.Role != "admin" || row.Stores != "Acme, Beta" {
		t.Fatalf("unexpected admin profile: %+v", row)
	}
}
