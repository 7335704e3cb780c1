package domain

import (
	"context"
	"time"
)

// Session is an authenticated identity handle issued by the auth backend.
// It is replaced as a whole on every auth transition, never edited in place.
type Session struct {
	AccessToken string
	UserID      string
	Email       string
	ExpiresAt   time.Time
}

// AuthEventType names an auth state transition.
type AuthEventType string

const (
	AuthSignedIn       AuthEventType = "SIGNED_IN"
	AuthSignedOut      AuthEventType = "SIGNED_OUT"
	AuthTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is delivered on every auth transition. Session is nil for
// AuthSignedOut.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// AuthProvider is the authentication side of the record store: one-shot
// session lookup, a push stream of auth transitions, and credential
// sign-in/sign-out.
type AuthProvider interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange returns a channel of auth transitions and a
	// function that ends the subscription and closes the channel.
	OnAuthStateChange() (<-chan AuthEvent, func())
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
}

// SessionStore persists the access token between process runs.
type SessionStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}
