package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
)

const (
	authEventBuffer    = 16
	defaultRefreshLead = 5 * time.Minute
)

// AuthClient is the client side of the auth backend: it keeps the current
// session, persists its token in a SessionStore and broadcasts every auth
// transition. It implements domain.AuthProvider.
type AuthClient struct {
	auth        *AuthService
	store       domain.SessionStore
	clock       clock.Clock
	refreshLead time.Duration

	mu      sync.Mutex
	loaded  bool
	session *domain.Session
	subs    map[int]chan domain.AuthEvent
	nextSub int
}

// AuthClientOption configures an AuthClient.
type AuthClientOption func(*AuthClient)

// WithClientClock sets the clock that schedules token refreshes.
func WithClientClock(c clock.Clock) AuthClientOption {
	return func(a *AuthClient) { a.clock = c }
}

// WithRefreshLead sets how long before expiry a session is refreshed.
func WithRefreshLead(d time.Duration) AuthClientOption {
	return func(a *AuthClient) { a.refreshLead = d }
}

func NewAuthClient(auth *AuthService, store domain.SessionStore, opts ...AuthClientOption) *AuthClient {
	a := &AuthClient{
		auth:        auth,
		store:       store,
		clock:       clock.Real(),
		refreshLead: defaultRefreshLead,
		subs:        make(map[int]chan domain.AuthEvent),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetSession returns the current session, restoring it from the store on
// first use. A stored token that no longer validates is discarded.
func (a *AuthClient) GetSession(ctx context.Context) (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		token, err := a.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: load session: %w", domain.ErrAuth, err)
		}
		a.loaded = true
		if token != "" {
			session, err := a.auth.ValidateToken(token)
			if err != nil {
				slog.Info("stored session is no longer valid")
				if err := a.store.Clear(ctx); err != nil {
					slog.Warn("failed to clear stored session", "error", err)
				}
			} else {
				a.session = session
			}
		}
	}
	return copySession(a.session), nil
}

// OnAuthStateChange subscribes to auth transitions. The returned function
// ends the subscription and closes the channel; it is safe to call twice.
func (a *AuthClient) OnAuthStateChange() (<-chan domain.AuthEvent, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan domain.AuthEvent, authEventBuffer)
	a.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			delete(a.subs, id)
			close(ch)
		})
	}
}

// SignInWithPassword verifies the credentials, stores the new session and
// announces it. Bad credentials are reported as domain.ErrAuth.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	session, err := a.auth.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: invalid email or password", domain.ErrAuth)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	if err := a.store.Save(ctx, session.AccessToken); err != nil {
		return nil, fmt.Errorf("%w: save session: %w", domain.ErrAuth, err)
	}

	a.mu.Lock()
	a.loaded = true
	a.session = session
	a.emitLocked(domain.AuthEvent{Type: domain.AuthSignedIn, Session: copySession(session)})
	a.mu.Unlock()
	return copySession(session), nil
}

// SignOut forgets the session locally and in the store. The local session
// is cleared even when the store fails.
func (a *AuthClient) SignOut(ctx context.Context) error {
	a.mu.Lock()
	a.loaded = true
	a.session = nil
	a.emitLocked(domain.AuthEvent{Type: domain.AuthSignedOut})
	a.mu.Unlock()

	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// StartAutoRefresh refreshes the session refreshLead before it expires and
// announces each refresh as AuthTokenRefreshed. It runs until the returned
// stop function is called or ctx is done.
func (a *AuthClient) StartAutoRefresh(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.refreshLoop(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *AuthClient) refreshLoop(ctx context.Context) {
	const (
		idlePoll   = time.Minute
		retryDelay = 30 * time.Second
	)
	var failed bool
	for {
		wait := idlePoll
		a.mu.Lock()
		if a.session != nil {
			wait = max(a.session.ExpiresAt.Sub(a.clock.Now())-a.refreshLead, 0)
		}
		a.mu.Unlock()
		if failed {
			wait = max(wait, retryDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-a.clock.After(wait):
		}
		err := a.refresh(ctx)
		if failed = err != nil; failed {
			slog.Warn("session refresh failed", "error", err)
		}
	}
}

// refresh replaces a session that is within refreshLead of expiry. A token
// the backend refuses ends the session.
func (a *AuthClient) refresh(ctx context.Context) error {
	a.mu.Lock()
	current := a.session
	a.mu.Unlock()
	if current == nil || a.clock.Now().Before(current.ExpiresAt.Add(-a.refreshLead)) {
		return nil
	}

	next, err := a.auth.Refresh(ctx, current.AccessToken)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			slog.Info("session expired", "user_id", current.UserID)
			return a.SignOut(ctx)
		}
		return err
	}
	if err := a.store.Save(ctx, next.AccessToken); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Signed out or signed in as someone else while refreshing.
	if a.session == nil || a.session.AccessToken != current.AccessToken {
		return nil
	}
	a.session = next
	a.emitLocked(domain.AuthEvent{Type: domain.AuthTokenRefreshed, Session: copySession(next)})
	return nil
}

func (a *AuthClient) emitLocked(ev domain.AuthEvent) {
	for _, ch := range a.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("auth event dropped for slow subscriber", "event", ev.Type)
		}
	}
}

func copySession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// MemorySessionStore keeps the token in memory.
type MemorySessionStore struct {
	mu    sync.Mutex
	token string
}

func (m *MemorySessionStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemorySessionStore) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemorySessionStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// FileSessionStore keeps the token in a file readable only by its owner.
type FileSessionStore struct {
	Path string
}

func (f FileSessionStore) Load(context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (f FileSessionStore) Save(_ context.Context, token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(f.Path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (f FileSessionStore) Clear(context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
