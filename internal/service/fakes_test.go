package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nanoassist/dashboard/internal/domain"
)

// fakeAuth is a scriptable domain.AuthProvider.
type fakeAuth struct {
	mu           sync.Mutex
	session      *domain.Session
	getErr       error
	getGate      chan struct{} // GetSession waits for it when set
	signOutGate  chan struct{} // SignOut hangs on it when set, ignoring ctx
	signOutCalls int
	events       chan domain.AuthEvent
}

func newFakeAuth(session *domain.Session) *fakeAuth {
	return &fakeAuth{session: session, events: make(chan domain.AuthEvent, 8)}
}

func (f *fakeAuth) GetSession(ctx context.Context) (*domain.Session, error) {
	f.mu.Lock()
	gate := f.getGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *fakeAuth) OnAuthStateChange() (<-chan domain.AuthEvent, func()) {
	return f.events, func() {}
}

func (f *fakeAuth) SignInWithPassword(_ context.Context, email, password string) (*domain.Session, error) {
	if password != "secret" {
		return nil, fmt.Errorf("%w: invalid email or password", domain.ErrAuth)
	}
	s := &domain.Session{AccessToken: "tok-" + email, UserID: "id-" + email, Email: email}
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	return s, nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	gate := f.signOutGate
	f.session = nil
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

// fakeProfiles is an in-memory domain.ProfileRepository whose reads can be
// made to fail or block.
type fakeProfiles struct {
	mu    sync.Mutex
	rows  map[string]domain.ProfileRow
	err   error
	gate  chan struct{}
	calls int
}

func newFakeProfiles(rows ...domain.ProfileRow) *fakeProfiles {
	f := &fakeProfiles{rows: make(map[string]domain.ProfileRow)}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeProfiles) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeProfiles) setGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *fakeProfiles) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProfiles) GetByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (f *fakeProfiles) Upsert(_ context.Context, row *domain.ProfileRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows[row.ID] = *row
	return nil
}

func (f *fakeProfiles) List(context.Context) ([]domain.ProfileRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ProfileRow, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

var errBackend = errors.New("backend unavailable")
