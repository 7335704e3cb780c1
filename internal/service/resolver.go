package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/instrument"
)

const (
	defaultBootstrapTimeout = 3 * time.Second
	defaultSignOutTimeout   = 5 * time.Second
)

// ResolverState is the authentication state of a Resolver.
type ResolverState int

const (
	StateUnauthenticated ResolverState = iota
	StateSessionPending
	StateAuthenticated
)

func (s ResolverState) String() string {
	switch s {
	case StateSessionPending:
		return "session_pending"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unauthenticated"
}

// ResolverSnapshot is a consistent view of a Resolver at one instant.
type ResolverSnapshot struct {
	State   ResolverState
	Session *domain.Session
	Profile *domain.Profile
	Loading bool
}

// Resolver owns the current session and the profile of its user. It merges
// the initial session lookup, auth transitions and realtime edits of the
// profile row into one consistent state.
//
// Every change of the session's user bumps a generation counter; profile
// fetches started under an older generation are discarded when they finish.
type Resolver struct {
	auth             domain.AuthProvider
	profiles         *ProfileService
	feed             domain.ChangeFeed
	clock            clock.Clock
	metrics          *instrument.Metrics
	bootstrapTimeout time.Duration
	signOutTimeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	started    bool
	stopped    bool
	session    *domain.Session
	profile    *domain.Profile
	loading    bool
	ready      chan struct{} // closed when loading turns false
	generation uint64
	watchdog   clock.Timer
	unsubAuth  func()
	sub        domain.Subscription
	subUser    string
	updates    chan ResolverSnapshot
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

func WithResolverClock(c clock.Clock) ResolverOption {
	return func(r *Resolver) { r.clock = c }
}

// WithBootstrapTimeout bounds how long Loading stays true after Init.
func WithBootstrapTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.bootstrapTimeout = d }
}

// WithSignOutTimeout bounds the remote sign-out call.
func WithSignOutTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.signOutTimeout = d }
}

func WithResolverMetrics(m *instrument.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(auth domain.AuthProvider, profiles *ProfileService, feed domain.ChangeFeed, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		auth:             auth,
		profiles:         profiles,
		feed:             feed,
		clock:            clock.Real(),
		bootstrapTimeout: defaultBootstrapTimeout,
		signOutTimeout:   defaultSignOutTimeout,
		loading:          true,
		ready:            make(chan struct{}),
		updates:          make(chan ResolverSnapshot, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init starts the bootstrap: it subscribes to auth transitions, looks up the
// current session in the background and arms the watchdog that ends the
// loading phase after the bootstrap timeout. Init does not block.
func (r *Resolver) Init(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	events, unsub := r.auth.OnAuthStateChange()
	r.unsubAuth = unsub
	r.watchdog = r.clock.AfterFunc(r.bootstrapTimeout, r.watchdogFired)

	gen := r.generation
	r.spawnLocked(func() { r.bootstrap(gen) })
	r.spawnLocked(func() { r.consumeAuth(events) })
}

// Teardown ends every subscription and waits for background work to stop.
// The Updates channel is closed afterwards.
func (r *Resolver) Teardown() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	unsubAuth, sub := r.unsubAuth, r.sub
	r.sub, r.subUser = nil, ""
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubAuth != nil {
		unsubAuth()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	r.wg.Wait()

	r.mu.Lock()
	close(r.updates)
	r.mu.Unlock()
}

func (r *Resolver) CurrentSession() *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copySession(r.session)
}

// CurrentProfile returns nil only while the profile is unresolved.
func (r *Resolver) CurrentProfile() *domain.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyProfile(r.profile)
}

func (r *Resolver) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

func (r *Resolver) State() ResolverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Resolver) Snapshot() ResolverSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Updates delivers a snapshot after every change. Only the most recent
// undelivered snapshot is kept.
func (r *Resolver) Updates() <-chan ResolverSnapshot {
	return r.updates
}

// WaitReady blocks until the loading phase is over or ctx is done.
func (r *Resolver) WaitReady(ctx context.Context) error {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshProfile re-reads the profile of the current session's user. It is
// a no-op without a session. A failed read keeps the previous profile and
// returns an error wrapping domain.ErrProfileFetch. A missing row keeps the
// previous profile too, or installs the degraded one if there is none.
func (r *Resolver) RefreshProfile(ctx context.Context) error {
	r.mu.Lock()
	session, gen := copySession(r.session), r.generation
	r.mu.Unlock()
	if session == nil {
		return nil
	}

	p, err := r.profiles.Fetch(ctx, session.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.generation == gen && r.profile == nil {
			r.profile = DegradedProfile(session)
			r.notifyLocked()
		}
		return nil
	case err != nil:
		slog.Error("failed to refresh profile", "user_id", session.UserID, "error", err)
		return err
	}
	if p.Email == "" {
		p.Email = session.Email
	}
	r.applyProfile(gen, session.UserID, p)
	return nil
}

// SignIn signs in with credentials and resolves the new user's profile
// before returning. Credential failures wrap domain.ErrAuth.
func (r *Resolver) SignIn(ctx context.Context, email, password string) error {
	session, err := r.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		if !errors.Is(err, domain.ErrAuth) {
			err = fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}
		return err
	}
	gen, fetch := r.setSession(session)
	r.syncSubscription()
	if fetch {
		r.applyProfile(gen, session.UserID, r.profiles.Resolve(ctx, session))
	}
	r.finishLoading()
	return nil
}

// SignOut clears the session and profile at once, then signs out remotely.
// The remote call is bounded by the sign-out timeout; its failure is logged
// and returned but never restores the local session.
func (r *Resolver) SignOut(ctx context.Context) error {
	r.clearSession()
	r.syncSubscription()
	r.finishLoading()

	ctx, cancel := context.WithTimeout(ctx, r.signOutTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.auth.SignOut(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		slog.Error("remote sign out failed", "error", err)
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func (r *Resolver) bootstrap(gen uint64) {
	defer r.finishLoading()

	session, err := r.auth.GetSession(r.ctx)
	if err != nil {
		slog.Error("auth initialization failed", "error", err)
		return
	}

	// An auth transition that arrived first is more recent.
	if session == nil {
		r.clearSessionAt(gen)
		return
	}
	gen, fetch, ok := r.setSessionAt(gen, session)
	if !ok {
		return
	}
	r.syncSubscription()
	if fetch {
		r.applyProfile(gen, session.UserID, r.profiles.Resolve(r.ctx, session))
	}
}

func (r *Resolver) consumeAuth(events <-chan domain.AuthEvent) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handleAuthEvent(ev)
		}
	}
}

func (r *Resolver) handleAuthEvent(ev domain.AuthEvent) {
	switch ev.Type {
	case domain.AuthSignedOut:
		r.clearSession()
		r.syncSubscription()
		r.finishLoading()

	case domain.AuthSignedIn, domain.AuthTokenRefreshed:
		if ev.Session == nil {
			return
		}
		session := copySession(ev.Session)
		gen, fetch := r.setSession(session)
		r.syncSubscription()
		if !fetch {
			r.finishLoading()
			return
		}
		// Fetch off the event loop so a slow remote cannot hold back a
		// following sign-out.
		r.spawn(func() {
			defer r.finishLoading()
			r.applyProfile(gen, session.UserID, r.profiles.Resolve(r.ctx, session))
		})

	default:
		slog.Debug("ignoring auth event", "type", ev.Type)
	}
}

// setSession installs session and reports the generation it belongs to and
// whether its profile still has to be fetched.
func (r *Resolver) setSession(session *domain.Session) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setSessionLocked(session)
}

// setSessionAt is setSession for a result computed under generation want.
// It changes nothing and reports false once the generation has moved on.
func (r *Resolver) setSessionAt(want uint64, session *domain.Session) (uint64, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != want {
		return r.generation, false, false
	}
	gen, fetch := r.setSessionLocked(session)
	return gen, fetch, true
}

func (r *Resolver) setSessionLocked(session *domain.Session) (uint64, bool) {
	if r.session == nil || r.session.UserID != session.UserID {
		r.generation++
		r.profile = nil
	}
	r.session = copySession(session)
	r.notifyLocked()
	return r.generation, r.profile == nil
}

func (r *Resolver) clearSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearSessionLocked()
}

// clearSessionAt clears the session only if the generation is still want.
func (r *Resolver) clearSessionAt(want uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation == want {
		r.clearSessionLocked()
	}
}

// clearSessionLocked also drops the signed-out user's cached profile, so a
// later failed fetch cannot serve it.
func (r *Resolver) clearSessionLocked() {
	if r.session != nil {
		r.profiles.Forget(r.session.UserID)
	}
	r.generation++
	r.session = nil
	r.profile = nil
	r.notifyLocked()
}

// applyProfile installs p unless the session it was resolved for has been
// replaced in the meantime.
func (r *Resolver) applyProfile(gen uint64, userID string, p *domain.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen || r.session == nil || r.session.UserID != userID {
		slog.Debug("discarding stale profile", "user_id", userID)
		return
	}
	r.profile = copyProfile(p)
	r.notifyLocked()
}

func (r *Resolver) finishLoading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLoadingLocked()
}

func (r *Resolver) finishLoadingLocked() {
	if !r.loading {
		return
	}
	r.loading = false
	close(r.ready)
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	r.notifyLocked()
}

func (r *Resolver) watchdogFired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loading {
		return
	}
	slog.Warn("session bootstrap timed out", "timeout", r.bootstrapTimeout)
	r.metrics.WatchdogFired()
	r.finishLoadingLocked()
}

// syncSubscription keeps exactly one realtime subscription on the profile
// row of the current session's user.
func (r *Resolver) syncSubscription() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.mu.Unlock()
		return
	}
	want := ""
	if r.session != nil {
		want = r.session.UserID
	}
	if want == r.subUser {
		r.mu.Unlock()
		return
	}
	old := r.sub
	r.sub, r.subUser = nil, want
	r.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	if want == "" {
		return
	}

	sub, err := r.feed.Subscribe(r.ctx, domain.ChangeFilter{
		Table:  domain.TableProfiles,
		Column: "id",
		Value:  want,
		Events: []domain.ChangeType{domain.ChangeInsert, domain.ChangeUpdate},
	})
	if err != nil {
		slog.Warn("profile subscription failed", "user_id", want, "error", err)
		r.mu.Lock()
		if r.subUser == want {
			r.subUser = ""
		}
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.subUser != want || r.sub != nil {
		// Superseded while subscribing.
		sub.Unsubscribe()
		return
	}
	r.sub = sub
	r.spawnLocked(func() { r.consumeProfile(sub, want) })
}

func (r *Resolver) consumeProfile(sub domain.Subscription, userID string) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			row, ok := ev.New.(*domain.ProfileRow)
			if !ok {
				slog.Warn("unexpected profile change payload", "type", fmt.Sprintf("%T", ev.New))
				continue
			}
			p := ProfileFromRow(row)
			if p.ID != userID {
				continue
			}
			r.mu.Lock()
			if r.session != nil && r.session.UserID == userID {
				if p.Email == "" {
					p.Email = r.session.Email
				}
				r.profile = &p
				r.notifyLocked()
			}
			r.mu.Unlock()
			r.profiles.Remember(&p)
		}
	}
}

func (r *Resolver) spawn(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawnLocked(f)
}

// spawnLocked runs f in a goroutine Teardown waits for. It does nothing
// once Teardown has begun.
func (r *Resolver) spawnLocked(f func()) {
	if r.stopped {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		f()
	}()
}

func (r *Resolver) stateLocked() ResolverState {
	switch {
	case r.session == nil:
		return StateUnauthenticated
	case r.profile == nil:
		return StateSessionPending
	}
	return StateAuthenticated
}

func (r *Resolver) snapshotLocked() ResolverSnapshot {
	return ResolverSnapshot{
		State:   r.stateLocked(),
		Session: copySession(r.session),
		Profile: copyProfile(r.profile),
		Loading: r.loading,
	}
}

func (r *Resolver) notifyLocked() {
	if r.stopped {
		return
	}
	snap := r.snapshotLocked()
	select {
	case r.updates <- snap:
		return
	default:
	}
	// Replace the undelivered snapshot with the newer one.
	select {
	case <-r.updates:
	default:
	}
	select {
	case r.updates <- snap:
	default:
	}
}

func copyProfile(p *domain.Profile) *domain.Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Stores = append([]string{}, p.Stores...)
	return &c
}
