package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/instrument"
)

const defaultFetchTimeout = 10 * time.Second

// ProfileService resolves the profile of a user. Profiles are keyed by user
// ID only; the email on a session is never used as a lookup key.
type ProfileService struct {
	profiles domain.ProfileRepository
	metrics  *instrument.Metrics
	group    singleflight.Group
	// fetchTimeout bounds a shared query, which outlives its callers.
	fetchTimeout time.Duration

	mu    sync.RWMutex
	cache map[string]domain.Profile // last good profile per user; advisory only
}

func NewProfileService(profiles domain.ProfileRepository, metrics *instrument.Metrics) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		metrics:  metrics,
		cache:    make(map[string]domain.Profile),

		fetchTimeout: defaultFetchTimeout,
	}
}

// Fetch loads the profile row of userID. It returns domain.ErrNotFound when
// the row does not exist and an error wrapping domain.ErrProfileFetch for
// any other failure. Concurrent fetches of the same user share one query.
// The shared query is not bound to any single caller: a caller whose ctx
// ends stops waiting without failing the others.
func (s *ProfileService) Fetch(ctx context.Context, userID string) (*domain.Profile, error) {
	queryCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(userID, func() (any, error) {
		qctx, cancel := context.WithTimeout(queryCtx, s.fetchTimeout)
		defer cancel()
		row, err := s.profiles.GetByID(qctx, userID)
		if err != nil {
			return nil, err
		}
		p := ProfileFromRow(row)
		s.remember(p)
		return p, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrProfileFetch, ctx.Err())
	}
	if res.Err != nil {
		if errors.Is(res.Err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrProfileFetch, res.Err)
	}
	p := res.Val.(domain.Profile)
	p.Stores = slices.Clone(p.Stores)
	return &p, nil
}

// Resolve returns the profile for the session's user and never fails. A
// missing row yields the degraded profile; a failed fetch yields the cached
// profile if there is one and the degraded profile otherwise.
func (s *ProfileService) Resolve(ctx context.Context, session *domain.Session) *domain.Profile {
	p, err := s.Fetch(ctx, session.UserID)
	switch {
	case err == nil:
		if p.Email == "" {
			p.Email = session.Email
		}
		return p
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.ProfileFallback("missing")
		return DegradedProfile(session)
	}

	slog.Warn("profile fetch failed, using fallback", "user_id", session.UserID, "error", err)
	if cached, ok := s.cached(session.UserID); ok {
		s.metrics.ProfileFallback("cache")
		return cached
	}
	s.metrics.ProfileFallback("degraded")
	return DegradedProfile(session)
}

// Update validates and stores an edited profile row. Subscribers of the
// profile's changes are notified by the storage layer.
func (s *ProfileService) Update(ctx context.Context, row *domain.ProfileRow) (*domain.Profile, error) {
	row.ID = strings.TrimSpace(row.ID)
	if row.ID == "" {
		return nil, fmt.Errorf("%w: profile id is required", domain.ErrInvalidInput)
	}
	switch domain.Role(row.Role) {
	case domain.RoleAdmin, domain.RoleUser:
	case "":
		row.Role = string(domain.RoleUser)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, row.Role)
	}
	// Normalize the stored list so every reader sees the same spelling.
	row.Stores = strings.Join(ParseStores(row.Stores), ", ")

	if err := s.profiles.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	p := ProfileFromRow(row)
	s.remember(p)
	return &p, nil
}

// List returns every profile, ordered by email.
func (s *ProfileService) List(ctx context.Context) ([]domain.Profile, error) {
	rows, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]domain.Profile, 0, len(rows))
	for i := range rows {
		out = append(out, ProfileFromRow(&rows[i]))
	}
	return out, nil
}

// Remember records p as the last known profile of its user.
func (s *ProfileService) Remember(p *domain.Profile) {
	if p != nil {
		s.remember(*p)
	}
}

// Forget drops the cached profile of userID.
func (s *ProfileService) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, userID)
}

func (s *ProfileService) remember(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[p.ID] = p
}

func (s *ProfileService) cached(userID string) (*domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[userID]
	if !ok {
		return nil, false
	}
	p.Stores = slices.Clone(p.Stores)
	return &p, true
}

// ProfileFromRow validates a stored row into a profile. Unknown roles become
// RoleUser and text fields are trimmed.
func ProfileFromRow(row *domain.ProfileRow) domain.Profile {
	role := domain.Role(strings.ToLower(strings.TrimSpace(row.Role)))
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}
	return domain.Profile{
		ID:        strings.TrimSpace(row.ID),
		Email:     strings.TrimSpace(row.Email),
		Role:      role,
		FullName:  strings.TrimSpace(row.FullName),
		AvatarURL: strings.TrimSpace(row.AvatarURL),
		Stores:    ParseStores(row.Stores),
	}
}

// DegradedProfile is the minimal profile used when none can be loaded.
func DegradedProfile(session *domain.Session) *domain.Profile {
	return &domain.Profile{
		ID:     session.UserID,
		Email:  session.Email,
		Role:   domain.RoleUser,
		Stores: []string{},
	}
}
