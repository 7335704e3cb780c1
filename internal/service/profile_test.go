package service_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/service"
)

func TestParseStores(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a, b ,,c", []string{"a", "b", "c"}},
		{"", []string{}},
		{" , ,", []string{}},
		{"Beta,Acme", []string{"Beta", "Acme"}},
	}
	for _, tt := range tests {
		got := service.ParseStores(tt.in)
		if got == nil {
			t.Fatalf("ParseStores(%q) returned nil", tt.in)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseStores(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProfileFromRow(t *testing.T) {
	p := service.ProfileFromRow(&domain.ProfileRow{ID: " u1 ", Role: "ADMIN", FullName: " Ana ", Stores: "Acme,"})
	if p.ID != "u1" || p.Role != domain.RoleAdmin || p.FullName != "Ana" || !reflect.DeepEqual(p.Stores, []string{"Acme"}) {
		t.Fatalf("unexpected profile: %+v", p)
	}

	for _, role := range []string{"", "owner", "superuser"} {
		if got := service.ProfileFromRow(&domain.ProfileRow{ID: "u1", Role: role}).Role; got != domain.RoleUser {
			t.Errorf("role %q: expected user, got %s", role, got)
		}
	}
}

func TestProfileService_ResolveMissingRowIsDegraded(t *testing.T) {
	svc := service.NewProfileService(newFakeProfiles(), nil)
	session := &domain.Session{UserID: "u1", Email: "u1@example.com"}

	got := svc.Resolve(context.Background(), session)
	want := &domain.Profile{ID: "u1", Email: "u1@example.com", Role: domain.RoleUser, Stores: []string{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected degraded profile %+v, got %+v", want, got)
	}
}

func TestProfileService_ResolveFallsBackToCache(t *testing.T) {
	repo := newFakeProfiles(domain.ProfileRow{ID: "u1", Role: "admin", Stores: "Acme"})
	svc := service.NewProfileService(repo, nil)
	session := &domain.Session{UserID: "u1", Email: "u1@example.com"}
	ctx := context.Background()

	first := svc.Resolve(ctx, session)
	if first.Role != domain.RoleAdmin || first.Email != "u1@example.com" {
		t.Fatalf("unexpected profile: %+v", first)
	}

	repo.setErr(errBackend)
	if got := svc.Resolve(ctx, session); !reflect.DeepEqual(got.Stores, []string{"Acme"}) || got.Role != domain.RoleAdmin {
		t.Fatalf("expected cached profile, got %+v", got)
	}

	svc.Forget("u1")
	if got := svc.Resolve(ctx, session); got.Role != domain.RoleUser || len(got.Stores) != 0 {
		t.Fatalf("expected degraded profile without cache, got %+v", got)
	}
}

func TestProfileService_FetchErrors(t *testing.T) {
	repo := newFakeProfiles()
	svc := service.NewProfileService(repo, nil)
	ctx := context.Background()

	if _, err := svc.Fetch(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	repo.setErr(errBackend)
	_, err := svc.Fetch(ctx, "u1")
	if !errors.Is(err, domain.ErrProfileFetch) || !errors.Is(err, errBackend) {
		t.Fatalf("expected ErrProfileFetch wrapping the cause, got %v", err)
	}
}

func TestProfileService_FetchCoalescesConcurrentCalls(t *testing.T) {
	repo := newFakeProfiles(domain.ProfileRow{ID: "u1", Stores: "Acme"})
	gate := make(chan struct{})
	repo.setGate(gate)
	svc := service.NewProfileService(repo, nil)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Fetch(context.Background(), "u1"); err != nil {
				t.Errorf("Fetch: %v", err)
			}
		}()
	}
	// Let every caller join the in-flight fetch before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := repo.callCount(); n != 1 {
		t.Fatalf("expected one shared query, got %d", n)
	}
}

func TestProfileService_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	repo := newFakeProfiles(domain.ProfileRow{ID: "u1", Role: "admin", Stores: "Acme"})
	gate := make(chan struct{})
	repo.setGate(gate)
	svc := service.NewProfileService(repo, nil)

	// The first caller starts the query and goes away while it is running.
	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Fetch(ctx, "u1")
		firstErr <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for repo.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("query never started")
		}
		time.Sleep(time.Millisecond)
	}

	resolved := make(chan *domain.Profile, 1)
	go func() {
		resolved <- svc.Resolve(context.Background(), &domain.Session{UserID: "u1", Email: "u1@example.com"})
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, domain.ErrProfileFetch) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to get ErrProfileFetch wrapping context.Canceled, got %v", err)
	}

	close(gate)
	select {
	case p := <-resolved:
		if p.Role != domain.RoleAdmin || !reflect.DeepEqual(p.Stores, []string{"Acme"}) {
			t.Fatalf("live caller got %+v, want the stored admin profile", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve did not return")
	}
	if n := repo.callCount(); n != 1 {
		t.Fatalf("expected one shared query, got %d", n)
	}
}

func TestProfileService_Update(t *testing.T) {
	repo := newFakeProfiles()
	svc := service.NewProfileService(repo, nil)
	ctx := context.Background()

	p, err := svc.Update(ctx, &domain.ProfileRow{ID: "u1", Role: "admin", Stores: " Acme ,, Beta"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !reflect.DeepEqual(p.Stores, []string{"Acme", "Beta"}) {
		t.Fatalf("unexpected stores: %q", p.Stores)
	}
	if stored := repo.rows["u1"].Stores; stored != "Acme, Beta" {
		t.Fatalf("expected normalized store list, got %q", stored)
	}

	if _, err := svc.Update(ctx, &domain.ProfileRow{ID: "u1", Role: "owner"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}
	if _, err := svc.Update(ctx, &domain.ProfileRow{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing id, got %v", err)
	}
}
