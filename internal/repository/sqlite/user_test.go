package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/repository/sqlite"
)

func TestUserRepository_Create(t *testing.T) {
	db := newTestDB(t)
	repo := sqlite.NewUserRepository(db)
	ctx := context.Background()

	user := &domain.User{Email: "test@example.com", PasswordHash: "hashedpw"}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if user.ID == "" {
		t.Fatal("expected user ID to be set after create")
	}
	if user.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}
}

func TestUserRepository_Create_KeepsGivenID(t *testing.T) {
	db := newTestDB(t)
	repo := sqlite.NewUserRepository(db)
	ctx := context.Background()

	user := &domain.User{ID: "a9b05492-7393-4c77-a895-015b2c12781b", Email: "fixed@example.com", PasswordHash: "h"}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, "a9b05492-7393-4c77-a895-015b2c12781b")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Email != "fixed@example.com" {
		t.Fatalf("expected fixed@example.com, got %s", got.Email)
	}
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	repo := sqlite.NewUserRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &domain.User{Email: "dup@example.com", PasswordHash: "hash1"}); err != nil {
		t.Fatalf("Create first: %v", err)
	}

	err := repo.Create(ctx, &domain.User{Email: "dup@example.com", PasswordHash: "hash2"})
	if !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db := newTestDB(t)
	repo := sqlite.NewUserRepository(db)
	ctx := context.Background()

	user := &domain.User{Email: "find@example.com", PasswordHash: "hash"}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByEmail(ctx, "find@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected ID %s, got %s", user.ID, got.ID)
	}
	if got.PasswordHash != "hash" {
		t.Fatalf("expected password hash to round-trip, got %q", got.PasswordHash)
	}
}

func TestUserRepository_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := sqlite.NewUserRepository(db)
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound by id, got %v", err)
	}
	if _, err := repo.GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound by email, got %v", err)
	}
}
