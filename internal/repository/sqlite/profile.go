package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nanoassist/dashboard/internal/domain"
)

// ProfileRepository implements domain.ProfileRepository using SQLite.
type ProfileRepository struct {
	db  *sql.DB
	pub func(domain.ChangeEvent)
}

// NewProfileRepository creates a new SQLite-backed ProfileRepository.
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db.SqlDB, pub: db.publish}
}

const profileColumns = `id, email, role, full_name, avatar_url, stores, updated_at`

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	row, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return row, nil
}

// Upsert inserts the row or replaces every column of an existing one, then
// publishes the change.
func (r *ProfileRepository) Upsert(ctx context.Context, row *domain.ProfileRow) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE id = ?)`, row.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check profile: %w", err)
	}

	row.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   email = excluded.email,
		   role = excluded.role,
		   full_name = excluded.full_name,
		   avatar_url = excluded.avatar_url,
		   stores = excluded.stores,
		   updated_at = excluded.updated_at`,
		row.ID, row.Email, row.Role, row.FullName, row.AvatarURL, row.Stores, formatTime(row.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	event := domain.ChangeInsert
	if exists {
		event = domain.ChangeUpdate
	}
	snapshot := *row
	r.pub(domain.ChangeEvent{
		Table: domain.TableProfiles,
		Event: event,
		Attrs: map[string]string{"id": row.ID},
		New:   &snapshot,
	})
	return nil
}

func (r *ProfileRepository) List(ctx context.Context) ([]domain.ProfileRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.ProfileRow
	for rows.Next() {
		row, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(s scanner) (*domain.ProfileRow, error) {
	var (
		row     domain.ProfileRow
		updated string
	)
	if err := s.Scan(&row.ID, &row.Email, &row.Role, &row.FullName, &row.AvatarURL, &row.Stores, &updated); err != nil {
		return nil, err
	}
	t, err := parseTime(updated)
	if err != nil {
		return nil, err
	}
	row.UpdatedAt = t
	return &row, nil
}
