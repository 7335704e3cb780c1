package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nanoassist/dashboard/internal/domain"
)

// ProfileRepository implements domain.ProfileRepository using Postgres.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

const profileColumns = `id, email, role, full_name, avatar_url, stores, updated_at`

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	var row domain.ProfileRow
	err := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id).
		Scan(&row.ID, &row.Email, &row.Role, &row.FullName, &row.AvatarURL, &row.Stores, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return &row, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, row *domain.ProfileRow) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO profiles (id, email, role, full_name, avatar_url, stores, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (id) DO UPDATE SET
		   email = excluded.email,
		   role = excluded.role,
		   full_name = excluded.full_name,
		   avatar_url = excluded.avatar_url,
		   stores = excluded.stores,
		   updated_at = excluded.updated_at
		 RETURNING updated_at`,
		row.ID, row.Email, row.Role, row.FullName, row.AvatarURL, row.Stores,
	).Scan(&row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *ProfileRepository) List(ctx context.Context) ([]domain.ProfileRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProfileRow, error) {
		var p domain.ProfileRow
		err := row.Scan(&p.ID, &p.Email, &p.Role, &p.FullName, &p.AvatarURL, &p.Stores, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}
	return out, nil
}
