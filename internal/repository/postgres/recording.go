package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nanoassist/dashboard/internal/domain"
)

// CallRecordRepository implements domain.CallRecordRepository using Postgres.
type CallRecordRepository struct {
	pool *pgxpool.Pool
}

func (r *CallRecordRepository) Create(ctx context.Context, rec *domain.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO call_recordings (user_id, created_at, duration_seconds, recording_url,
		 phone_number, direction, store_name, client_personal_id, recording_transcript, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		rec.UserID, rec.CreatedAt, rec.DurationSeconds, rec.RecordingURL, rec.PhoneNumber,
		string(rec.Direction), rec.StoreName, rec.ClientPersonalID, rec.Transcript, rec.Status,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert call recording: %w", err)
	}
	return nil
}

func (r *CallRecordRepository) GetByID(ctx context.Context, id int64) (*domain.CallRecord, error) {
	var (
		rec domain.CallRecord
		dir string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at, duration_seconds, recording_url, phone_number,
		 direction, store_name, client_personal_id, recording_transcript, status
		 FROM call_recordings WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.CreatedAt, &rec.DurationSeconds, &rec.RecordingURL, &rec.PhoneNumber,
		&dir, &rec.StoreName, &rec.ClientPersonalID, &rec.Transcript, &rec.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get call recording: %w", err)
	}
	rec.Direction = domain.Direction(dir)
	return &rec, nil
}

// List counts with a window function so that the page and its total come
// from one snapshot.
func (r *CallRecordRepository) List(ctx context.Context, f domain.RecordingFilter, limit, offset int) ([]domain.CallRecord, int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, created_at, duration_seconds, recording_url, phone_number,
		 direction, store_name, client_personal_id, status, count(*) OVER ()
		 FROM call_recordings
		 WHERE user_id = $1 AND store_name = $2 AND created_at >= $3 AND created_at < $4
		 ORDER BY created_at DESC, id DESC
		 LIMIT $5 OFFSET $6`,
		f.UserID, f.StoreName, f.From, f.To, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list call recordings: %w", err)
	}
	defer rows.Close()

	var (
		out   []domain.CallRecord
		total int
	)
	for rows.Next() {
		var (
			rec domain.CallRecord
			dir string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.CreatedAt, &rec.DurationSeconds, &rec.RecordingURL,
			&rec.PhoneNumber, &dir, &rec.StoreName, &rec.ClientPersonalID, &rec.Status, &total); err != nil {
			return nil, 0, fmt.Errorf("scan call recording: %w", err)
		}
		rec.Direction = domain.Direction(dir)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate call recordings: %w", err)
	}

	// A page past the end carries no rows, and with them no total.
	if len(out) == 0 && offset > 0 {
		if err := r.pool.QueryRow(ctx,
			`SELECT count(*) FROM call_recordings
			 WHERE user_id = $1 AND store_name = $2 AND created_at >= $3 AND created_at < $4`,
			f.UserID, f.StoreName, f.From, f.To,
		).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count call recordings: %w", err)
		}
	}
	return out, total, nil
}

func (r *CallRecordRepository) ListTimestamps(ctx context.Context, f domain.RecordingFilter) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT created_at FROM call_recordings
		 WHERE user_id = $1 AND store_name = $2 AND created_at >= $3 AND created_at < $4
		 ORDER BY created_at ASC`,
		f.UserID, f.StoreName, f.From, f.To,
	)
	if err != nil {
		return nil, fmt.Errorf("list call timestamps: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scan call timestamps: %w", err)
	}
	return out, nil
}
