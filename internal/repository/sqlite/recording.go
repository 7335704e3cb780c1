package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nanoassist/dashboard/internal/domain"
)

// CallRecordRepository implements domain.CallRecordRepository using SQLite.
type CallRecordRepository struct {
	db  *sql.DB
	pub func(domain.ChangeEvent)
}

// NewCallRecordRepository creates a new SQLite-backed CallRecordRepository.
func NewCallRecordRepository(db *DB) *CallRecordRepository {
	return &CallRecordRepository{db: db.SqlDB, pub: db.publish}
}

func (r *CallRecordRepository) Create(ctx context.Context, rec *domain.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_recordings (user_id, created_at, duration_seconds, recording_url,
		 phone_number, direction, store_name, client_personal_id, recording_transcript, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, formatTime(rec.CreatedAt), rec.DurationSeconds, rec.RecordingURL,
		rec.PhoneNumber, string(rec.Direction), rec.StoreName, rec.ClientPersonalID,
		rec.Transcript, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("insert call recording: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get call recording id: %w", err)
	}
	rec.ID = id

	snapshot := *rec
	r.pub(domain.ChangeEvent{
		Table: domain.TableCallRecordings,
		Event: domain.ChangeInsert,
		Attrs: map[string]string{
			"id":         strconv.FormatInt(id, 10),
			"user_id":    rec.UserID,
			"store_name": rec.StoreName,
		},
		New: &snapshot,
	})
	return nil
}

func (r *CallRecordRepository) GetByID(ctx context.Context, id int64) (*domain.CallRecord, error) {
	var (
		rec     domain.CallRecord
		created string
		dir     string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, duration_seconds, recording_url, phone_number,
		 direction, store_name, client_personal_id, recording_transcript, status
		 FROM call_recordings WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &created, &rec.DurationSeconds, &rec.RecordingURL, &rec.PhoneNumber,
		&dir, &rec.StoreName, &rec.ClientPersonalID, &rec.Transcript, &rec.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get call recording: %w", err)
	}
	rec.Direction = domain.Direction(dir)
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *CallRecordRepository) List(ctx context.Context, f domain.RecordingFilter, limit, offset int) ([]domain.CallRecord, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_recordings
		 WHERE user_id = ? AND store_name = ? AND created_at >= ? AND created_at < ?`,
		f.UserID, f.StoreName, formatTime(f.From), formatTime(f.To),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count call recordings: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, created_at, duration_seconds, recording_url, phone_number,
		 direction, store_name, client_personal_id, status
		 FROM call_recordings
		 WHERE user_id = ? AND store_name = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		f.UserID, f.StoreName, formatTime(f.From), formatTime(f.To), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list call recordings: %w", err)
	}
	defer rows.Close()

	var out []domain.CallRecord
	for rows.Next() {
		var (
			rec     domain.CallRecord
			created string
			dir     string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &created, &rec.DurationSeconds, &rec.RecordingURL,
			&rec.PhoneNumber, &dir, &rec.StoreName, &rec.ClientPersonalID, &rec.Status); err != nil {
			return nil, 0, fmt.Errorf("scan call recording: %w", err)
		}
		rec.Direction = domain.Direction(dir)
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate call recordings: %w", err)
	}
	return out, total, nil
}

func (r *CallRecordRepository) ListTimestamps(ctx context.Context, f domain.RecordingFilter) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT created_at FROM call_recordings
		 WHERE user_id = ? AND store_name = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC`,
		f.UserID, f.StoreName, formatTime(f.From), formatTime(f.To),
	)
	if err != nil {
		return nil, fmt.Errorf("list call timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var created string
		if err := rows.Scan(&created); err != nil {
			return nil, fmt.Errorf("scan call timestamp: %w", err)
		}
		t, err := parseTime(created)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
