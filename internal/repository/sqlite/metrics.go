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

// MetricRepository implements domain.MetricSnapshotRepository using SQLite.
type MetricRepository struct {
	db  *sql.DB
	pub func(domain.ChangeEvent)
}

// NewMetricRepository creates a new SQLite-backed MetricRepository.
func NewMetricRepository(db *DB) *MetricRepository {
	return &MetricRepository{db: db.SqlDB, pub: db.publish}
}

const metricColumns = `id, user_id, created_at, store_name, total_apeluri, apeluri_initiate,
 apeluri_primite, rata_conversie, rata_conversie_drafturi, minute_consumate, total_comenzi,
 cosuri_abandonate, cosuri_recuperate, vanzari_generate, comenzi_confirmate, nume_admin`

func (r *MetricRepository) Create(ctx context.Context, m *domain.MetricSnapshot) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_metrics (user_id, created_at, store_name, total_apeluri, apeluri_initiate,
		 apeluri_primite, rata_conversie, rata_conversie_drafturi, minute_consumate, total_comenzi,
		 cosuri_abandonate, cosuri_recuperate, vanzari_generate, comenzi_confirmate, nume_admin)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, formatTime(m.CreatedAt), m.StoreName, m.TotalCalls, m.InitiatedCalls,
		m.ReceivedCalls, m.ConversionRate, m.DraftConversionRate, m.MinutesConsumed, m.TotalOrders,
		m.AbandonedCarts, m.RecoveredCarts, m.GeneratedSales, m.ConfirmedOrders, m.AdminName,
	)
	if err != nil {
		return fmt.Errorf("insert call metrics: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get call metrics id: %w", err)
	}
	m.ID = id

	snapshot := *m
	r.pub(domain.ChangeEvent{
		Table: domain.TableCallMetrics,
		Event: domain.ChangeInsert,
		Attrs: map[string]string{
			"id":         strconv.FormatInt(id, 10),
			"user_id":    m.UserID,
			"store_name": m.StoreName,
		},
		New: &snapshot,
	})
	return nil
}

func (r *MetricRepository) Latest(ctx context.Context, userID, storeName string) (*domain.MetricSnapshot, error) {
	m, err := scanMetric(r.db.QueryRowContext(ctx,
		`SELECT `+metricColumns+` FROM call_metrics
		 WHERE user_id = ? AND (? = '' OR store_name = ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, userID, storeName, storeName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("latest call metrics: %w", err)
	}
	return m, nil
}

func (r *MetricRepository) History(ctx context.Context, userID, storeName string, limit int) ([]domain.MetricSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+metricColumns+` FROM call_metrics
		 WHERE user_id = ? AND (? = '' OR store_name = ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`, userID, storeName, storeName, limit)
	if err != nil {
		return nil, fmt.Errorf("call metrics history: %w", err)
	}
	defer rows.Close()

	var out []domain.MetricSnapshot
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call metrics: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MetricRepository) ListChartSnapshots(ctx context.Context, f domain.RecordingFilter) ([]domain.MetricSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT created_at, comenzi_confirmate, cosuri_abandonate, vanzari_generate, total_comenzi
		 FROM call_metrics
		 WHERE user_id = ? AND store_name = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC`,
		f.UserID, f.StoreName, formatTime(f.From), formatTime(f.To),
	)
	if err != nil {
		return nil, fmt.Errorf("list chart snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.MetricSnapshot
	for rows.Next() {
		var (
			m       domain.MetricSnapshot
			created string
		)
		if err := rows.Scan(&created, &m.ConfirmedOrders, &m.AbandonedCarts, &m.GeneratedSales, &m.TotalOrders); err != nil {
			return nil, fmt.Errorf("scan chart snapshot: %w", err)
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMetric(s scanner) (*domain.MetricSnapshot, error) {
	var (
		m       domain.MetricSnapshot
		created string
	)
	err := s.Scan(&m.ID, &m.UserID, &created, &m.StoreName, &m.TotalCalls, &m.InitiatedCalls,
		&m.ReceivedCalls, &m.ConversionRate, &m.DraftConversionRate, &m.MinutesConsumed, &m.TotalOrders,
		&m.AbandonedCarts, &m.RecoveredCarts, &m.GeneratedSales, &m.ConfirmedOrders, &m.AdminName)
	if err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}
