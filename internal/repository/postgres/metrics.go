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

// MetricRepository implements domain.MetricSnapshotRepository using Postgres.
type MetricRepository struct {
	pool *pgxpool.Pool
}

const metricColumns = `id, user_id, created_at, store_name, total_apeluri, apeluri_initiate,
 apeluri_primite, rata_conversie, rata_conversie_drafturi, minute_consumate, total_comenzi,
 cosuri_abandonate, cosuri_recuperate, vanzari_generate, comenzi_confirmate, nume_admin`

func (r *MetricRepository) Create(ctx context.Context, m *domain.MetricSnapshot) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO call_metrics (user_id, created_at, store_name, total_apeluri, apeluri_initiate,
		 apeluri_primite, rata_conversie, rata_conversie_drafturi, minute_consumate, total_comenzi,
		 cosuri_abandonate, cosuri_recuperate, vanzari_generate, comenzi_confirmate, nume_admin)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		m.UserID, m.CreatedAt, m.StoreName, m.TotalCalls, m.InitiatedCalls,
		m.ReceivedCalls, m.ConversionRate, m.DraftConversionRate, m.MinutesConsumed, m.TotalOrders,
		m.AbandonedCarts, m.RecoveredCarts, m.GeneratedSales, m.ConfirmedOrders, m.AdminName,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert call metrics: %w", err)
	}
	return nil
}

func (r *MetricRepository) Latest(ctx context.Context, userID, storeName string) (*domain.MetricSnapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+metricColumns+` FROM call_metrics
		 WHERE user_id = $1 AND ($2 = '' OR store_name = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, userID, storeName)
	if err != nil {
		return nil, fmt.Errorf("latest call metrics: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMetric)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("latest call metrics: %w", err)
	}
	return &m, nil
}

func (r *MetricRepository) History(ctx context.Context, userID, storeName string, limit int) ([]domain.MetricSnapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+metricColumns+` FROM call_metrics
		 WHERE user_id = $1 AND ($2 = '' OR store_name = $2)
		 ORDER BY created_at ASC, id ASC
		 LIMIT $3`, userID, storeName, limit)
	if err != nil {
		return nil, fmt.Errorf("call metrics history: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanMetric)
	if err != nil {
		return nil, fmt.Errorf("scan call metrics: %w", err)
	}
	return out, nil
}

func (r *MetricRepository) ListChartSnapshots(ctx context.Context, f domain.RecordingFilter) ([]domain.MetricSnapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT created_at, comenzi_confirmate, cosuri_abandonate, vanzari_generate, total_comenzi
		 FROM call_metrics
		 WHERE user_id = $1 AND store_name = $2 AND created_at >= $3 AND created_at < $4
		 ORDER BY created_at ASC`,
		f.UserID, f.StoreName, f.From, f.To,
	)
	if err != nil {
		return nil, fmt.Errorf("list chart snapshots: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MetricSnapshot, error) {
		var m domain.MetricSnapshot
		err := row.Scan(&m.CreatedAt, &m.ConfirmedOrders, &m.AbandonedCarts, &m.GeneratedSales, &m.TotalOrders)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan chart snapshots: %w", err)
	}
	return out, nil
}

func scanMetric(row pgx.CollectableRow) (domain.MetricSnapshot, error) {
	var m domain.MetricSnapshot
	err := row.Scan(&m.ID, &m.UserID, &m.CreatedAt, &m.StoreName, &m.TotalCalls, &m.InitiatedCalls,
		&m.ReceivedCalls, &m.ConversionRate, &m.DraftConversionRate, &m.MinutesConsumed, &m.TotalOrders,
		&m.AbandonedCarts, &m.RecoveredCarts, &m.GeneratedSales, &m.ConfirmedOrders, &m.AdminName)
	return m, err
}
