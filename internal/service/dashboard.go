package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nanoassist/dashboard/internal/domain"
)

const defaultHistoryDays = 7

// DashboardService serves the metric snapshot widgets.
type DashboardService struct {
	repo domain.MetricSnapshotRepository
}

func NewDashboardService(repo domain.MetricSnapshotRepository) *DashboardService {
	return &DashboardService{repo: repo}
}

// Latest returns the newest snapshot, or nil when the user has none. An
// empty store matches every store.
func (s *DashboardService) Latest(ctx context.Context, userID, storeName string) (*domain.MetricSnapshot, error) {
	m, err := s.repo.Latest(ctx, userID, storeName)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQuery, err)
	}
	return m, nil
}

// History returns up to days snapshots, oldest first.
func (s *DashboardService) History(ctx context.Context, userID, storeName string, days int) ([]domain.MetricSnapshot, error) {
	if days <= 0 {
		days = defaultHistoryDays
	}
	out, err := s.repo.History(ctx, userID, storeName, days)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQuery, err)
	}
	if out == nil {
		out = []domain.MetricSnapshot{}
	}
	return out, nil
}

// Record stores an ingested snapshot.
func (s *DashboardService) Record(ctx context.Context, m *domain.MetricSnapshot) error {
	m.StoreName = strings.TrimSpace(m.StoreName)
	if m.UserID == "" || m.StoreName == "" {
		return fmt.Errorf("%w: user_id and store_name are required", domain.ErrInvalidInput)
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return fmt.Errorf("record call metrics: %w", err)
	}
	return nil
}
