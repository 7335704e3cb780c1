package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nanoassist/dashboard/internal/domain"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// RecordingQuery selects one page of a store's call records between two
// calendar dates, both inclusive.
type RecordingQuery struct {
	UserID    string
	StoreName string
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
	Page      int    // 1-based
	PageSize  int
}

// RecordingPage is one page of call records, newest first.
type RecordingPage struct {
	Records    []domain.CallRecord `json:"records"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	TotalPages int                 `json:"totalPages"`
}

// RecordingService browses and ingests call records.
type RecordingService struct {
	repo domain.CallRecordRepository
	loc  *time.Location
}

func NewRecordingService(repo domain.CallRecordRepository, loc *time.Location) *RecordingService {
	if loc == nil {
		loc = time.Local
	}
	return &RecordingService{repo: repo, loc: loc}
}

// PageOffset returns the number of rows before the given 1-based page.
func PageOffset(page, size int) int {
	return (page - 1) * size
}

// List returns the requested page. Dates are taken as local calendar days:
// the range starts at 00:00:00 of StartDate and ends after 23:59:59 of
// EndDate.
func (s *RecordingService) List(ctx context.Context, q RecordingQuery) (*RecordingPage, error) {
	if q.UserID == "" || strings.TrimSpace(q.StoreName) == "" {
		return nil, fmt.Errorf("%w: user and store are required", domain.ErrInvalidInput)
	}
	start, err := time.ParseInLocation(dateKeyLayout, q.StartDate, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: start date %q", domain.ErrInvalidInput, q.StartDate)
	}
	end, err := time.ParseInLocation(dateKeyLayout, q.EndDate, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: end date %q", domain.ErrInvalidInput, q.EndDate)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date before start date", domain.ErrInvalidInput)
	}

	page := max(q.Page, 1)
	size := q.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	if page-1 > math.MaxInt/size {
		return nil, fmt.Errorf("%w: page %d out of range", domain.ErrInvalidInput, q.Page)
	}

	filter := domain.RecordingFilter{
		UserID:    q.UserID,
		StoreName: q.StoreName,
		From:      start,
		To:        end.AddDate(0, 0, 1),
	}
	records, total, err := s.repo.List(ctx, filter, size, PageOffset(page, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQuery, err)
	}
	if records == nil {
		records = []domain.CallRecord{}
	}
	return &RecordingPage{
		Records:    records,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: (total + size - 1) / size,
	}, nil
}

// Get returns one record of userID including its transcript. Records of
// other users are reported as not found.
func (s *RecordingService) Get(ctx context.Context, userID string, id int64) (*domain.CallRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Create stores an ingested call record.
func (s *RecordingService) Create(ctx context.Context, rec *domain.CallRecord) error {
	rec.StoreName = strings.TrimSpace(rec.StoreName)
	if rec.UserID == "" || rec.StoreName == "" {
		return fmt.Errorf("%w: user_id and store_name are required", domain.ErrInvalidInput)
	}
	switch rec.Direction {
	case "", domain.DirectionInbound, domain.DirectionOutbound:
	default:
		return fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidInput, rec.Direction)
	}
	if rec.DurationSeconds != nil && *rec.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration", domain.ErrInvalidInput)
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("create call recording: %w", err)
	}
	return nil
}
