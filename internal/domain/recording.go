package domain

import (
	"context"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallRecord is one phone call handled by the assistant.
type CallRecord struct {
	ID               int64
	UserID           string
	CreatedAt        time.Time
	DurationSeconds  *int
	RecordingURL     string
	PhoneNumber      string
	Direction        Direction
	StoreName        string
	ClientPersonalID string // Order id the call correlates with, if any
	Transcript       string
	Status           string
}

// RecordingFilter selects call records of one user and store in the
// half-open interval [From, To).
type RecordingFilter struct {
	UserID    string
	StoreName string
	From      time.Time
	To        time.Time
}

// CallRecordRepository handles call record persistence.
type CallRecordRepository interface {
	Create(ctx context.Context, record *CallRecord) error
	GetByID(ctx context.Context, id int64) (*CallRecord, error)
	// List returns one page of records, newest first, without transcripts,
	// together with the total number of records matching the filter.
	List(ctx context.Context, filter RecordingFilter, limit, offset int) ([]CallRecord, int, error)
	// ListTimestamps returns only the creation times of matching records,
	// oldest first.
	ListTimestamps(ctx context.Context, filter RecordingFilter) ([]time.Time, error)
}
