package domain

import (
	"context"
	"time"
)

// MetricSnapshot is one pre-aggregated metrics row for a store, usually
// written once per day.
type MetricSnapshot struct {
	ID                  int64
	UserID              string
	CreatedAt           time.Time
	StoreName           string
	TotalCalls          int     // total_apeluri
	InitiatedCalls      int     // apeluri_initiate
	ReceivedCalls       int     // apeluri_primite
	ConversionRate      float64 // rata_conversie
	DraftConversionRate float64 // rata_conversie_drafturi
	MinutesConsumed     float64 // minute_consumate
	TotalOrders         int     // total_comenzi
	AbandonedCarts      int     // cosuri_abandonate
	RecoveredCarts      int     // cosuri_recuperate
	GeneratedSales      float64 // vanzari_generate
	ConfirmedOrders     int     // comenzi_confirmate
	AdminName           string  // nume_admin
}

// MetricSnapshotRepository handles metric snapshot persistence.
type MetricSnapshotRepository interface {
	Create(ctx context.Context, snapshot *MetricSnapshot) error
	// Latest returns the newest snapshot for the user. An empty store name
	// matches every store.
	Latest(ctx context.Context, userID, storeName string) (*MetricSnapshot, error)
	// History returns up to limit snapshots, oldest first.
	History(ctx context.Context, userID, storeName string, limit int) ([]MetricSnapshot, error)
	// ListChartSnapshots returns the snapshots matching the filter, oldest
	// first, populated with the creation time and the chart counters only.
	ListChartSnapshots(ctx context.Context, filter RecordingFilter) ([]MetricSnapshot, error)
}
