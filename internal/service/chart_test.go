package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/repository/sqlite"
	"github.com/nanoassist/dashboard/internal/service"
)

// chartNow is a Sunday.
var chartNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestChartService(t *testing.T) (*service.ChartService, *sqlite.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := service.NewChartService(db.Recordings(), db.Metrics(),
		service.WithChartClock(clock.Fake(chartNow)), service.WithLocation(time.UTC))
	return svc, db
}

func addCall(t *testing.T, db *sqlite.DB, store string, at time.Time) {
	t.Helper()
	if err := db.Recordings().Create(context.Background(), &domain.CallRecord{UserID: "u1", StoreName: store, CreatedAt: at}); err != nil {
		t.Fatalf("create call: %v", err)
	}
}

func addSnapshot(t *testing.T, db *sqlite.DB, m domain.MetricSnapshot) {
	t.Helper()
	m.UserID = "u1"
	if err := db.Metrics().Create(context.Background(), &m); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
}

func TestChartData_BucketCount(t *testing.T) {
	svc, db := newTestChartService(t)
	ctx := context.Background()

	// Data inside, outside and at the edges of every window.
	for _, at := range []time.Time{
		chartNow.AddDate(0, 0, -40), chartNow.AddDate(0, 0, -20), chartNow.AddDate(0, 0, -3),
		chartNow.Add(-time.Hour), chartNow, chartNow.AddDate(0, 0, 2),
	} {
		addCall(t, db, "Acme", at)
	}

	for period, want := range map[domain.Period]int{
		domain.PeriodDay:   24,
		domain.PeriodWeek:  8,
		domain.PeriodMonth: 31,
	} {
		points, err := svc.ChartData(ctx, "u1", "Acme", period)
		if err != nil {
			t.Fatalf("%s: ChartData: %v", period, err)
		}
		if len(points) != want {
			t.Errorf("%s: expected %d buckets, got %d", period, want, len(points))
		}
		for i := 1; i < len(points); i++ {
			if points[i-1].Key >= points[i].Key {
				t.Errorf("%s: buckets out of order at %d: %s >= %s", period, i, points[i-1].Key, points[i].Key)
			}
		}
	}

	empty, err := svc.ChartData(ctx, "u1", "Nobody", domain.PeriodWeek)
	if err != nil {
		t.Fatalf("ChartData without rows: %v", err)
	}
	if len(empty) != 8 {
		t.Fatalf("expected 8 zero buckets without data, got %d", len(empty))
	}
}

func TestChartData_WeekScenario(t *testing.T) {
	svc, db := newTestChartService(t)
	day2 := time.Date(2026, 5, 8, 0, 0, 0, 0, time.UTC)

	addCall(t, db, "Acme", day2.Add(10*time.Hour))
	addCall(t, db, "Acme", day2.Add(15*time.Hour))
	addCall(t, db, "Other", day2.Add(11*time.Hour))
	addSnapshot(t, db, domain.MetricSnapshot{StoreName: "Acme", CreatedAt: day2, ConfirmedOrders: 3})

	points, err := svc.ChartData(context.Background(), "u1", "Acme", domain.PeriodWeek)
	if err != nil {
		t.Fatalf("ChartData: %v", err)
	}
	if len(points) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(points))
	}
	if points[0].Key != "2026-05-03" || points[7].Key != "2026-05-10" {
		t.Fatalf("unexpected window %s..%s", points[0].Key, points[7].Key)
	}
	if points[7].Label != "Sun" {
		t.Fatalf("expected weekday label Sun, got %q", points[7].Label)
	}

	for _, p := range points {
		if p.Key == "2026-05-08" {
			if p.Calls != 2 || p.Orders != 3 || p.Drafts != 0 || p.Sales != 0 {
				t.Fatalf("unexpected day-2 bucket: %+v", p)
			}
			continue
		}
		if p.Calls != 0 || p.Orders != 0 || p.Drafts != 0 || p.Sales != 0 {
			t.Fatalf("expected zero bucket for %s, got %+v", p.Key, p)
		}
	}
}

func TestChartData_BoundaryAssignment(t *testing.T) {
	svc, db := newTestChartService(t)
	midnight := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	addCall(t, db, "Acme", midnight)
	addCall(t, db, "Acme", midnight.Add(time.Hour))
	addCall(t, db, "Acme", midnight.Add(-time.Nanosecond)) // yesterday

	points, err := svc.ChartData(context.Background(), "u1", "Acme", domain.PeriodDay)
	if err != nil {
		t.Fatalf("ChartData: %v", err)
	}
	if points[0].Key != "00:00" || points[0].Calls != 1 {
		t.Fatalf("expected midnight call in 00:00, got %+v", points[0])
	}
	if points[1].Key != "01:00" || points[1].Calls != 1 {
		t.Fatalf("expected 01:00 call in 01:00, got %+v", points[1])
	}
	if points[23].Calls != 0 {
		t.Fatalf("expected yesterday's call to be dropped, got %+v", points[23])
	}
}

func TestChartData_MonthSumsSnapshots(t *testing.T) {
	svc, db := newTestChartService(t)
	day := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)

	addSnapshot(t, db, domain.MetricSnapshot{StoreName: "Acme", CreatedAt: day, ConfirmedOrders: 1, AbandonedCarts: 2, GeneratedSales: 10.5})
	addSnapshot(t, db, domain.MetricSnapshot{StoreName: "Acme", CreatedAt: day.Add(20 * time.Hour), ConfirmedOrders: 4, AbandonedCarts: 1, GeneratedSales: 4.5})

	points, err := svc.ChartData(context.Background(), "u1", "Acme", domain.PeriodMonth)
	if err != nil {
		t.Fatalf("ChartData: %v", err)
	}
	for _, p := range points {
		if p.Key != "2026-04-20" {
			continue
		}
		if p.Orders != 5 || p.Drafts != 3 || p.Sales != 15 || p.Label != "20 Apr" {
			t.Fatalf("unexpected bucket: %+v", p)
		}
		return
	}
	t.Fatal("bucket 2026-04-20 missing")
}

type failingSnapshots struct {
	domain.MetricSnapshotRepository
}

func (failingSnapshots) ListChartSnapshots(context.Context, domain.RecordingFilter) ([]domain.MetricSnapshot, error) {
	return nil, errBackend
}

func TestChartData_PartialFailure(t *testing.T) {
	db := newTestDB(t)
	svc := service.NewChartService(db.Recordings(), failingSnapshots{},
		service.WithChartClock(clock.Fake(chartNow)), service.WithLocation(time.UTC))
	addCall(t, db, "Acme", chartNow.Add(-time.Hour))

	points, err := svc.ChartData(context.Background(), "u1", "Acme", domain.PeriodWeek)
	if err != nil {
		t.Fatalf("ChartData: %v", err)
	}
	if len(points) != 8 {
		t.Fatalf("expected full series, got %d buckets", len(points))
	}
	calls := 0
	for _, p := range points {
		calls += p.Calls
		if p.Orders != 0 || p.Drafts != 0 || p.Sales != 0 {
			t.Fatalf("expected zero snapshot counters, got %+v", p)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the call to be counted, got %d", calls)
	}
}

// Querying either of these panics on the nil embedded interface.
type unusedRecordings struct{ domain.CallRecordRepository }
type unusedSnapshots struct {
	domain.MetricSnapshotRepository
}

func TestChartData_MissingSelector(t *testing.T) {
	svc := service.NewChartService(unusedRecordings{}, unusedSnapshots{})
	ctx := context.Background()

	for _, tc := range []struct{ user, store string }{{"", "Acme"}, {"u1", ""}} {
		points, err := svc.ChartData(ctx, tc.user, tc.store, domain.PeriodDay)
		if err != nil || len(points) != 0 {
			t.Fatalf("expected empty series for %+v, got %d points, %v", tc, len(points), err)
		}
	}

	if _, err := svc.ChartData(ctx, "u1", "Acme", domain.Period("year")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown period, got %v", err)
	}
}
