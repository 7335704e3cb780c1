package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/instrument"
)

const (
	dateKeyLayout  = "2006-01-02"
	monthLabel     = "02 Jan"
	weekLookback   = 7
	monthLookback  = 30
	streamCalls    = "call_recordings"
	streamSnapshot = "call_metrics"
)

// ChartService folds call records and metric snapshots of one store into a
// fixed-length, chronologically ordered series of buckets.
type ChartService struct {
	recordings domain.CallRecordRepository
	snapshots  domain.MetricSnapshotRepository
	metrics    *instrument.Metrics
	clock      clock.Clock
	loc        *time.Location
}

// ChartOption configures a ChartService.
type ChartOption func(*ChartService)

func WithChartClock(c clock.Clock) ChartOption {
	return func(s *ChartService) { s.clock = c }
}

// WithLocation sets the time zone calendar days and hours are taken in.
func WithLocation(loc *time.Location) ChartOption {
	return func(s *ChartService) { s.loc = loc }
}

func WithChartMetrics(m *instrument.Metrics) ChartOption {
	return func(s *ChartService) { s.metrics = m }
}

func NewChartService(recordings domain.CallRecordRepository, snapshots domain.MetricSnapshotRepository, opts ...ChartOption) *ChartService {
	s := &ChartService{
		recordings: recordings,
		snapshots:  snapshots,
		clock:      clock.Real(),
		loc:        time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// window is the bucket layout of one chart request.
type window struct {
	start, end time.Time
	keys       []string
	labels     []string
	key        func(time.Time) string
}

func (s *ChartService) window(period domain.Period) window {
	now := s.clock.Now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	if period == domain.PeriodDay {
		w := window{
			start: today,
			end:   today.AddDate(0, 0, 1),
			key:   func(t time.Time) string { return hourKey(t.In(s.loc).Hour()) },
		}
		// Hours are listed by number so DST days keep all 24 keys.
		for h := range 24 {
			k := hourKey(h)
			w.keys = append(w.keys, k)
			w.labels = append(w.labels, k)
		}
		return w
	}

	days := weekLookback
	if period == domain.PeriodMonth {
		days = monthLookback
	}
	w := window{
		start: now.AddDate(0, 0, -days),
		end:   today.AddDate(0, 0, 1),
		key:   func(t time.Time) string { return t.In(s.loc).Format(dateKeyLayout) },
	}
	first := today.AddDate(0, 0, -days)
	for i := 0; i <= days; i++ {
		d := first.AddDate(0, 0, i)
		w.keys = append(w.keys, d.Format(dateKeyLayout))
		if period == domain.PeriodWeek {
			w.labels = append(w.labels, d.Weekday().String()[:3])
		} else {
			w.labels = append(w.labels, d.Format(monthLabel))
		}
	}
	return w
}

// ChartData returns the series for one user and store. Either id being
// empty yields an empty series without querying. A failed read of either
// source is logged and counts as no rows, so the series keeps its length.
func (s *ChartService) ChartData(ctx context.Context, userID, storeName string, period domain.Period) ([]domain.ChartPoint, error) {
	if _, err := domain.ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if userID == "" || storeName == "" {
		return []domain.ChartPoint{}, nil
	}

	w := s.window(period)
	points := make([]domain.ChartPoint, len(w.keys))
	index := make(map[string]int, len(w.keys))
	for i, k := range w.keys {
		points[i] = domain.ChartPoint{Key: k, Label: w.labels[i]}
		index[k] = i
	}

	filter := domain.RecordingFilter{UserID: userID, StoreName: storeName, From: w.start, To: w.end}

	calls, err := s.recordings.ListTimestamps(ctx, filter)
	if err != nil {
		slog.Error("chart: fetch call records", "user_id", userID, "store", storeName, "error", err)
		s.metrics.QueryFailed(streamCalls)
		calls = nil
	}
	for _, at := range calls {
		if i, ok := index[w.key(at)]; ok {
			points[i].Calls++
		}
	}

	snapshots, err := s.snapshots.ListChartSnapshots(ctx, filter)
	if err != nil {
		slog.Error("chart: fetch metric snapshots", "user_id", userID, "store", storeName, "error", err)
		s.metrics.QueryFailed(streamSnapshot)
		snapshots = nil
	}
	for _, m := range snapshots {
		if i, ok := index[w.key(m.CreatedAt)]; ok {
			points[i].Orders += m.ConfirmedOrders
			points[i].Drafts += m.AbandonedCarts
			points[i].Sales += m.GeneratedSales
		}
	}

	// Both key layouts sort chronologically as strings.
	sort.SliceStable(points, func(a, b int) bool { return points[a].Key < points[b].Key })
	return points, nil
}

func hourKey(h int) string {
	return fmt.Sprintf("%02d:00", h)
}
