package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nanoassist/dashboard/internal/domain"
)

// NotifyChannel is the channel the schema triggers notify on.
const NotifyChannel = "nanoassist_changes"

const (
	listenBaseDelay = 500 * time.Millisecond
	listenMaxDelay  = 30 * time.Second
)

// Listen holds a dedicated connection on NotifyChannel and forwards every
// decoded change to the publisher until ctx is cancelled. A dropped
// connection is re-established with exponential backoff.
func (db *DB) Listen(ctx context.Context) error {
	if db.publisher == nil {
		return fmt.Errorf("%w: listen without a publisher", domain.ErrSubscription)
	}
	var b listenBackoff
	for {
		listening, err := db.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		delay := b.next(listening)
		slog.Warn("change listener disconnected", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// listenBackoff counts consecutive failures to reach LISTEN. A session that
// got as far as LISTEN starts the count over.
type listenBackoff struct {
	attempt int
}

func (b *listenBackoff) next(listening bool) time.Duration {
	if listening {
		b.attempt = 0
	}
	delay := min(time.Duration(1<<min(b.attempt, 16))*listenBaseDelay, listenMaxDelay)
	b.attempt++
	return delay
}

// listenOnce reports whether LISTEN succeeded before the session ended.
func (db *DB) listenOnce(ctx context.Context) (bool, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	slog.Info("listening for row changes", "channel", NotifyChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("wait for notification: %w", err)
		}
		event, err := decodeNotification([]byte(n.Payload))
		if err != nil {
			slog.Warn("dropping undecodable change notification", "error", err)
			continue
		}
		db.publisher.Publish(event)
	}
}

type notification struct {
	Table string          `json:"table"`
	Event string          `json:"event"`
	Row   json.RawMessage `json:"row"`
}

type profilePayload struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Stores    string    `json:"stores"`
	UpdatedAt time.Time `json:"updated_at"`
}

type recordingPayload struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
	DurationSeconds  *int      `json:"duration_seconds"`
	RecordingURL     string    `json:"recording_url"`
	PhoneNumber      string    `json:"phone_number"`
	Direction        string    `json:"direction"`
	StoreName        string    `json:"store_name"`
	ClientPersonalID string    `json:"client_personal_id"`
	Status           string    `json:"status"`
}

type metricPayload struct {
	ID                  int64     `json:"id"`
	UserID              string    `json:"user_id"`
	CreatedAt           time.Time `json:"created_at"`
	StoreName           string    `json:"store_name"`
	TotalCalls          int       `json:"total_apeluri"`
	InitiatedCalls      int       `json:"apeluri_initiate"`
	ReceivedCalls       int       `json:"apeluri_primite"`
	ConversionRate      float64   `json:"rata_conversie"`
	DraftConversionRate float64   `json:"rata_conversie_drafturi"`
	MinutesConsumed     float64   `json:"minute_consumate"`
	TotalOrders         int       `json:"total_comenzi"`
	AbandonedCarts      int       `json:"cosuri_abandonate"`
	RecoveredCarts      int       `json:"cosuri_recuperate"`
	GeneratedSales      float64   `json:"vanzari_generate"`
	ConfirmedOrders     int       `json:"comenzi_confirmate"`
	AdminName           string    `json:"nume_admin"`
}

var errUnknownTable = errors.New("unknown table")

// decodeNotification turns a trigger payload into a typed change event.
func decodeNotification(payload []byte) (domain.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	event := domain.ChangeEvent{Table: n.Table, Event: domain.ChangeType(n.Event)}
	switch event.Event {
	case domain.ChangeInsert, domain.ChangeUpdate, domain.ChangeDelete:
	default:
		return domain.ChangeEvent{}, fmt.Errorf("decode notification: unknown event %q", n.Event)
	}

	switch n.Table {
	case domain.TableProfiles:
		var p profilePayload
		if err := json.Unmarshal(n.Row, &p); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("decode profile row: %w", err)
		}
		event.Attrs = map[string]string{"id": p.ID}
		event.New = &domain.ProfileRow{
			ID: p.ID, Email: p.Email, Role: p.Role, FullName: p.FullName,
			AvatarURL: p.AvatarURL, Stores: p.Stores, UpdatedAt: p.UpdatedAt,
		}
	case domain.TableCallRecordings:
		var r recordingPayload
		if err := json.Unmarshal(n.Row, &r); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("decode call recording row: %w", err)
		}
		event.Attrs = rowAttrs(r.ID, r.UserID, r.StoreName)
		event.New = &domain.CallRecord{
			ID: r.ID, UserID: r.UserID, CreatedAt: r.CreatedAt, DurationSeconds: r.DurationSeconds,
			RecordingURL: r.RecordingURL, PhoneNumber: r.PhoneNumber, Direction: domain.Direction(r.Direction),
			StoreName: r.StoreName, ClientPersonalID: r.ClientPersonalID, Status: r.Status,
		}
	case domain.TableCallMetrics:
		var m metricPayload
		if err := json.Unmarshal(n.Row, &m); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("decode call metrics row: %w", err)
		}
		event.Attrs = rowAttrs(m.ID, m.UserID, m.StoreName)
		snapshot := domain.MetricSnapshot(m)
		event.New = &snapshot
	default:
		return domain.ChangeEvent{}, fmt.Errorf("%w %q", errUnknownTable, n.Table)
	}
	return event, nil
}

func rowAttrs(id int64, userID, storeName string) map[string]string {
	return map[string]string{
		"id":         strconv.FormatInt(id, 10),
		"user_id":    userID,
		"store_name": storeName,
	}
}
