// Package realtime fans row-level change notifications out to scoped
// subscribers.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/instrument"
)

const defaultBuffer = 16

// Broker implements domain.ChangeFeed and domain.ChangePublisher in process.
// Delivery never blocks the publisher: a subscriber whose buffer is full
// misses the notification, which is logged and counted.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	closed  bool
	buffer  int
	metrics *instrument.Metrics
}

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithMetrics records subscriber counts and drops.
func WithMetrics(m *instrument.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// NewBroker creates a new Broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:   make(map[*subscription]struct{}),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscription for changes matching filter. The
// subscription ends when Unsubscribe is called, when ctx is done, or when
// the broker is closed.
func (b *Broker) Subscribe(ctx context.Context, filter domain.ChangeFilter) (domain.Subscription, error) {
	if filter.Table == "" {
		return nil, fmt.Errorf("%w: table is required", domain.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: broker closed", domain.ErrSubscription)
	}

	s := &subscription{
		broker: b,
		filter: filter,
		ch:     make(chan domain.ChangeEvent, b.buffer),
	}
	b.subs[s] = struct{}{}
	s.stopCtx = context.AfterFunc(ctx, s.Unsubscribe)
	b.metrics.SubscriberAdded()
	return s, nil
}

// Publish delivers event to every matching subscription.
func (b *Broker) Publish(event domain.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if !matches(s.filter, event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			slog.Warn("realtime subscriber full, dropping change",
				"table", event.Table, "event", event.Event)
			b.metrics.RealtimeDropped(event.Table)
		}
	}
}

// Close ends every subscription and rejects new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		b.removeLocked(s)
	}
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s)
}

func (b *Broker) removeLocked(s *subscription) {
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	if s.stopCtx != nil {
		s.stopCtx()
	}
	close(s.ch)
	b.metrics.SubscriberRemoved()
}

type subscription struct {
	broker  *Broker
	filter  domain.ChangeFilter
	ch      chan domain.ChangeEvent
	once    sync.Once
	stopCtx func() bool // guarded by broker.mu
}

func (s *subscription) C() <-chan domain.ChangeEvent { return s.ch }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.broker.remove(s) })
}

func matches(f domain.ChangeFilter, event domain.ChangeEvent) bool {
	if f.Table != event.Table {
		return false
	}
	if f.Column != "" && event.Attrs[f.Column] != f.Value {
		return false
	}
	return len(f.Events) == 0 || slices.Contains(f.Events, event.Event)
}
