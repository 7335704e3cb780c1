package domain

import "context"

// ChangeType is the kind of row change carried by a ChangeEvent.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

const (
	TableProfiles       = "profiles"
	TableCallRecordings = "call_recordings"
	TableCallMetrics    = "call_metrics"
)

// ChangeEvent is a row-level change notification. Attrs carries the
// filterable columns of the row (e.g. "id", "user_id", "store_name") and New
// the new row value (*ProfileRow, *CallRecord or *MetricSnapshot).
type ChangeEvent struct {
	Table string
	Event ChangeType
	Attrs map[string]string
	New   any
}

// ChangeFilter scopes a subscription to one table and, optionally, to rows
// whose Column equals Value. An empty Events list matches every change type.
type ChangeFilter struct {
	Table  string
	Column string
	Value  string
	Events []ChangeType
}

// Subscription delivers the changes matching its filter until Unsubscribe
// is called, after which C is closed.
type Subscription interface {
	C() <-chan ChangeEvent
	Unsubscribe()
}

// ChangeFeed is the push channel of the record store.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter ChangeFilter) (Subscription, error)
}

// ChangePublisher receives row changes from the storage layer.
type ChangePublisher interface {
	Publish(event ChangeEvent)
}
