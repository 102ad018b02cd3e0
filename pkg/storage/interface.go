package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nicktill/roomwatch/pkg/occupancy"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("event log is closed")

// EventLog defines the interface for door event storage backends.
// Implementations: memory (testing), badger (default), postgres
type EventLog interface {
	// Append stores events and assigns their Seq
	Append(ctx context.Context, events []occupancy.Event) error

	// ListEvents returns matching events ordered by (Timestamp, Seq)
	ListEvents(ctx context.Context, q Query) ([]occupancy.Event, error)

	// LatestEvent returns the newest event of an entity, or nil if it has none
	LatestEvent(ctx context.Context, entityID string) (*occupancy.Event, error)

	// Delete removes events matching the deletion criteria and returns how many were removed
	Delete(ctx context.Context, opts DeleteOptions) (int, error)

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// Query specifies which events to retrieve
type Query struct {
	// Entities to include; empty means all entities
	EntityIDs []string

	// Half-open time range [Start, End). A zero End means unbounded.
	Start time.Time
	End   time.Time

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether ev satisfies the query filters (ignoring Limit).
func (q Query) Matches(ev occupancy.Event) bool {
	if ev.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !ev.Timestamp.Before(q.End) {
		return false
	}
	if len(q.EntityIDs) == 0 {
		return true
	}
	for _, id := range q.EntityIDs {
		if id == ev.EntityID {
			return true
		}
	}
	return false
}

// DeleteOptions specifies what events to delete
type DeleteOptions struct {
	// Delete events strictly before this time
	Before time.Time

	// Keep each entity's latest event even if it is older than Before
	KeepLatest bool
}

// Stats provides storage health and usage info
type Stats struct {
	TotalEvents   uint64    `json:"total_events"`
	TotalEntities uint64    `json:"total_entities"`
	SizeBytes     uint64    `json:"size_bytes"`
	OldestEvent   time.Time `json:"oldest_event"`
	NewestEvent   time.Time `json:"newest_event"`
}

// SortEvents orders events by timestamp, then insertion order.
func SortEvents(events []occupancy.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Before(events[j])
	})
}

// EnsureIDs assigns a random id to every event that lacks one.
func EnsureIDs(events []occupancy.Event) {
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
	}
}
