/*
Package storage provides the pluggable event log behind roomwatch.

Door events are append-only. Readers ask for the events of a set of rooms in
a half-open time range and always get them back in (timestamp, seq) order, so
the aggregators in package occupancy can sweep them with a single cursor.

# Backends

  - memory: slice-backed, for tests and ephemeral runs
  - badger: BadgerDB on local disk (default)
  - postgres: a shared PostgreSQL database via pgx

All backends implement EventLog:

	type EventLog interface {
	    Append(ctx context.Context, events []occupancy.Event) error
	    ListEvents(ctx context.Context, q Query) ([]occupancy.Event, error)
	    LatestEvent(ctx context.Context, entityID string) (*occupancy.Event, error)
	    Delete(ctx context.Context, opts DeleteOptions) (int, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Ordering

Seq is assigned on Append and is strictly increasing per backend. Two events
of the same room with equal timestamps are returned in the order they were
appended.

# Retention

Delete with KeepLatest removes old history but leaves every room's newest
event in place, because the status snapshot is derived from it:

	n, err := log.Delete(ctx, storage.DeleteOptions{
	    Before:     time.Now().Add(-90 * 24 * time.Hour),
	    KeepLatest: true,
	})
*/
package storage
