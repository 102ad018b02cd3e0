package memory

import (
	"context"
	"sync"

	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/storage"
)

// Storage stores door events in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	events []occupancy.Event
	seq    uint64
	closed bool
	mu     sync.RWMutex
}

// New creates an in-memory event log
func New() *Storage {
	return &Storage{
		events: make([]occupancy.Event, 0, 1024),
	}
}

// Append stores events in memory
func (s *Storage) Append(ctx context.Context, events []occupancy.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	storage.EnsureIDs(events)
	for i := range events {
		s.seq++
		events[i].Seq = s.seq
	}
	s.events = append(s.events, events...)
	storage.SortEvents(s.events)
	return nil
}

// ListEvents retrieves events matching the query
func (s *Storage) ListEvents(ctx context.Context, q storage.Query) ([]occupancy.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	var results []occupancy.Event
	for _, ev := range s.events {
		if !q.Matches(ev) {
			continue
		}
		results = append(results, ev)
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}
	}
	return results, nil
}

// LatestEvent returns the newest event of entityID
func (s *Storage) LatestEvent(ctx context.Context, entityID string) (*occupancy.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	// events are kept sorted, so the last match wins
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EntityID == entityID {
			ev := s.events[i]
			return &ev, nil
		}
	}
	return nil, nil
}

// Delete removes events older than opts.Before
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}

	latest := make(map[string]uint64)
	if opts.KeepLatest {
		for _, ev := range s.events {
			latest[ev.EntityID] = ev.Seq
		}
	}

	filtered := make([]occupancy.Event, 0, len(s.events))
	for _, ev := range s.events {
		keep := !ev.Timestamp.Before(opts.Before)
		if opts.KeepLatest && latest[ev.EntityID] == ev.Seq {
			keep = true
		}
		if keep {
			filtered = append(filtered, ev)
		}
	}

	deleted := len(s.events) - len(filtered)
	s.events = filtered
	return deleted, nil
}

// Close marks the storage as closed
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalEvents: uint64(len(s.events)),
	}
	if len(s.events) == 0 {
		return stats, nil
	}

	entities := make(map[string]struct{})
	for _, ev := range s.events {
		entities[ev.EntityID] = struct{}{}
	}

	stats.TotalEntities = uint64(len(entities))
	stats.OldestEvent = s.events[0].Timestamp
	stats.NewestEvent = s.events[len(s.events)-1].Timestamp

	// Rough size estimate (each event ~120 bytes)
	stats.SizeBytes = uint64(len(s.events)) * 120
	return stats, nil
}
