package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/storage"
)

const (
	eventPrefix  byte = 'e'
	latestPrefix byte = 'l'

	// appendChunk bounds the number of events written per transaction
	appendChunk = 500

	slowOperation = 5 * time.Second
)

var seqKey = []byte("meta/seq")

// Storage implements storage.EventLog using BadgerDB (LSM tree)
type Storage struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *zap.Logger
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	MaxMemoryMB int64

	// Logger receives slow-operation warnings (nil = discard)
	Logger *zap.Logger
}

// New creates a BadgerDB event log
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Door events are tiny; 16 MB of memtable holds weeks of traffic
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(seqKey, 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sequence: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Storage{db: db, seq: seq, logger: logger.Named("badger")}, nil
}

// run executes fn off the caller's goroutine so a cancelled context returns
// promptly even while badger is blocked.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if elapsed := time.Since(start); elapsed > slowOperation {
			s.logger.Warn("slow storage operation", zap.String("op", op), zap.Duration("elapsed", elapsed))
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// Append stores events and their entities' latest pointers
func (s *Storage) Append(ctx context.Context, events []occupancy.Event) error {
	storage.EnsureIDs(events)

	return s.run(ctx, "append", func() error {
		for start := 0; start < len(events); start += appendChunk {
			end := start + appendChunk
			if end > len(events) {
				end = len(events)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			err := s.appendChunk(events[start:end])
			// concurrent writers may race on an entity's latest key
			for retries := 0; errors.Is(err, badger.ErrConflict) && retries < 3; retries++ {
				err = s.appendChunk(events[start:end])
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) appendChunk(events []occupancy.Event) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for i := range events {
			seq, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("failed to allocate seq: %w", err)
			}
			// badger sequences start at 0; keep 0 meaning "unassigned"
			events[i].Seq = seq + 1

			value, err := encodeEvent(events[i])
			if err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			if err := txn.Set(makeEventKey(events[i]), value); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}

			current, err := getLatest(txn, events[i].EntityID)
			if err != nil {
				return err
			}
			if current == nil || !events[i].Before(*current) {
				if err := txn.Set(makeLatestKey(events[i].EntityID), value); err != nil {
					return fmt.Errorf("failed to write latest event: %w", err)
				}
			}
		}
		return nil
	})
}

// ListEvents retrieves events matching the query, ordered by (Timestamp, Seq)
func (s *Storage) ListEvents(ctx context.Context, q storage.Query) ([]occupancy.Event, error) {
	var results []occupancy.Event

	err := s.run(ctx, "query", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			if len(q.EntityIDs) == 0 {
				return scanEvents(ctx, txn, []byte{eventPrefix}, q, func(ev occupancy.Event) {
					results = append(results, ev)
				})
			}

			seen := make(map[string]struct{}, len(q.EntityIDs))
			for _, id := range q.EntityIDs {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}

				err := scanEvents(ctx, txn, entityPrefix(id), q, func(ev occupancy.Event) {
					// xxhash collisions share a prefix
					if ev.EntityID == id {
						results = append(results, ev)
					}
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	storage.SortEvents(results)
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// scanEvents walks the event keys under prefix whose timestamp lies in q's
// range. Keys under a single entity prefix are time ordered, so the walk
// seeks to q.Start and stops at q.End.
func scanEvents(ctx context.Context, txn *badger.Txn, prefix []byte, q storage.Query, emit func(occupancy.Event)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 100
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	perEntity := len(prefix) == 9
	if perEntity && !q.Start.IsZero() {
		seek = append(append([]byte{}, prefix...), encodeTime(q.Start)...)
	}

	var iterCount int
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		iterCount++
		if iterCount%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		item := it.Item()
		ts, _ := parseEventKey(item.Key())
		if ts.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && !ts.Before(q.End) {
			if perEntity {
				break
			}
			continue
		}

		err := item.Value(func(val []byte) error {
			ev, err := decodeEvent(val)
			if err != nil {
				return err
			}
			emit(ev)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
	}
	return nil
}

// LatestEvent returns the newest event recorded for entityID
func (s *Storage) LatestEvent(ctx context.Context, entityID string) (*occupancy.Event, error) {
	var latest *occupancy.Event
	err := s.run(ctx, "latest", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			ev, err := getLatest(txn, entityID)
			latest = ev
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

func getLatest(txn *badger.Txn, entityID string) (*occupancy.Event, error) {
	item, err := txn.Get(makeLatestKey(entityID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest event: %w", err)
	}

	var ev occupancy.Event
	if err := item.Value(func(val []byte) error {
		ev, err = decodeEvent(val)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to decode latest event: %w", err)
	}
	return &ev, nil
}

// Delete removes events older than opts.Before
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) (int, error) {
	var deleted int

	err := s.run(ctx, "delete", func() error {
		var eventKeys, latestKeys [][]byte

		err := s.db.View(func(txn *badger.Txn) error {
			latestSeqs, staleLatest, err := s.scanLatest(txn, opts.Before)
			if err != nil {
				return err
			}
			if !opts.KeepLatest {
				latestKeys = staleLatest
			}

			iterOpts := badger.DefaultIteratorOptions
			iterOpts.PrefetchValues = false
			iterOpts.Prefix = []byte{eventPrefix}

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				ts, seq := parseEventKey(it.Item().Key())
				if !ts.Before(opts.Before) {
					continue
				}
				if _, keep := latestSeqs[seq]; keep && opts.KeepLatest {
					continue
				}
				eventKeys = append(eventKeys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return err
		}

		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range append(eventKeys, latestKeys...) {
			if err := wb.Delete(key); err != nil {
				return fmt.Errorf("failed to delete key: %w", err)
			}
		}
		if err := wb.Flush(); err != nil {
			return fmt.Errorf("failed to flush deletes: %w", err)
		}
		deleted = len(eventKeys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// scanLatest returns the seqs of every entity's latest event and the latest
// keys whose event is older than before.
func (s *Storage) scanLatest(txn *badger.Txn, before time.Time) (map[uint64]struct{}, [][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte{latestPrefix}

	it := txn.NewIterator(opts)
	defer it.Close()

	seqs := make(map[uint64]struct{})
	var stale [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var ev occupancy.Event
		if err := item.Value(func(val []byte) error {
			var err error
			ev, err = decodeEvent(val)
			return err
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to decode latest event: %w", err)
		}
		seqs[ev.Seq] = struct{}{}
		if ev.Timestamp.Before(before) {
			stale = append(stale, item.KeyCopy(nil))
		}
	}
	return seqs, stale, nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release sequence", zap.Error(err))
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := s.run(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				key := it.Item().Key()
				switch key[0] {
				case latestPrefix:
					stats.TotalEntities++
				case eventPrefix:
					stats.TotalEvents++
					ts, _ := parseEventKey(key)
					if stats.OldestEvent.IsZero() || ts.Before(stats.OldestEvent) {
						stats.OldestEvent = ts
					}
					if stats.NewestEvent.IsZero() || ts.After(stats.NewestEvent) {
						stats.NewestEvent = ts
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// entityPrefix is the key prefix shared by all events of one entity.
// Format: ['e'][entity hash (8 bytes)]
func entityPrefix(entityID string) []byte {
	key := make([]byte, 9)
	key[0] = eventPrefix
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(entityID))
	return key
}

// makeEventKey creates a sortable key for one event.
// Format: ['e'][entity hash (8 bytes)][timestamp (8 bytes)][seq (8 bytes)]
func makeEventKey(ev occupancy.Event) []byte {
	key := make([]byte, 0, 25)
	key = append(key, entityPrefix(ev.EntityID)...)
	key = append(key, encodeTime(ev.Timestamp)...)
	key = binary.BigEndian.AppendUint64(key, ev.Seq)
	return key
}

func makeLatestKey(entityID string) []byte {
	return append([]byte{latestPrefix}, entityID...)
}

// parseEventKey extracts the timestamp and seq from an event key
func parseEventKey(key []byte) (time.Time, uint64) {
	if len(key) < 25 {
		return time.Time{}, 0
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(key[9:17])))
	return ts, binary.BigEndian.Uint64(key[17:25])
}

func encodeTime(t time.Time) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(t.UnixNano()))
}

func encodeEvent(ev occupancy.Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(data []byte) (occupancy.Event, error) {
	var ev occupancy.Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}
