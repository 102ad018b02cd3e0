package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/storage"
)

const (
	defaultDBTimeout = 5 * time.Second
	queryTimeout     = 30 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS door_events (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT        NOT NULL UNIQUE,
	entity_id    TEXT        NOT NULL,
	is_closed    BOOLEAN     NOT NULL,
	created_time TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS door_events_entity_time_idx ON door_events (entity_id, created_time, seq);
CREATE INDEX IF NOT EXISTS door_events_time_idx ON door_events (created_time);`

// Storage implements storage.EventLog on PostgreSQL.
type Storage struct {
	pool *pgxpool.Pool
}

// Config holds the PostgreSQL connection settings.
type Config struct {
	DSN      string
	MaxConns int32
}

// New connects to PostgreSQL and creates the schema if needed.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultDBTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(pingCtx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate door_events: %w", err)
	}

	return &Storage{pool: pool}, nil
}

// Append inserts events in one transaction and reads back their seqs.
func (s *Storage) Append(ctx context.Context, events []occupancy.Event) error {
	if len(events) == 0 {
		return nil
	}
	storage.EnsureIDs(events)

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
INSERT INTO door_events (id, entity_id, is_closed, created_time)
VALUES ($1, $2, $3, $4)
RETURNING seq;`, ev.ID, ev.EntityID, ev.Closed, ev.Timestamp)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range events {
		var seq int64
		if err := results.QueryRow().Scan(&seq); err != nil {
			results.Close()
			return fmt.Errorf("insert door event %s: %w", events[i].ID, err)
		}
		events[i].Seq = uint64(seq)
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close append batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ListEvents returns events ordered by (created_time, seq).
func (s *Storage) ListEvents(ctx context.Context, q storage.Query) ([]occupancy.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if !q.Start.IsZero() {
		args = append(args, q.Start)
		where = append(where, fmt.Sprintf("created_time >= $%d", len(args)))
	}
	if !q.End.IsZero() {
		args = append(args, q.End)
		where = append(where, fmt.Sprintf("created_time < $%d", len(args)))
	}
	if len(q.EntityIDs) > 0 {
		args = append(args, q.EntityIDs)
		where = append(where, fmt.Sprintf("entity_id = ANY($%d)", len(args)))
	}

	query := `SELECT id, entity_id, is_closed, created_time, seq FROM door_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_time, seq"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list door events: %w", err)
	}
	defer rows.Close()

	var events []occupancy.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan door event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate door events: %w", err)
	}
	return events, nil
}

// LatestEvent returns the newest event of entityID, or nil.
func (s *Storage) LatestEvent(ctx context.Context, entityID string) (*occupancy.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDBTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
SELECT id, entity_id, is_closed, created_time, seq
FROM door_events
WHERE entity_id = $1
ORDER BY created_time DESC, seq DESC
LIMIT 1;`, entityID)

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest door event: %w", err)
	}
	return &ev, nil
}

// Delete removes events older than opts.Before.
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `DELETE FROM door_events WHERE created_time < $1`
	if opts.KeepLatest {
		query += `
AND seq NOT IN (
	SELECT DISTINCT ON (entity_id) seq
	FROM door_events
	ORDER BY entity_id, created_time DESC, seq DESC
)`
	}

	tag, err := s.pool.Exec(ctx, query, opts.Before)
	if err != nil {
		return 0, fmt.Errorf("delete door events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Stats returns row counts, time range and table size.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDBTimeout)
	defer cancel()

	var (
		stats          storage.Stats
		total, ents    int64
		size           int64
		oldest, newest *time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT count(*), count(DISTINCT entity_id), min(created_time), max(created_time),
       pg_total_relation_size('door_events')
FROM door_events;`).Scan(&total, &ents, &oldest, &newest, &size)
	if err != nil {
		return nil, fmt.Errorf("door event stats: %w", err)
	}

	stats.TotalEvents = uint64(total)
	stats.TotalEntities = uint64(ents)
	stats.SizeBytes = uint64(size)
	if oldest != nil {
		stats.OldestEvent = *oldest
	}
	if newest != nil {
		stats.NewestEvent = *newest
	}
	return &stats, nil
}

func scanEvent(row pgx.Row) (occupancy.Event, error) {
	var (
		ev  occupancy.Event
		seq int64
	)
	if err := row.Scan(&ev.ID, &ev.EntityID, &ev.Closed, &ev.Timestamp, &seq); err != nil {
		return occupancy.Event{}, err
	}
	ev.Seq = uint64(seq)
	return ev, nil
}
