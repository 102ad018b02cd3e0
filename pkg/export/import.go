package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/registry"
	"github.com/nicktill/roomwatch/pkg/storage"
)

const (
	// MaxImportBatchSize is the maximum number of events appended at once
	MaxImportBatchSize = 1000

	// maxImportAge rejects events older than this
	maxImportAge = 10 * 365 * 24 * time.Hour
)

// Importer restores events from backups.
type Importer struct {
	events storage.EventLog
	reg    registry.Registry
}

// NewImporter creates a new importer. Events of entities unknown to reg are
// rejected.
func NewImporter(events storage.EventLog, reg registry.Registry) *Importer {
	return &Importer{events: events, reg: reg}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	EventsImported    int       `json:"events_imported"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	BatchesWritten    int       `json:"batches_written"`
	TimeRange         string    `json:"time_range"`
	ImportedAt        time.Time `json:"imported_at"`
	Errors            []string  `json:"errors,omitempty"`
}

// ImportFromJSON imports a JSON backup produced by ExportToJSON.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return im.importEvents(ctx, backup.Events, nil)
}

// ImportFromCSV imports rows in the ExportToCSV layout. The id and seq
// columns are optional.
func (im *Importer) ImportFromCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range csvHeader[:3] {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header is missing %q", required)
		}
	}

	var events []occupancy.Event
	var problems []string
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}
		ev, err := parseRow(row, cols)
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		events = append(events, ev)
	}
	return im.importEvents(ctx, events, problems)
}

func parseRow(row []string, cols map[string]int) (occupancy.Event, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	ts, err := time.Parse(time.RFC3339Nano, field("timestamp"))
	if err != nil {
		return occupancy.Event{}, fmt.Errorf("invalid timestamp %q", field("timestamp"))
	}
	closed, err := strconv.ParseBool(field("is_closed"))
	if err != nil {
		return occupancy.Event{}, fmt.Errorf("invalid is_closed %q", field("is_closed"))
	}
	return occupancy.Event{
		ID:        field("id"),
		EntityID:  field("entity_id"),
		Closed:    closed,
		Timestamp: ts,
	}, nil
}

func (im *Importer) importEvents(ctx context.Context, incoming []occupancy.Event, problems []string) (*ImportResult, error) {
	result := &ImportResult{ImportedAt: time.Now(), Errors: problems}
	if len(incoming) == 0 {
		result.TimeRange = "empty"
		return result, nil
	}

	valid := make([]occupancy.Event, 0, len(incoming))
	for i, ev := range incoming {
		if err := im.validate(ctx, ev, result.ImportedAt); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		ev.Seq = 0
		valid = append(valid, ev)
	}

	valid, skipped, err := im.dropExisting(ctx, valid)
	if err != nil {
		return nil, err
	}
	result.DuplicatesSkipped = skipped

	storage.SortEvents(valid)
	for i := 0; i < len(valid); i += MaxImportBatchSize {
		end := i + MaxImportBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		if err := im.events.Append(ctx, valid[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
		}
		result.BatchesWritten++
	}

	result.EventsImported = len(valid)
	if len(valid) > 0 {
		result.TimeRange = timeRange(valid[0].Timestamp, valid[len(valid)-1].Timestamp)
	} else {
		result.TimeRange = "empty"
	}
	return result, nil
}

func (im *Importer) validate(ctx context.Context, ev occupancy.Event, now time.Time) error {
	if ev.EntityID == "" {
		return errors.New("entity_id cannot be empty")
	}
	if _, err := im.reg.Entity(ctx, ev.EntityID); err != nil {
		return err
	}
	if ev.Timestamp.IsZero() {
		return errors.New("timestamp cannot be zero")
	}
	if ev.Timestamp.Before(now.Add(-maxImportAge)) {
		return fmt.Errorf("timestamp too far in past: %s", ev.Timestamp)
	}
	if ev.Timestamp.After(now.Add(24 * time.Hour)) {
		return fmt.Errorf("timestamp too far in future: %s", ev.Timestamp)
	}
	return nil
}

type eventKey struct {
	entity string
	ts     int64
	closed bool
}

func keyOf(ev occupancy.Event) eventKey {
	return eventKey{entity: ev.EntityID, ts: ev.Timestamp.UnixNano(), closed: ev.Closed}
}

// dropExisting removes events already stored, and repeats within the
// import, so re-importing a backup is a no-op.
func (im *Importer) dropExisting(ctx context.Context, events []occupancy.Event) ([]occupancy.Event, int, error) {
	if len(events) == 0 {
		return events, 0, nil
	}

	start, end := events[0].Timestamp, events[0].Timestamp
	ids := make(map[string]struct{})
	for _, ev := range events {
		if ev.Timestamp.Before(start) {
			start = ev.Timestamp
		}
		if ev.Timestamp.After(end) {
			end = ev.Timestamp
		}
		ids[ev.EntityID] = struct{}{}
	}
	entityIDs := make([]string, 0, len(ids))
	for id := range ids {
		entityIDs = append(entityIDs, id)
	}

	existing, err := im.events.ListEvents(ctx, storage.Query{
		EntityIDs: entityIDs,
		Start:     start,
		End:       end.Add(time.Nanosecond),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read existing events: %w", err)
	}

	seen := make(map[eventKey]struct{}, len(existing)+len(events))
	for _, ev := range existing {
		seen[keyOf(ev)] = struct{}{}
	}
	out := events[:0]
	skipped := 0
	for _, ev := range events {
		k := keyOf(ev)
		if _, dup := seen[k]; dup {
			skipped++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out, skipped, nil
}
