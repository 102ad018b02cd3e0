package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/storage"
)

// FormatVersion is written into every JSON backup.
const FormatVersion = "1.0"

// csvHeader is shared by the CSV exporter and importer.
var csvHeader = []string{"timestamp", "entity_id", "is_closed", "id", "seq"}

// Exporter writes door events out of the event log.
type Exporter struct {
	events storage.EventLog
}

// NewExporter creates a new exporter
func NewExporter(events storage.EventLog) *Exporter {
	return &Exporter{events: events}
}

// ExportOptions selects the events to export.
type ExportOptions struct {
	Start time.Time
	End   time.Time

	// nil = every entity
	EntityIDs []string
}

// ExportResult contains stats about the export
type ExportResult struct {
	EventsExported int       `json:"events_exported"`
	TimeRange      string    `json:"time_range"`
	Format         string    `json:"format"`
	ExportedAt     time.Time `json:"exported_at"`
}

// Metadata heads a JSON backup.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	EventCount int       `json:"event_count"`
	Format     string    `json:"format"`
	Version    string    `json:"version"`
}

// Backup is the JSON backup document.
type Backup struct {
	Metadata Metadata          `json:"metadata"`
	Events   []occupancy.Event `json:"events"`
}

func (e *Exporter) list(ctx context.Context, opts ExportOptions) ([]occupancy.Event, error) {
	events, err := e.events.ListEvents(ctx, storage.Query{
		EntityIDs: opts.EntityIDs,
		Start:     opts.Start,
		End:       opts.End,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

// ExportToJSON writes a JSON backup of the selected events to w.
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	events, err := e.list(ctx, opts)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []occupancy.Event{}
	}

	backup := Backup{
		Metadata: Metadata{
			ExportedAt: time.Now(),
			StartTime:  opts.Start,
			EndTime:    opts.End,
			EventCount: len(events),
			Format:     "json",
			Version:    FormatVersion,
		},
		Events: events,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		EventsExported: len(events),
		TimeRange:      timeRange(opts.Start, opts.End),
		Format:         "json",
		ExportedAt:     backup.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV writes the selected events as CSV rows to w.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	events, err := e.list(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, ev := range events {
		row := []string{
			ev.Timestamp.Format(time.RFC3339Nano),
			ev.EntityID,
			strconv.FormatBool(ev.Closed),
			ev.ID,
			strconv.FormatUint(ev.Seq, 10),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		EventsExported: len(events),
		TimeRange:      timeRange(opts.Start, opts.End),
		Format:         "csv",
		ExportedAt:     time.Now(),
	}, nil
}

func timeRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
}
