package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/registry"
	"github.com/nicktill/roomwatch/pkg/storage"
	"github.com/nicktill/roomwatch/pkg/storage/memory"
)

const testRegistry = `
groups:
  - {id: g4m, name: "4F Men"}
entities:
  - {id: "11", name: "4F Men #1", group: g4m}
  - {id: "12", name: "4F Men #2", group: g4m}
`

func testReg(t *testing.T) *registry.Static {
	t.Helper()
	reg, err := registry.Parse([]byte(testRegistry))
	if err != nil {
		t.Fatalf("Failed to parse registry: %v", err)
	}
	return reg
}

func seedEvents(t *testing.T, store storage.EventLog, base time.Time) {
	t.Helper()
	events := []occupancy.Event{
		{EntityID: "11", Closed: true, Timestamp: base},
		{EntityID: "11", Closed: false, Timestamp: base.Add(5 * time.Minute)},
		{EntityID: "12", Closed: true, Timestamp: base.Add(10 * time.Minute)},
	}
	if err := store.Append(context.Background(), events); err != nil {
		t.Fatalf("Failed to write test events: %v", err)
	}
}

func TestExportToJSON(t *testing.T) {
	store := memory.New()
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	seedEvents(t, store, base)

	buf := &bytes.Buffer{}
	opts := ExportOptions{Start: base.Add(-time.Minute), End: base.Add(time.Hour)}
	result, err := NewExporter(store).ExportToJSON(ctx, buf, opts)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.EventsExported != 3 {
		t.Errorf("Expected 3 events exported, got %d", result.EventsExported)
	}
	if result.Format != "json" {
		t.Errorf("Expected format 'json', got %q", result.Format)
	}

	var backup Backup
	if err := json.Unmarshal(buf.Bytes(), &backup); err != nil {
		t.Fatalf("Failed to parse exported JSON: %v", err)
	}
	if backup.Metadata.EventCount != 3 || backup.Metadata.Version != FormatVersion {
		t.Errorf("Unexpected metadata: %+v", backup.Metadata)
	}
	if len(backup.Events) != 3 {
		t.Fatalf("Expected 3 events in backup, got %d", len(backup.Events))
	}
	if backup.Events[0].EntityID != "11" || !backup.Events[0].Closed {
		t.Errorf("Events not in timestamp order: %+v", backup.Events[0])
	}
	if backup.Events[0].ID == "" {
		t.Error("Expected exported events to carry ids")
	}
}

func TestExportToCSV(t *testing.T) {
	store := memory.New()
	defer store.Close()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	seedEvents(t, store, base)

	buf := &bytes.Buffer{}
	opts := ExportOptions{Start: base, End: base.Add(time.Hour), EntityIDs: []string{"11"}}
	result, err := NewExporter(store).ExportToCSV(context.Background(), buf, opts)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.EventsExported != 2 {
		t.Errorf("Expected 2 events exported, got %d", result.EventsExported)
	}

	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 CSV rows (header + 2), got %d", len(records))
	}
	if strings.Join(records[0], ",") != "timestamp,entity_id,is_closed,id,seq" {
		t.Errorf("Unexpected header: %v", records[0])
	}
	if records[1][1] != "11" || records[1][2] != "true" {
		t.Errorf("Unexpected first row: %v", records[1])
	}
	if records[2][2] != "false" {
		t.Errorf("Unexpected second row: %v", records[2])
	}
}

func TestExportEmptyStorage(t *testing.T) {
	store := memory.New()
	defer store.Close()

	buf := &bytes.Buffer{}
	now := time.Now()
	result, err := NewExporter(store).ExportToJSON(context.Background(), buf, ExportOptions{Start: now.Add(-time.Hour), End: now})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.EventsExported != 0 {
		t.Errorf("Expected 0 events exported, got %d", result.EventsExported)
	}
	if !strings.Contains(buf.String(), `"events": []`) {
		t.Errorf("Expected an empty events array, got %s", buf.String())
	}
}

func TestImportRoundTrip(t *testing.T) {
	src := memory.New()
	defer src.Close()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	seedEvents(t, src, base)

	ctx := context.Background()
	buf := &bytes.Buffer{}
	if _, err := NewExporter(src).ExportToJSON(ctx, buf, ExportOptions{Start: base, End: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	backup := buf.Bytes()

	dst := memory.New()
	defer dst.Close()
	importer := NewImporter(dst, testReg(t))

	result, err := importer.ImportFromJSON(ctx, bytes.NewReader(backup))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.EventsImported != 3 || result.BatchesWritten != 1 {
		t.Errorf("Unexpected import result: %+v", result)
	}

	latest, err := dst.LatestEvent(ctx, "12")
	if err != nil || latest == nil || !latest.Closed {
		t.Fatalf("Expected latest event of 12 to be closed, got %+v (%v)", latest, err)
	}

	// replaying the same backup changes nothing
	result, err = importer.ImportFromJSON(ctx, bytes.NewReader(backup))
	if err != nil {
		t.Fatalf("Second import failed: %v", err)
	}
	if result.EventsImported != 0 || result.DuplicatesSkipped != 3 {
		t.Errorf("Expected all events skipped, got %+v", result)
	}
	all, _ := dst.ListEvents(ctx, storage.Query{})
	if len(all) != 3 {
		t.Errorf("Expected 3 stored events, got %d", len(all))
	}
}

func TestImportFromCSV(t *testing.T) {
	store := memory.New()
	defer store.Close()

	ts := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	input := "timestamp,entity_id,is_closed\n" +
		ts + ",11,true\n" +
		"yesterday,11,false\n" +
		ts + ",12,maybe\n"

	result, err := NewImporter(store, testReg(t)).ImportFromCSV(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.EventsImported != 1 {
		t.Errorf("Expected 1 event imported, got %d", result.EventsImported)
	}
	if len(result.Errors) != 2 {
		t.Errorf("Expected 2 row errors, got %v", result.Errors)
	}
}

func TestImportFromCSV_MissingColumn(t *testing.T) {
	_, err := NewImporter(memory.New(), testReg(t)).ImportFromCSV(context.Background(), strings.NewReader("timestamp,entity_id\n"))
	if err == nil || !strings.Contains(err.Error(), "is_closed") {
		t.Fatalf("Expected missing column error, got %v", err)
	}
}

func TestImportValidation(t *testing.T) {
	store := memory.New()
	defer store.Close()

	now := time.Now()
	backup := Backup{Events: []occupancy.Event{
		{EntityID: "11", Closed: true, Timestamp: now.Add(-time.Hour)},
		{EntityID: "", Closed: true, Timestamp: now},
		{EntityID: "99", Closed: true, Timestamp: now},
		{EntityID: "11", Closed: false},
		{EntityID: "11", Closed: false, Timestamp: now.Add(-11 * 365 * 24 * time.Hour)},
		{EntityID: "11", Closed: false, Timestamp: now.Add(48 * time.Hour)},
	}}
	data, err := json.Marshal(backup)
	if err != nil {
		t.Fatal(err)
	}

	result, err := NewImporter(store, testReg(t)).ImportFromJSON(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.EventsImported != 1 {
		t.Errorf("Expected 1 valid event imported, got %d", result.EventsImported)
	}
	if len(result.Errors) != 5 {
		t.Errorf("Expected 5 validation errors, got %d: %v", len(result.Errors), result.Errors)
	}
}

func TestImportInvalidJSON(t *testing.T) {
	_, err := NewImporter(memory.New(), testReg(t)).ImportFromJSON(context.Background(), strings.NewReader("{not json"))
	if err == nil {
		t.Fatal("Expected decode error")
	}
}
