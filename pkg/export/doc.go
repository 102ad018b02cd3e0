// Package export moves door events and usage reports out of (and back into)
// roomwatch.
//
// # Event backups
//
// GET /v1/export writes the raw event log for a time range:
//   - format=json: a Backup document with a metadata header, re-importable
//   - format=csv: one row per event (timestamp, entity_id, is_closed, id, seq)
//
// Example:
//
//	curl "http://localhost:8080/v1/export?format=json&start=2019-01-01T00:00:00Z&end=2019-01-31T00:00:00Z" \
//	  -o backup.json
//
// POST /v1/import restores either format, selected by Content-Type:
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/json" \
//	  -d @backup.json
//
// Imports are idempotent: an event whose entity, timestamp and state are
// already stored is skipped, so a backup can be replayed safely. Events of
// entities missing from the registry, or with timestamps more than ten years
// old or a day in the future, are reported in the result's errors and
// skipped. Valid events are appended in batches of MaxImportBatchSize.
//
// # Report exports
//
// GET /v1/logs/export takes the /logs window parameters plus
// format=csv|xlsx|pdf and renders the same report as a file: one row per
// bucket and group with its frequency and occupancy. The XLSX workbook adds
// a per-group summary sheet.
//
// # Limits
//
// Event exports span at most 90 days (24 hours by default). Import bodies are
// capped at 64 MiB.
package export
