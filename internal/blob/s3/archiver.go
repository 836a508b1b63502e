package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// archiveBatchSize bounds how many rows a single archive pass moves. Larger
// backlogs are drained over successive retention ticks.
const archiveBatchSize = 5000

// ArchiveImpl implements domain.Archiver by querying the stores for aged-out
// records, serializing them to JSONL, uploading the result to S3, and then
// pruning the archived rows from the primary store. The upload happens before
// the delete, so a failure between the two steps leaves duplicate (not lost)
// data.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	positions domain.PositionStore
	alerts    domain.AlertStore
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	positions domain.PositionStore,
	alerts domain.AlertStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		positions: positions,
		alerts:    alerts,
		audit:     audit,
	}
}

// ArchivePositions moves positions closed strictly before the cutoff to S3 at
// archive/positions/YYYY-MM.jsonl and deletes them from the store. The
// archival event is recorded in the audit log and the count of archived rows
// is returned.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	ids := make([]string, len(positions))
	for i, pos := range positions {
		ids[i] = pos.ID
	}
	deleted, err := a.positions.DeleteBatch(ctx, ids)
	if err != nil {
		return deleted, fmt.Errorf("s3blob: archive positions prune: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":   path,
		"count":  deleted,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}

	return deleted, nil
}

// ArchiveAlerts moves alerts acknowledged strictly before the cutoff to S3 at
// archive/alerts/YYYY-MM.jsonl and deletes them from the store. Alerts that
// have never been acknowledged are kept regardless of age.
func (a *ArchiveImpl) ArchiveAlerts(ctx context.Context, before time.Time) (int64, error) {
	alerts, err := a.alerts.ListAcknowledgedBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts query: %w", err)
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(alerts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts marshal: %w", err)
	}

	path := archivePath("alerts", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts upload: %w", err)
	}

	ids := make([]string, len(alerts))
	for i, alert := range alerts {
		ids[i] = alert.ID
	}
	deleted, err := a.alerts.DeleteBatch(ctx, ids)
	if err != nil {
		return deleted, fmt.Errorf("s3blob: archive alerts prune: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.alerts", map[string]any{
		"path":   path,
		"count":  deleted,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive alerts audit log: %w", err)
	}

	return deleted, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2025-01.jsonl
//	archive/alerts/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
