package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists position history. The tracker remains the
// authoritative in-memory owner; the store is a durable mirror for audit and
// archiving, written best-effort after each mutation.
type PositionStore interface {
	Upsert(ctx context.Context, pos SyntheticPosition) error
	GetByID(ctx context.Context, id string) (SyntheticPosition, error)
	ListByStatus(ctx context.Context, status PositionStatus, opts ListOpts) ([]SyntheticPosition, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]SyntheticPosition, error)
	DeleteBatch(ctx context.Context, ids []string) (int64, error)
}

// AlertStore persists risk alert history.
type AlertStore interface {
	Insert(ctx context.Context, alert RiskAlert) error
	MarkAcknowledged(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, filter AlertFilter, opts ListOpts) ([]RiskAlert, error)
	ListAcknowledgedBefore(ctx context.Context, before time.Time, limit int) ([]RiskAlert, error)
	DeleteBatch(ctx context.Context, ids []string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
