package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, alert_type, severity, message, symbol,
	threshold, current_value, acknowledged, created_at, acknowledged_at`

// Insert persists a newly raised alert.
func (s *AlertStore) Insert(ctx context.Context, a domain.RiskAlert) error {
	const query = `
		INSERT INTO risk_alerts (
			id, alert_type, severity, message, symbol,
			threshold, current_value, acknowledged, created_at, acknowledged_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, string(a.Type), string(a.Severity), a.Message, a.Symbol,
		a.Threshold, a.CurrentValue, a.Acknowledged, a.CreatedAt, a.AcknowledgedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert %s: %w", a.ID, err)
	}
	return nil
}

// MarkAcknowledged records the acknowledgment timestamp. Rows already
// acknowledged are left untouched.
func (s *AlertStore) MarkAcknowledged(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE risk_alerts SET acknowledged = TRUE, acknowledged_at = $2
		WHERE id = $1 AND acknowledged = FALSE`

	if _, err := s.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("postgres: acknowledge alert %s: %w", id, err)
	}
	return nil
}

// List returns stored alerts matching the filter, newest first.
func (s *AlertStore) List(ctx context.Context, filter domain.AlertFilter, opts domain.ListOpts) ([]domain.RiskAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM risk_alerts WHERE 1=1`
	args := []any{}

	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND alert_type = $%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if filter.Unacknowledged {
		query += " AND acknowledged = FALSE"
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListAcknowledgedBefore returns acknowledged alerts created before the
// cutoff, oldest first, for the retention archiver.
func (s *AlertStore) ListAcknowledgedBefore(ctx context.Context, before time.Time, limit int) ([]domain.RiskAlert, error) {
	query := `SELECT ` + alertSelectCols + `
		FROM risk_alerts
		WHERE acknowledged = TRUE AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list acknowledged alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// DeleteBatch removes the given alert rows and returns how many were deleted.
func (s *AlertStore) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM risk_alerts WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAlerts(rows pgx.Rows) ([]domain.RiskAlert, error) {
	var alerts []domain.RiskAlert
	for rows.Next() {
		var (
			a              domain.RiskAlert
			alertType, sev string
		)
		if err := rows.Scan(
			&a.ID, &alertType, &sev, &a.Message, &a.Symbol,
			&a.Threshold, &a.CurrentValue, &a.Acknowledged, &a.CreatedAt, &a.AcknowledgedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		a.Type = domain.AlertType(alertType)
		a.Severity = domain.AlertSeverity(sev)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
