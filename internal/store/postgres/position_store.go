package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Legs,
// opportunity, and metadata are stored as JSONB; the in-memory tracker
// remains authoritative and this table is a durable mirror.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, opportunity, legs, status, current_exposure,
	realized_pnl, metadata, created_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.SyntheticPosition, error) {
	var (
		p                         domain.SyntheticPosition
		status                    string
		oppJSON, legsJSON, mdJSON []byte
	)

	err := row.Scan(
		&p.ID, &oppJSON, &legsJSON, &status,
		&p.CurrentExposure, &p.RealizedPnL, &mdJSON,
		&p.CreatedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.SyntheticPosition{}, err
	}
	p.Status = domain.PositionStatus(status)

	if err := json.Unmarshal(oppJSON, &p.Opportunity); err != nil {
		return domain.SyntheticPosition{}, fmt.Errorf("unmarshal opportunity: %w", err)
	}
	if err := json.Unmarshal(legsJSON, &p.Legs); err != nil {
		return domain.SyntheticPosition{}, fmt.Errorf("unmarshal legs: %w", err)
	}
	if mdJSON != nil {
		if err := json.Unmarshal(mdJSON, &p.Metadata); err != nil {
			return domain.SyntheticPosition{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return p, nil
}

// Upsert inserts or replaces the stored copy of a position.
func (s *PositionStore) Upsert(ctx context.Context, p domain.SyntheticPosition) error {
	oppJSON, err := json.Marshal(p.Opportunity)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity: %w", err)
	}
	legsJSON, err := json.Marshal(p.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal legs: %w", err)
	}
	mdJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO positions (
			id, opportunity, legs, status, current_exposure,
			realized_pnl, metadata, created_at, updated_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			opportunity      = EXCLUDED.opportunity,
			legs             = EXCLUDED.legs,
			status           = EXCLUDED.status,
			current_exposure = EXCLUDED.current_exposure,
			realized_pnl     = EXCLUDED.realized_pnl,
			metadata         = EXCLUDED.metadata,
			updated_at       = EXCLUDED.updated_at,
			closed_at        = EXCLUDED.closed_at`

	_, err = s.pool.Exec(ctx, query,
		p.ID, oppJSON, legsJSON, string(p.Status),
		p.CurrentExposure, p.RealizedPnL, mdJSON,
		p.CreatedAt, p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns one stored position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.SyntheticPosition, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SyntheticPosition{}, domain.ErrPositionNotFound
		}
		return domain.SyntheticPosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByStatus returns stored positions in the given status, newest first.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.SyntheticPosition, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status %s: %w", status, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListClosedBefore returns terminal positions closed before the cutoff,
// oldest first, for the retention archiver.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.SyntheticPosition, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE status IN ('completed', 'cancelled') AND closed_at < $1
		ORDER BY closed_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// DeleteBatch removes the given position rows and returns how many were deleted.
func (s *PositionStore) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectPositions(rows pgx.Rows) ([]domain.SyntheticPosition, error) {
	var positions []domain.SyntheticPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
