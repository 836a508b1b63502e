// Package tracker owns the lifecycle of synthetic arbitrage positions. It is
// the single writer for position state: every mutation goes through one of
// its serialized methods, and everything handed outward is a deep copy.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbtrack/arbtrack/internal/bus"
	"github.com/arbtrack/arbtrack/internal/domain"
	"github.com/arbtrack/arbtrack/internal/validate"
)

// Tracker maintains the live position set. Construct one per process at the
// composition root and pass the handle to every component that needs it; no
// package-level instance exists.
type Tracker struct {
	mu        sync.Mutex
	positions map[string]*domain.SyntheticPosition

	bus    *bus.Bus
	store  domain.PositionStore // optional durable mirror
	audit  domain.AuditStore    // optional
	logger *slog.Logger
}

// New creates a Tracker. store and audit may be nil; persistence is a
// best-effort mirror and never fails a mutation.
func New(b *bus.Bus, store domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		positions: make(map[string]*domain.SyntheticPosition),
		bus:       b,
		store:     store,
		audit:     audit,
		logger:    logger.With(slog.String("component", "tracker")),
	}
}

// AddPosition opens a new position from a structurally valid opportunity.
// Legs are derived from the opportunity: a buy on the cheaper exchange and a
// sell on the richer one, both initially pending.
func (t *Tracker) AddPosition(ctx context.Context, opp domain.ArbitrageOpportunity, meta domain.PositionMetadata) (domain.SyntheticPosition, error) {
	if err := validate.Opportunity(opp); err != nil {
		return domain.SyntheticPosition{}, fmt.Errorf("tracker: add position: %w", err)
	}

	now := time.Now().UTC()
	pos := &domain.SyntheticPosition{
		ID:          uuid.NewString(),
		Opportunity: opp,
		Legs:        legsFromOpportunity(opp),
		Status:      domain.PositionStatusPending,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	t.mu.Lock()
	t.positions[pos.ID] = pos
	snap := pos.Clone()
	t.mu.Unlock()

	t.persist(ctx, snap)
	t.auditLog(ctx, "position_added", map[string]any{
		"position_id": snap.ID,
		"symbol":      opp.Symbol,
		"profit":      opp.Profit,
		"confidence":  opp.Confidence,
	})
	t.logger.InfoContext(ctx, "position added",
		slog.String("position_id", snap.ID),
		slog.String("symbol", opp.Symbol),
	)
	t.bus.Publish(domain.Event{Type: domain.EventPositionAdded, At: now, Data: snap})

	return snap, nil
}

func legsFromOpportunity(opp domain.ArbitrageOpportunity) []domain.MarketLeg {
	buyExchange, sellExchange := opp.Exchange1, opp.Exchange2
	if opp.Price1 > opp.Price2 {
		buyExchange, sellExchange = opp.Exchange2, opp.Exchange1
	}
	return []domain.MarketLeg{
		{Market: buyExchange + ":" + opp.Symbol, Side: domain.TickSideBuy, Status: domain.LegStatusPending},
		{Market: sellExchange + ":" + opp.Symbol, Side: domain.TickSideSell, Status: domain.LegStatusPending},
	}
}

// UpdateLegExecution records a fill against one leg, recomputes exposure
// from the full leg list, and promotes a pending position to active once any
// leg has filled.
func (t *Tracker) UpdateLegExecution(ctx context.Context, positionID string, legIndex int, fill domain.LegFill) (domain.SyntheticPosition, error) {
	now := time.Now().UTC()

	t.mu.Lock()
	pos, ok := t.positions[positionID]
	if !ok {
		t.mu.Unlock()
		return domain.SyntheticPosition{}, fmt.Errorf("tracker: update leg: %w", domain.ErrPositionNotFound)
	}
	if legIndex < 0 || legIndex >= len(pos.Legs) {
		t.mu.Unlock()
		return domain.SyntheticPosition{}, fmt.Errorf("tracker: update leg %d of %d: %w", legIndex, len(pos.Legs), domain.ErrLegIndexOutOfRange)
	}
	if pos.Status.Terminal() {
		t.mu.Unlock()
		return domain.SyntheticPosition{}, fmt.Errorf("tracker: update leg on %s position: %w", pos.Status, domain.ErrInvalidTransition)
	}

	leg := &pos.Legs[legIndex]
	leg.FillPrice = fill.Price
	leg.FillQty = fill.Quantity
	leg.Commission = fill.Commission
	if fill.Partial {
		leg.Status = domain.LegStatusPartial
	} else {
		leg.Status = domain.LegStatusFilled
	}

	pos.CurrentExposure = Exposure(pos.Legs)
	if pos.Status == domain.PositionStatusPending && anyFilled(pos.Legs) {
		pos.Status = domain.PositionStatusActive
	}
	pos.UpdatedAt = now
	snap := pos.Clone()
	t.mu.Unlock()

	t.persist(ctx, snap)
	t.logger.DebugContext(ctx, "leg executed",
		slog.String("position_id", snap.ID),
		slog.Int("leg_index", legIndex),
		slog.Float64("fill_price", fill.Price),
		slog.Float64("fill_qty", fill.Quantity),
		slog.Float64("exposure", snap.CurrentExposure),
	)
	t.bus.Publish(domain.Event{Type: domain.EventPositionUpdated, At: now, Data: snap})

	return snap, nil
}

// ClosePosition moves a position to a terminal status, recording realized
// PnL and the closing timestamp. Closing an already-terminal position fails
// with ErrInvalidTransition.
func (t *Tracker) ClosePosition(ctx context.Context, positionID string, reason domain.PositionStatus, realizedPnL float64) (domain.SyntheticPosition, error) {
	if !reason.Terminal() {
		return domain.SyntheticPosition{}, fmt.Errorf("tracker: close reason %q is not terminal: %w", reason, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()

	t.mu.Lock()
	pos, ok := t.positions[positionID]
	if !ok {
		t.mu.Unlock()
		return domain.SyntheticPosition{}, fmt.Errorf("tracker: close position: %w", domain.ErrPositionNotFound)
	}
	if pos.Status.Terminal() {
		t.mu.Unlock()
		return domain.SyntheticPosition{}, fmt.Errorf("tracker: close %s position: %w", pos.Status, domain.ErrInvalidTransition)
	}

	pos.Status = reason
	pos.RealizedPnL = realizedPnL
	pos.ClosedAt = &now
	pos.UpdatedAt = now
	snap := pos.Clone()
	t.mu.Unlock()

	t.persist(ctx, snap)
	t.auditLog(ctx, "position_closed", map[string]any{
		"position_id":  snap.ID,
		"reason":       string(reason),
		"realized_pnl": realizedPnL,
	})
	t.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", snap.ID),
		slog.String("reason", string(reason)),
		slog.Float64("realized_pnl", realizedPnL),
	)
	t.bus.Publish(domain.Event{Type: domain.EventPositionClosed, At: now, Data: snap})

	return snap, nil
}

// GetPosition returns a copy of one position.
func (t *Tracker) GetPosition(id string) (domain.SyntheticPosition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[id]
	if !ok {
		return domain.SyntheticPosition{}, domain.ErrPositionNotFound
	}
	return pos.Clone(), nil
}

// Snapshot returns copies of every position, ordered by creation time. Risk
// analytics recomputes metrics over this immutable view without blocking
// writers for the duration of the computation.
func (t *Tracker) Snapshot() []domain.SyntheticPosition {
	t.mu.Lock()
	out := make([]domain.SyntheticPosition, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, pos.Clone())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Exposure recomputes net notional at risk from scratch over a leg list:
// the absolute notional of every filled leg, net of commissions. It is a
// pure function so repeated fills never accumulate floating-point drift.
func Exposure(legs []domain.MarketLeg) float64 {
	var total float64
	for _, leg := range legs {
		if !leg.Filled() {
			continue
		}
		total += math.Abs(leg.FillPrice*leg.FillQty) - leg.Commission
	}
	return total
}

func anyFilled(legs []domain.MarketLeg) bool {
	for _, leg := range legs {
		if leg.Filled() {
			return true
		}
	}
	return false
}

// persist mirrors the snapshot to the durable store. Store failures are
// logged and never fail the mutation; the in-memory set stays authoritative.
func (t *Tracker) persist(ctx context.Context, pos domain.SyntheticPosition) {
	if t.store == nil {
		return
	}
	if err := t.store.Upsert(ctx, pos); err != nil {
		t.logger.WarnContext(ctx, "position store upsert failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Tracker) auditLog(ctx context.Context, event string, detail map[string]any) {
	if t.audit == nil {
		return
	}
	if err := t.audit.Log(ctx, event, detail); err != nil {
		t.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
