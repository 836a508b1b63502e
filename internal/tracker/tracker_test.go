package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbtrack/arbtrack/internal/bus"
	"github.com/arbtrack/arbtrack/internal/domain"
	"github.com/arbtrack/arbtrack/internal/validate"
)

func newTestTracker() (*Tracker, *bus.Bus) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	return New(b, nil, nil, logger), b
}

func testOpportunity() domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		Symbol:     "NBA-LAL-BOS",
		Exchange1:  "betfair",
		Exchange2:  "pinnacle",
		Price1:     1.90,
		Price2:     2.05,
		Profit:     50,
		Confidence: 0.9,
		Timestamp:  1700000000000,
	}
}

func TestAddPosition(t *testing.T) {
	trk, b := newTestTracker()

	var events []domain.Event
	b.SubscribeAll(func(evt domain.Event) { events = append(events, evt) })

	pos, err := trk.AddPosition(context.Background(), testOpportunity(), domain.PositionMetadata{Notes: "demo"})
	require.NoError(t, err)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.PositionStatusPending, pos.Status)
	assert.Zero(t, pos.CurrentExposure)
	require.Len(t, pos.Legs, 2)

	// Buy on the cheaper exchange, sell on the richer one.
	assert.Equal(t, "betfair:NBA-LAL-BOS", pos.Legs[0].Market)
	assert.Equal(t, domain.TickSideBuy, pos.Legs[0].Side)
	assert.Equal(t, "pinnacle:NBA-LAL-BOS", pos.Legs[1].Market)
	assert.Equal(t, domain.TickSideSell, pos.Legs[1].Side)

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPositionAdded, events[0].Type)
}

func TestAddPositionRejectsInvalidOpportunity(t *testing.T) {
	trk, _ := newTestTracker()

	opp := testOpportunity()
	opp.Exchange2 = opp.Exchange1

	_, err := trk.AddPosition(context.Background(), opp, domain.PositionMetadata{})
	require.Error(t, err)

	var verr *validate.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestUpdateLegExecution(t *testing.T) {
	trk, b := newTestTracker()
	ctx := context.Background()

	pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{})
	require.NoError(t, err)

	var updated []domain.Event
	b.Subscribe(domain.EventPositionUpdated, func(evt domain.Event) { updated = append(updated, evt) })

	got, err := trk.UpdateLegExecution(ctx, pos.ID, 0, domain.LegFill{
		Price: -110, Quantity: 1000, Commission: 0,
	})
	require.NoError(t, err)

	// Short leg notional counts as positive exposure.
	assert.Equal(t, domain.PositionStatusActive, got.Status)
	assert.InDelta(t, 110000, got.CurrentExposure, 1e-9)
	assert.Equal(t, domain.LegStatusFilled, got.Legs[0].Status)
	assert.Equal(t, domain.LegStatusPending, got.Legs[1].Status)
	require.Len(t, updated, 1)
}

func TestUpdateLegPartialFill(t *testing.T) {
	trk, _ := newTestTracker()
	ctx := context.Background()

	pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{})
	require.NoError(t, err)

	got, err := trk.UpdateLegExecution(ctx, pos.ID, 1, domain.LegFill{
		Price: 2.05, Quantity: 40, Commission: 1.5, Partial: true,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.LegStatusPartial, got.Legs[1].Status)
	assert.Equal(t, domain.PositionStatusActive, got.Status)
	assert.InDelta(t, 2.05*40-1.5, got.CurrentExposure, 1e-9)
}

func TestUpdateLegErrors(t *testing.T) {
	trk, _ := newTestTracker()
	ctx := context.Background()

	pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{})
	require.NoError(t, err)

	_, err = trk.UpdateLegExecution(ctx, "missing", 0, domain.LegFill{Price: 1, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)

	_, err = trk.UpdateLegExecution(ctx, pos.ID, 2, domain.LegFill{Price: 1, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrLegIndexOutOfRange)

	_, err = trk.UpdateLegExecution(ctx, pos.ID, -1, domain.LegFill{Price: 1, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrLegIndexOutOfRange)

	_, err = trk.ClosePosition(ctx, pos.ID, domain.PositionStatusCancelled, 0)
	require.NoError(t, err)

	_, err = trk.UpdateLegExecution(ctx, pos.ID, 0, domain.LegFill{Price: 1, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestClosePosition(t *testing.T) {
	trk, b := newTestTracker()
	ctx := context.Background()

	pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{})
	require.NoError(t, err)

	var closed []domain.Event
	b.Subscribe(domain.EventPositionClosed, func(evt domain.Event) { closed = append(closed, evt) })

	got, err := trk.ClosePosition(ctx, pos.ID, domain.PositionStatusCompleted, 150)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusCompleted, got.Status)
	assert.Equal(t, 150.0, got.RealizedPnL)
	require.NotNil(t, got.ClosedAt)
	require.Len(t, closed, 1)

	// Terminal is final.
	_, err = trk.ClosePosition(ctx, pos.ID, domain.PositionStatusCancelled, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCloseRequiresTerminalReason(t *testing.T) {
	trk, _ := newTestTracker()
	ctx := context.Background()

	pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{})
	require.NoError(t, err)

	_, err = trk.ClosePosition(ctx, pos.ID, domain.PositionStatusActive, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// The position is untouched.
	got, err := trk.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, got.Status)
}

func TestGetPositionReturnsCopy(t *testing.T) {
	trk, _ := newTestTracker()
	ctx := context.Background()

	pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{Tags: []string{"a"}})
	require.NoError(t, err)

	got, err := trk.GetPosition(pos.ID)
	require.NoError(t, err)

	// Mutating the returned copy must not leak into tracker state.
	got.Legs[0].Status = domain.LegStatusFilled
	got.Metadata.Tags[0] = "mutated"

	again, err := trk.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LegStatusPending, again.Legs[0].Status)
	assert.Equal(t, "a", again.Metadata.Tags[0])

	_, err = trk.GetPosition("missing")
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestSnapshotOrdering(t *testing.T) {
	trk, _ := newTestTracker()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{})
		require.NoError(t, err)
		ids = append(ids, pos.ID)
	}

	snap := trk.Snapshot()
	require.Len(t, snap, 5)
	for i := 1; i < len(snap); i++ {
		assert.False(t, snap[i].CreatedAt.Before(snap[i-1].CreatedAt))
	}

	seen := make(map[string]bool)
	for _, p := range snap {
		seen[p.ID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id])
	}
}

func TestExposureProperty(t *testing.T) {
	// Exposure is recomputed from scratch, so it must equal the sum of
	// |price*qty|-commission over filled legs for any random fill set.
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 100; trial++ {
		legs := make([]domain.MarketLeg, rng.Intn(6))
		var want float64
		for i := range legs {
			price := rng.Float64()*400 - 200 // may be negative (American odds)
			qty := rng.Float64() * 1000
			comm := rng.Float64() * 5
			status := domain.LegStatusPending
			switch rng.Intn(3) {
			case 0:
				status = domain.LegStatusFilled
			case 1:
				status = domain.LegStatusPartial
			}
			legs[i] = domain.MarketLeg{
				Side: domain.TickSideBuy, Status: status,
				FillPrice: price, FillQty: qty, Commission: comm,
			}
			if legs[i].Filled() {
				want += math.Abs(price*qty) - comm
			}
		}
		assert.InDelta(t, want, Exposure(legs), 1e-9)
	}
}

func TestExposureIdempotentAcrossRepeatedFills(t *testing.T) {
	trk, _ := newTestTracker()
	ctx := context.Background()

	pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{})
	require.NoError(t, err)

	// Re-applying the same fill replaces, never accumulates.
	for i := 0; i < 10; i++ {
		got, err := trk.UpdateLegExecution(ctx, pos.ID, 0, domain.LegFill{Price: 1.9, Quantity: 100, Commission: 2})
		require.NoError(t, err)
		assert.InDelta(t, 1.9*100-2, got.CurrentExposure, 1e-9)
	}
}

func TestLifecycleScenario(t *testing.T) {
	// Open from a 50-profit 0.9-confidence opportunity, fill the short leg at
	// -110 x 1000, then settle for +150.
	trk, _ := newTestTracker()
	ctx := context.Background()

	pos, err := trk.AddPosition(ctx, testOpportunity(), domain.PositionMetadata{})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, pos.Status)

	pos, err = trk.UpdateLegExecution(ctx, pos.ID, 0, domain.LegFill{Price: -110, Quantity: 1000})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)
	assert.InDelta(t, 110000, pos.CurrentExposure, 1e-9)

	pos, err = trk.ClosePosition(ctx, pos.ID, domain.PositionStatusCompleted, 150)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusCompleted, pos.Status)
	assert.Equal(t, 150.0, pos.RealizedPnL)
}
