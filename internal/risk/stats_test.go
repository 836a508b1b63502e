package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arbtrack/arbtrack/internal/domain"
)

func closedPosition(pnl float64, openedAgo, heldFor time.Duration, now time.Time) domain.SyntheticPosition {
	created := now.Add(-openedAgo)
	closed := created.Add(heldFor)
	return domain.SyntheticPosition{
		Status:      domain.PositionStatusCompleted,
		RealizedPnL: pnl,
		CreatedAt:   created,
		ClosedAt:    &closed,
	}
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil, time.Now())
	assert.Zero(t, m.TotalPositions)
	assert.Zero(t, m.TotalExposure)
	assert.Zero(t, m.VaR95)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.WinRate)
}

func TestComputeMetricsCounts(t *testing.T) {
	now := time.Now().UTC()
	positions := []domain.SyntheticPosition{
		{Status: domain.PositionStatusPending, CreatedAt: now},
		{
			Status:          domain.PositionStatusActive,
			CurrentExposure: 110000,
			Opportunity:     domain.ArbitrageOpportunity{Profit: 50, Confidence: 0.9},
			CreatedAt:       now,
		},
		closedPosition(150, time.Hour, 30*time.Minute, now),
		{Status: domain.PositionStatusCancelled, RealizedPnL: -20, CreatedAt: now.Add(-time.Hour), ClosedAt: &now},
	}

	m := ComputeMetrics(positions, now)
	assert.Equal(t, 4, m.TotalPositions)
	assert.Equal(t, 1, m.PendingPositions)
	assert.Equal(t, 1, m.ActivePositions)
	assert.Equal(t, 1, m.CompletedPositions)
	assert.Equal(t, 1, m.CancelledPositions)

	// Exposure and expected PnL come from active positions only.
	assert.InDelta(t, 110000, m.TotalExposure, 1e-9)
	assert.InDelta(t, 45, m.ExpectedPnL, 1e-9)

	// Realized PnL sums over both terminal statuses.
	assert.InDelta(t, 130, m.TotalRealizedPnL, 1e-9)

	// Win rate counts completed positions only: 1 win of 1 completed.
	assert.InDelta(t, 1.0, m.WinRate, 1e-9)
}

func TestComputeMetricsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	positions := []domain.SyntheticPosition{
		closedPosition(100, 2*time.Hour, time.Hour, now),
		closedPosition(-50, 3*time.Hour, time.Hour, now),
		{Status: domain.PositionStatusActive, CurrentExposure: 500, CreatedAt: now},
	}

	a := ComputeMetrics(positions, now)
	b := ComputeMetrics(positions, now)
	assert.Equal(t, a, b)
}

func TestVaRRequiresTwoClosedPositions(t *testing.T) {
	now := time.Now().UTC()

	one := []domain.SyntheticPosition{closedPosition(100, time.Hour, time.Hour, now)}
	m := ComputeMetrics(one, now)
	assert.Zero(t, m.VaR95)
	assert.Zero(t, m.VaR99)

	two := append(one, closedPosition(-60, time.Hour, time.Hour, now))
	m = ComputeMetrics(two, now)

	// Sample stddev of {100, -60} is |100-(-60)|/sqrt(2).
	stddev := 160 / math.Sqrt2
	assert.InDelta(t, 1.645*stddev, m.VaR95, 1e-9)
	assert.InDelta(t, 2.326*stddev, m.VaR99, 1e-9)
	assert.Less(t, m.VaR95, m.VaR99)
}

func TestSharpeZeroWhenNoVariance(t *testing.T) {
	now := time.Now().UTC()
	positions := []domain.SyntheticPosition{
		closedPosition(100, time.Hour, time.Hour, now),
		closedPosition(100, time.Hour, time.Hour, now),
	}
	m := ComputeMetrics(positions, now)
	assert.Zero(t, m.SharpeRatio)
}

func TestSharpe(t *testing.T) {
	now := time.Now().UTC()
	positions := []domain.SyntheticPosition{
		closedPosition(100, time.Hour, time.Hour, now),
		closedPosition(-60, time.Hour, time.Hour, now),
	}
	m := ComputeMetrics(positions, now)

	mean := 20.0
	stddev := 160 / math.Sqrt2
	assert.InDelta(t, mean/stddev, m.SharpeRatio, 1e-9)
}

func TestAvgHoldingPeriod(t *testing.T) {
	now := time.Now().UTC()
	positions := []domain.SyntheticPosition{
		closedPosition(10, 2*time.Hour, time.Hour, now),
		closedPosition(10, 3*time.Hour, 2*time.Hour, now),
	}
	m := ComputeMetrics(positions, now)
	assert.InDelta(t, (1.5 * time.Hour.Seconds()), m.AvgHoldingPeriod, 1e-6)
}

func TestSymbolExposures(t *testing.T) {
	positions := []domain.SyntheticPosition{
		{Status: domain.PositionStatusActive, CurrentExposure: 100, Opportunity: domain.ArbitrageOpportunity{Symbol: "A"}},
		{Status: domain.PositionStatusActive, CurrentExposure: 50, Opportunity: domain.ArbitrageOpportunity{Symbol: "A"}},
		{Status: domain.PositionStatusActive, CurrentExposure: 30, Opportunity: domain.ArbitrageOpportunity{Symbol: "B"}},
		{Status: domain.PositionStatusPending, CurrentExposure: 999, Opportunity: domain.ArbitrageOpportunity{Symbol: "C"}},
	}
	got := SymbolExposures(positions)
	assert.InDelta(t, 150, got["A"], 1e-9)
	assert.InDelta(t, 30, got["B"], 1e-9)
	assert.NotContains(t, got, "C")
}

func TestMeanStddev(t *testing.T) {
	mean, stddev := meanStddev(nil)
	assert.Zero(t, mean)
	assert.Zero(t, stddev)

	mean, stddev = meanStddev([]float64{42})
	assert.Equal(t, 42.0, mean)
	assert.Zero(t, stddev)

	mean, stddev = meanStddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(32.0/7.0), stddev, 1e-9)
}
