package risk

import (
	"math"
	"time"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// Parametric z-scores for the 95th and 99th percentiles.
const (
	zScore95 = 1.645
	zScore99 = 2.326
)

// minVaRSample is the smallest closed-position sample for which a VaR
// estimate is reported; below it VaR is 0.
const minVaRSample = 2

// ComputeMetrics derives a PortfolioMetrics snapshot from the given position
// set. It is a pure function: same input, same output, no internal running
// totals.
func ComputeMetrics(positions []domain.SyntheticPosition, now time.Time) domain.PortfolioMetrics {
	m := domain.PortfolioMetrics{ComputedAt: now}

	var (
		closedPnL      []float64
		wins           int
		holdingSeconds float64
	)

	for _, p := range positions {
		m.TotalPositions++
		switch p.Status {
		case domain.PositionStatusPending:
			m.PendingPositions++
		case domain.PositionStatusActive:
			m.ActivePositions++
			m.TotalExposure += p.CurrentExposure
			m.ExpectedPnL += p.Opportunity.Profit * p.Opportunity.Confidence
		case domain.PositionStatusCompleted:
			m.CompletedPositions++
			if p.RealizedPnL > 0 {
				wins++
			}
		case domain.PositionStatusCancelled:
			m.CancelledPositions++
		}

		if p.Status.Terminal() {
			m.TotalRealizedPnL += p.RealizedPnL
			closedPnL = append(closedPnL, p.RealizedPnL)
			holdingSeconds += p.HoldingPeriod(now).Seconds()
		}
	}

	mean, stddev := meanStddev(closedPnL)
	if len(closedPnL) >= minVaRSample {
		m.VaR95 = zScore95 * stddev
		m.VaR99 = zScore99 * stddev
	}
	if stddev > 0 {
		m.SharpeRatio = mean / stddev
	}
	if m.CompletedPositions > 0 {
		m.WinRate = float64(wins) / float64(m.CompletedPositions)
	}
	if n := len(closedPnL); n > 0 {
		m.AvgHoldingPeriod = holdingSeconds / float64(n)
	}

	return m
}

// SymbolExposures sums current exposure per symbol over active positions.
func SymbolExposures(positions []domain.SyntheticPosition) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range positions {
		if p.Status == domain.PositionStatusActive {
			out[p.Opportunity.Symbol] += p.CurrentExposure
		}
	}
	return out
}

// meanStddev returns the mean and sample standard deviation. The stddev of
// fewer than two samples is 0.
func meanStddev(xs []float64) (mean, stddev float64) {
	n := len(xs)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(n)

	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}
