package domain

import "time"

// PortfolioMetrics is a derived snapshot over the live position set. It is
// always recomputed from scratch, never incrementally maintained, so two
// calls with no intervening mutation yield identical values.
type PortfolioMetrics struct {
	TotalPositions     int     `json:"total_positions"`
	PendingPositions   int     `json:"pending_positions"`
	ActivePositions    int     `json:"active_positions"`
	CompletedPositions int     `json:"completed_positions"`
	CancelledPositions int     `json:"cancelled_positions"`
	TotalExposure      float64 `json:"total_exposure"`
	ExpectedPnL        float64 `json:"expected_pnl"`
	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	VaR95              float64 `json:"var_95"`
	VaR99              float64 `json:"var_99"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	WinRate            float64 `json:"win_rate"`
	AvgHoldingPeriod   float64 `json:"avg_holding_period_sec"`

	ComputedAt time.Time `json:"computed_at"`
}
