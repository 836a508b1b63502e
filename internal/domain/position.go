package domain

import "time"

// PositionStatus tracks where a synthetic position sits in its lifecycle.
// Completed and cancelled are terminal; no transition leaves them.
type PositionStatus string

const (
	PositionStatusPending   PositionStatus = "pending"
	PositionStatusActive    PositionStatus = "active"
	PositionStatusCompleted PositionStatus = "completed"
	PositionStatusCancelled PositionStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusCompleted || s == PositionStatusCancelled
}

// LegStatus is the fill state of one leg.
type LegStatus string

const (
	LegStatusPending   LegStatus = "pending"
	LegStatusFilled    LegStatus = "filled"
	LegStatusPartial   LegStatus = "partial"
	LegStatusCancelled LegStatus = "cancelled"
)

// MarketLeg is one constituent order of a synthetic position. Legs are owned
// by their parent position and are only mutated through the tracker's
// leg-execution API.
type MarketLeg struct {
	Market       string    `json:"market"`
	Side         TickSide  `json:"side"`
	RequestedQty float64   `json:"requested_qty"`
	Status       LegStatus `json:"status"`
	FillPrice    float64   `json:"fill_price"`
	FillQty      float64   `json:"fill_qty"`
	Commission   float64   `json:"commission"`
}

// Filled reports whether the leg contributes to exposure.
func (l MarketLeg) Filled() bool {
	return l.Status == LegStatusFilled || l.Status == LegStatusPartial
}

// LegFill carries the execution details applied to a leg.
type LegFill struct {
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	Commission float64 `json:"commission"`
	Partial    bool    `json:"partial"`
}

// PositionMetadata is the closed set of well-known annotation keys plus a
// free-form Extra bag for anything else callers want to attach.
type PositionMetadata struct {
	Notes    string            `json:"notes,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Assignee string            `json:"assignee,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// SyntheticPosition is a multi-leg arbitrage position. It is owned
// exclusively by the tracker; everything handed outward is a deep copy.
type SyntheticPosition struct {
	ID              string               `json:"id"`
	Opportunity     ArbitrageOpportunity `json:"opportunity"`
	Legs            []MarketLeg          `json:"legs"`
	Status          PositionStatus       `json:"status"`
	CurrentExposure float64              `json:"current_exposure"`
	RealizedPnL     float64              `json:"realized_pnl"`
	Metadata        PositionMetadata     `json:"metadata"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	ClosedAt        *time.Time           `json:"closed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other components.
func (p SyntheticPosition) Clone() SyntheticPosition {
	out := p
	out.Legs = make([]MarketLeg, len(p.Legs))
	copy(out.Legs, p.Legs)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	if p.Metadata.Tags != nil {
		out.Metadata.Tags = append([]string(nil), p.Metadata.Tags...)
	}
	if p.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]string, len(p.Metadata.Extra))
		for k, v := range p.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return out
}

// HoldingPeriod returns the time the position was (or has been) open.
func (p SyntheticPosition) HoldingPeriod(now time.Time) time.Duration {
	if p.ClosedAt != nil {
		return p.ClosedAt.Sub(p.CreatedAt)
	}
	return now.Sub(p.CreatedAt)
}
