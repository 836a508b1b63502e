package domain

import "time"

// TickSide is the aggressor side of a market observation.
type TickSide string

const (
	TickSideBuy  TickSide = "buy"
	TickSideSell TickSide = "sell"
)

// OddsTick is a single immutable market observation from an upstream feed.
// Sequence is optional; 0 means the feed did not assign one.
type OddsTick struct {
	ID        string   `json:"id"`
	Timestamp int64    `json:"timestamp"` // ms since epoch
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price"`
	Size      float64  `json:"size"`
	Exchange  string   `json:"exchange"`
	Side      TickSide `json:"side"`
	Sequence  int64    `json:"sequence,omitempty"`
}

// Time returns the tick timestamp as a time.Time.
func (t OddsTick) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// PriceLevel is a single price+size entry in an order book ladder.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// MarketData is an order-book snapshot for one symbol. Bids are ordered by
// strictly descending price, asks by strictly ascending price, and the best
// bid must stay below the best ask.
type MarketData struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
	Sequence  int64        `json:"sequence,omitempty"`
}

// BestBid returns the top bid price, or 0 when the bid side is empty.
func (m MarketData) BestBid() float64 {
	if len(m.Bids) == 0 {
		return 0
	}
	return m.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the ask side is empty.
func (m MarketData) BestAsk() float64 {
	if len(m.Asks) == 0 {
		return 0
	}
	return m.Asks[0].Price
}

// ArbitrageOpportunity is a detected price discrepancy between two exchanges
// for the same symbol. Exchanges and prices must differ and profit must be
// positive; confidence is bounded to [0,1].
type ArbitrageOpportunity struct {
	Symbol     string  `json:"symbol"`
	Exchange1  string  `json:"exchange1"`
	Exchange2  string  `json:"exchange2"`
	Price1     float64 `json:"price1"`
	Price2     float64 `json:"price2"`
	Profit     float64 `json:"profit"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}
