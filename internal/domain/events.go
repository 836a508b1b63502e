package domain

import "time"

// EventType names a domain event on the internal bus. The string values are
// part of the broadcast wire contract and must not change.
type EventType string

const (
	EventPositionAdded   EventType = "positionAdded"
	EventPositionUpdated EventType = "positionUpdated"
	EventPositionClosed  EventType = "positionClosed"
	EventRiskAlert       EventType = "riskAlert"
	EventOddsUpdate      EventType = "odds-update"
	EventArbitrageAlert  EventType = "arbitrage-alert"
)

// Event is an immutable notification emitted by the tracker or the risk
// engine. Data is always a value copy, never a live pointer into tracker
// state.
type Event struct {
	Type EventType
	At   time.Time
	Data any
}
