// Package validate enforces the business rules for ticks, order-book
// snapshots, and arbitrage opportunities. Validation never short-circuits: a
// ValidationError enumerates every violated field so callers can report all
// problems in one pass.
package validate

import (
	"fmt"
	"strings"

	"github.com/arbtrack/arbtrack/internal/domain"
)

const (
	maxSymbolLen   = 32
	maxExchangeLen = 32
)

// Issue describes one violated rule on one field.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   int    `json:"index,omitempty"` // position in a batch or stream
}

// Issue codes. Stable strings; clients match on them.
const (
	CodeMissing          = "missing"
	CodeNonPositive      = "non_positive"
	CodeNegative         = "negative"
	CodeTooLong          = "too_long"
	CodeInvalidSide      = "invalid_side"
	CodeInvalidSpread    = "invalid_spread"
	CodeNotDescending    = "not_descending"
	CodeNotAscending     = "not_ascending"
	CodeSameExchange     = "same_exchange"
	CodeSamePrice        = "same_price"
	CodeOutOfRange       = "out_of_range"
	CodeTimestampRegress = "timestamp_regression"
	CodeSequenceRegress  = "sequence_not_increasing"
	CodeLikelyDuplicate  = "likely_duplicate"
)

// ValidationError aggregates every issue found on one record. It is always a
// list; a record with three bad fields produces one error with three issues.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", iss.Field, iss.Code)
	}
	return fmt.Sprintf("validation failed (%d issues): %s", len(e.Issues), strings.Join(parts, ", "))
}

func errOrNil(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// Tick checks a single tick against the schema rules: positive price and
// size, bounded non-empty symbol and exchange, a known side, and a
// non-negative sequence when one is present.
func Tick(t domain.OddsTick) error {
	var issues []Issue

	if strings.TrimSpace(t.ID) == "" {
		issues = append(issues, Issue{Field: "id", Code: CodeMissing, Message: "tick id is required"})
	}
	if t.Timestamp <= 0 {
		issues = append(issues, Issue{Field: "timestamp", Code: CodeNonPositive, Message: "timestamp must be positive"})
	}
	issues = append(issues, checkName("symbol", t.Symbol, maxSymbolLen)...)
	issues = append(issues, checkName("exchange", t.Exchange, maxExchangeLen)...)
	if t.Price <= 0 {
		issues = append(issues, Issue{Field: "price", Code: CodeNonPositive, Message: fmt.Sprintf("price %v must be positive", t.Price)})
	}
	if t.Size <= 0 {
		issues = append(issues, Issue{Field: "size", Code: CodeNonPositive, Message: fmt.Sprintf("size %v must be positive", t.Size)})
	}
	if t.Side != domain.TickSideBuy && t.Side != domain.TickSideSell {
		issues = append(issues, Issue{Field: "side", Code: CodeInvalidSide, Message: fmt.Sprintf("side %q must be buy or sell", t.Side)})
	}
	if t.Sequence < 0 {
		issues = append(issues, Issue{Field: "sequence", Code: CodeNegative, Message: "sequence must be non-negative"})
	}

	return errOrNil(issues)
}

func checkName(field, v string, maxLen int) []Issue {
	var issues []Issue
	if strings.TrimSpace(v) == "" {
		issues = append(issues, Issue{Field: field, Code: CodeMissing, Message: field + " is required"})
	} else if len(v) > maxLen {
		issues = append(issues, Issue{Field: field, Code: CodeTooLong, Message: fmt.Sprintf("%s exceeds %d characters", field, maxLen)})
	}
	return issues
}

// MarketData checks an order-book snapshot: bid prices strictly descending,
// ask prices strictly ascending, and best bid below best ask.
func MarketData(m domain.MarketData) error {
	var issues []Issue

	issues = append(issues, checkName("symbol", m.Symbol, maxSymbolLen)...)

	for i := 1; i < len(m.Bids); i++ {
		if m.Bids[i].Price >= m.Bids[i-1].Price {
			issues = append(issues, Issue{
				Field: "bids", Code: CodeNotDescending, Index: i,
				Message: fmt.Sprintf("bid level %d price %v not below previous %v", i, m.Bids[i].Price, m.Bids[i-1].Price),
			})
		}
	}
	for i := 1; i < len(m.Asks); i++ {
		if m.Asks[i].Price <= m.Asks[i-1].Price {
			issues = append(issues, Issue{
				Field: "asks", Code: CodeNotAscending, Index: i,
				Message: fmt.Sprintf("ask level %d price %v not above previous %v", i, m.Asks[i].Price, m.Asks[i-1].Price),
			})
		}
	}
	if len(m.Bids) > 0 && len(m.Asks) > 0 && m.BestBid() >= m.BestAsk() {
		issues = append(issues, Issue{
			Field: "book", Code: CodeInvalidSpread,
			Message: fmt.Sprintf("crossed book: best bid %v >= best ask %v", m.BestBid(), m.BestAsk()),
		})
	}

	return errOrNil(issues)
}

// Opportunity checks an arbitrage opportunity: distinct exchanges and prices,
// positive profit, and confidence within [0,1].
func Opportunity(o domain.ArbitrageOpportunity) error {
	var issues []Issue

	issues = append(issues, checkName("symbol", o.Symbol, maxSymbolLen)...)
	issues = append(issues, checkName("exchange1", o.Exchange1, maxExchangeLen)...)
	issues = append(issues, checkName("exchange2", o.Exchange2, maxExchangeLen)...)
	if o.Exchange1 != "" && o.Exchange1 == o.Exchange2 {
		issues = append(issues, Issue{Field: "exchange2", Code: CodeSameExchange, Message: "opportunity requires two distinct exchanges"})
	}
	if o.Price1 == o.Price2 {
		issues = append(issues, Issue{Field: "price2", Code: CodeSamePrice, Message: "opportunity requires two distinct prices"})
	}
	if o.Profit <= 0 {
		issues = append(issues, Issue{Field: "profit", Code: CodeNonPositive, Message: fmt.Sprintf("profit %v must be positive", o.Profit)})
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		issues = append(issues, Issue{Field: "confidence", Code: CodeOutOfRange, Message: fmt.Sprintf("confidence %v must be within [0,1]", o.Confidence)})
	}

	return errOrNil(issues)
}

// BatchResult reports the outcome of validating a slice of ticks. One bad
// record never aborts the batch; its issues are recorded under its index.
type BatchResult struct {
	Valid  []domain.OddsTick
	Errors map[int]*ValidationError
}

// SuccessRate returns the fraction of records that validated, or 1 for an
// empty batch.
func (r BatchResult) SuccessRate() float64 {
	total := len(r.Valid) + len(r.Errors)
	if total == 0 {
		return 1
	}
	return float64(len(r.Valid)) / float64(total)
}

// TickBatch validates every tick and partitions the batch into valid records
// and per-index errors.
func TickBatch(ticks []domain.OddsTick) BatchResult {
	res := BatchResult{Errors: make(map[int]*ValidationError)}
	for i, t := range ticks {
		if err := Tick(t); err != nil {
			res.Errors[i] = err.(*ValidationError)
			continue
		}
		res.Valid = append(res.Valid, t)
	}
	return res
}
