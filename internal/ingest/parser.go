// Package ingest converts raw feed payloads into domain ticks. Three wire
// formats are supported: JSON (canonical), positional CSV, and the fixed
// binary record layout used by the legacy feed adapter. Parse failures are
// returned as tagged errors and never panic the caller.
package ingest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// Format identifies the wire format of a raw tick payload.
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatBinary Format = "binary"
)

// csvFieldCount is the fixed positional layout: id,timestamp,symbol,price,size,exchange,side.
const csvFieldCount = 7

// Binary record layout (little-endian, frozen wire contract of the legacy
// feed adapter; do not reorder):
//
//	offset 0   timestamp  int64
//	offset 8   price      float64
//	offset 16  size       float64
//	offset 24  sequence   int64
//	offset 32  id         [16]byte NUL-padded
//	offset 48  symbol     [16]byte NUL-padded
//	offset 64  exchange   [16]byte NUL-padded
//	offset 80  side       byte (0=buy, 1=sell)
const (
	binTimestampOff = 0
	binPriceOff     = 8
	binSizeOff      = 16
	binSequenceOff  = 24
	binIDOff        = 32
	binSymbolOff    = 48
	binExchangeOff  = 64
	binSideOff      = 80

	// BinaryRecordSize is the exact length of one binary tick record.
	BinaryRecordSize = 81
)

// ParseError reports a payload that could not be decoded in the requested
// format. It wraps the underlying decoder error when one exists.
type ParseError struct {
	Format Format
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s tick: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s tick: %s", e.Format, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseTick decodes one raw payload in the given format.
func ParseTick(raw []byte, format Format) (domain.OddsTick, error) {
	switch format {
	case FormatJSON:
		return parseJSON(raw)
	case FormatCSV:
		return parseCSV(raw)
	case FormatBinary:
		return parseBinary(raw)
	default:
		return domain.OddsTick{}, &ParseError{Format: format, Reason: "unsupported format"}
	}
}

// DetectFormat guesses the wire format from the payload shape: JSON objects
// start with '{', binary records have the exact frozen length, everything
// else is treated as CSV.
func DetectFormat(raw []byte) Format {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	if len(raw) == BinaryRecordSize {
		return FormatBinary
	}
	return FormatCSV
}

func parseJSON(raw []byte) (domain.OddsTick, error) {
	var tick domain.OddsTick
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&tick); err != nil {
		return domain.OddsTick{}, &ParseError{Format: FormatJSON, Reason: "malformed JSON", Err: err}
	}
	return tick, nil
}

func parseCSV(raw []byte) (domain.OddsTick, error) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return domain.OddsTick{}, &ParseError{Format: FormatCSV, Reason: "empty record"}
	}

	fields := strings.Split(line, ",")
	if len(fields) != csvFieldCount {
		return domain.OddsTick{}, &ParseError{
			Format: FormatCSV,
			Reason: fmt.Sprintf("expected %d fields, got %d", csvFieldCount, len(fields)),
		}
	}

	// Malformed numeric fields coerce to 0 rather than failing the record;
	// the validator rejects them downstream with a field-level issue.
	return domain.OddsTick{
		ID:        strings.TrimSpace(fields[0]),
		Timestamp: coerceInt(fields[1]),
		Symbol:    strings.TrimSpace(fields[2]),
		Price:     coerceFloat(fields[3]),
		Size:      coerceFloat(fields[4]),
		Exchange:  strings.TrimSpace(fields[5]),
		Side:      domain.TickSide(strings.ToLower(strings.TrimSpace(fields[6]))),
	}, nil
}

func coerceInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func coerceFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseBinary(raw []byte) (domain.OddsTick, error) {
	if len(raw) != BinaryRecordSize {
		return domain.OddsTick{}, &ParseError{
			Format: FormatBinary,
			Reason: fmt.Sprintf("expected %d byte record, got %d", BinaryRecordSize, len(raw)),
		}
	}

	side := domain.TickSideBuy
	if raw[binSideOff] == 1 {
		side = domain.TickSideSell
	}

	return domain.OddsTick{
		ID:        trimPadded(raw[binIDOff : binIDOff+16]),
		Timestamp: int64(binary.LittleEndian.Uint64(raw[binTimestampOff:])),
		Symbol:    trimPadded(raw[binSymbolOff : binSymbolOff+16]),
		Price:     math.Float64frombits(binary.LittleEndian.Uint64(raw[binPriceOff:])),
		Size:      math.Float64frombits(binary.LittleEndian.Uint64(raw[binSizeOff:])),
		Exchange:  trimPadded(raw[binExchangeOff : binExchangeOff+16]),
		Side:      side,
		Sequence:  int64(binary.LittleEndian.Uint64(raw[binSequenceOff:])),
	}, nil
}

func trimPadded(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// BatchResult is the outcome of parsing a batch of raw payloads. A bad
// record never aborts the batch; its error is kept under its index.
type BatchResult struct {
	Ticks  []domain.OddsTick
	Errors map[int]error
}

// SuccessRate returns the fraction of records that parsed, or 1 for an empty
// batch.
func (r BatchResult) SuccessRate() float64 {
	total := len(r.Ticks) + len(r.Errors)
	if total == 0 {
		return 1
	}
	return float64(len(r.Ticks)) / float64(total)
}

// ParseBatch decodes each payload independently and reports per-index errors
// alongside the successfully parsed ticks.
func ParseBatch(raws [][]byte, format Format) BatchResult {
	res := BatchResult{Errors: make(map[int]error)}
	for i, raw := range raws {
		tick, err := ParseTick(raw, format)
		if err != nil {
			res.Errors[i] = err
			continue
		}
		res.Ticks = append(res.Ticks, tick)
	}
	return res
}
