package ingest

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbtrack/arbtrack/internal/domain"
)

func binaryRecord(id, symbol, exchange string, ts int64, price, size float64, seq int64, side byte) []byte {
	raw := make([]byte, BinaryRecordSize)
	binary.LittleEndian.PutUint64(raw[binTimestampOff:], uint64(ts))
	binary.LittleEndian.PutUint64(raw[binPriceOff:], math.Float64bits(price))
	binary.LittleEndian.PutUint64(raw[binSizeOff:], math.Float64bits(size))
	binary.LittleEndian.PutUint64(raw[binSequenceOff:], uint64(seq))
	copy(raw[binIDOff:binIDOff+16], id)
	copy(raw[binSymbolOff:binSymbolOff+16], symbol)
	copy(raw[binExchangeOff:binExchangeOff+16], exchange)
	raw[binSideOff] = side
	return raw
}

func TestParseJSON(t *testing.T) {
	raw := []byte(`{"id":"t-1","timestamp":1700000000000,"symbol":"NBA-LAL-BOS","price":1.95,"size":250,"exchange":"betfair","side":"buy","sequence":42}`)

	tick, err := ParseTick(raw, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "t-1", tick.ID)
	assert.Equal(t, int64(1700000000000), tick.Timestamp)
	assert.Equal(t, "NBA-LAL-BOS", tick.Symbol)
	assert.Equal(t, 1.95, tick.Price)
	assert.Equal(t, 250.0, tick.Size)
	assert.Equal(t, "betfair", tick.Exchange)
	assert.Equal(t, domain.TickSideBuy, tick.Side)
	assert.Equal(t, int64(42), tick.Sequence)
}

func TestParseJSONMalformed(t *testing.T) {
	_, err := ParseTick([]byte(`{"id":`), FormatJSON)
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, FormatJSON, perr.Format)
}

func TestParseCSV(t *testing.T) {
	raw := []byte("t-1,1700000000000,NBA-LAL-BOS,1.95,250,betfair,BUY\n")

	tick, err := ParseTick(raw, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "t-1", tick.ID)
	assert.Equal(t, int64(1700000000000), tick.Timestamp)
	assert.Equal(t, 1.95, tick.Price)
	assert.Equal(t, domain.TickSideBuy, tick.Side)
	assert.Zero(t, tick.Sequence)
}

func TestParseCSVMalformedNumericsCoerceToZero(t *testing.T) {
	raw := []byte("t-1,not-a-time,NBA-LAL-BOS,oops,nan?,betfair,sell")

	tick, err := ParseTick(raw, FormatCSV)
	require.NoError(t, err)
	assert.Zero(t, tick.Timestamp)
	assert.Zero(t, tick.Price)
	assert.Zero(t, tick.Size)
	assert.Equal(t, domain.TickSideSell, tick.Side)
}

func TestParseCSVFieldCount(t *testing.T) {
	_, err := ParseTick([]byte("a,b,c"), FormatCSV)
	require.Error(t, err)

	_, err = ParseTick([]byte("   "), FormatCSV)
	require.Error(t, err)
}

func TestParseBinary(t *testing.T) {
	raw := binaryRecord("t-9", "NBA-LAL-BOS", "pinnacle", 1700000000000, -110, 1000, 7, 1)

	tick, err := ParseTick(raw, FormatBinary)
	require.NoError(t, err)
	assert.Equal(t, "t-9", tick.ID)
	assert.Equal(t, "NBA-LAL-BOS", tick.Symbol)
	assert.Equal(t, "pinnacle", tick.Exchange)
	assert.Equal(t, int64(1700000000000), tick.Timestamp)
	assert.Equal(t, -110.0, tick.Price)
	assert.Equal(t, 1000.0, tick.Size)
	assert.Equal(t, int64(7), tick.Sequence)
	assert.Equal(t, domain.TickSideSell, tick.Side)
}

func TestParseBinaryWrongLength(t *testing.T) {
	_, err := ParseTick(make([]byte, BinaryRecordSize-1), FormatBinary)
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, FormatBinary, perr.Format)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, DetectFormat([]byte(`  {"id":"x"}`)))
	assert.Equal(t, FormatBinary, DetectFormat(make([]byte, BinaryRecordSize)))
	assert.Equal(t, FormatCSV, DetectFormat([]byte("a,b,c")))
}

func TestParseBatch(t *testing.T) {
	raws := [][]byte{
		[]byte("t-1,1000,SYM,1.5,10,betfair,buy"),
		[]byte("short,row"),
		[]byte("t-2,2000,SYM,1.6,20,pinnacle,sell"),
	}

	res := ParseBatch(raws, FormatCSV)
	assert.Len(t, res.Ticks, 2)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors, 1)
	assert.InDelta(t, 2.0/3.0, res.SuccessRate(), 1e-9)
}

func TestParseBatchEmpty(t *testing.T) {
	res := ParseBatch(nil, FormatJSON)
	assert.Equal(t, 1.0, res.SuccessRate())
}
