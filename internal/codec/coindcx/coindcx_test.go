package coindcx

import (
	"testing"

	"futures-quotefeed/internal/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshot = `[
	{"market":"BTCUSDT","last_price":"60000.5","bid":"59999.5","ask":"60001.5","timestamp":1700000000},
	{"market":"ETHUSDT","last_price":"3000","bid":"2999","ask":"3001","timestamp":1700000000},
	{"market":"DOGEUSDT","last_price":"0.1","bid":"0.099","ask":"0.101","timestamp":1700000000}
]`

func TestSubscribeFiltersSnapshot(t *testing.T) {
	c := New()
	assert.Nil(t, c.SubscribeFrame("BTCUSDT"), "polled feed writes nothing to the wire")
	assert.Nil(t, c.HeartbeatFrame())

	outs := c.Decode([]byte(snapshot))
	require.Len(t, outs, 1, "only subscribed markets pass the filter")
	require.Equal(t, codec.KindQuote, outs[0].Kind)

	q := outs[0].Quote
	assert.Equal(t, "BTCUSDT", q.NativeTicker)
	assert.Equal(t, 60000.5, q.Last)
	assert.Equal(t, 59999.5, q.Bid)
	assert.Equal(t, 60001.5, q.Ask)
	assert.Equal(t, int64(1700000000000), q.ExchangeTS, "seconds promote to millis")
}

func TestUnchangedPriceSuppressed(t *testing.T) {
	c := New()
	c.SubscribeFrame("BTCUSDT")

	require.Len(t, c.Decode([]byte(snapshot)), 1)
	assert.Empty(t, c.Decode([]byte(snapshot)), "identical poll emits nothing")

	// A move below 0.01% is still noise.
	tiny := `[{"market":"BTCUSDT","last_price":"60000.51","bid":"59999.5","ask":"60001.5","timestamp":1700000005}]`
	assert.Empty(t, c.Decode([]byte(tiny)))

	// A move of 0.01% or more re-emits.
	moved := `[{"market":"BTCUSDT","last_price":"60010","bid":"60009","ask":"60011","timestamp":1700000010}]`
	outs := c.Decode([]byte(moved))
	require.Len(t, outs, 1)
	assert.Equal(t, float64(60010), outs[0].Quote.Last)
}

func TestUnsubscribeClearsFilterAndCache(t *testing.T) {
	c := New()
	c.SubscribeFrame("BTCUSDT")
	require.Len(t, c.Decode([]byte(snapshot)), 1)

	assert.Nil(t, c.UnsubscribeFrame("BTCUSDT"))
	assert.Empty(t, c.Decode([]byte(snapshot)))

	// Re-subscribing starts fresh: the first poll always emits.
	c.SubscribeFrame("BTCUSDT")
	assert.Len(t, c.Decode([]byte(snapshot)), 1)
}

func TestIncompleteTickerSkipped(t *testing.T) {
	c := New()
	c.SubscribeFrame("BTCUSDT")
	assert.Empty(t, c.Decode([]byte(`[{"market":"BTCUSDT","last_price":"0","bid":"1","ask":"2","timestamp":1}]`)))
	assert.Empty(t, c.Decode([]byte(`not json`)))
}
