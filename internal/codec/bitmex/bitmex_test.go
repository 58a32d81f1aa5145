package bitmex

import (
	"encoding/json"
	"testing"

	"futures-quotefeed/internal/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFrameCoversQuoteAndTrade(t *testing.T) {
	c := New()
	var req struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}
	require.NoError(t, json.Unmarshal(c.SubscribeFrame("XBTUSD"), &req))
	assert.Equal(t, "subscribe", req.Op)
	assert.Equal(t, []string{"quote:XBTUSD", "trade:XBTUSD"}, req.Args)

	require.NoError(t, json.Unmarshal(c.HeartbeatFrame(), &req))
	assert.Equal(t, "ping", req.Op)
}

func TestQuoteUsesMidWithoutTrades(t *testing.T) {
	c := New()
	outs := c.Decode([]byte(`{"table":"quote","data":[
		{"symbol":"XBTUSD","bidPrice":59999.5,"askPrice":60001.5,"timestamp":"2023-11-14T22:13:20.123Z"}]}`))
	require.Len(t, outs, 1)
	require.Equal(t, codec.KindQuote, outs[0].Kind)

	q := outs[0].Quote
	assert.Equal(t, "XBTUSD", q.NativeTicker)
	assert.Equal(t, 60000.5, q.Last)
	assert.Equal(t, int64(1700000000123), q.ExchangeTS)
}

func TestQuoteUsesCachedTradePrice(t *testing.T) {
	c := New()
	assert.Empty(t, c.Decode([]byte(`{"table":"trade","data":[{"symbol":"XBTUSD","price":60123}]}`)))

	outs := c.Decode([]byte(`{"table":"quote","data":[
		{"symbol":"XBTUSD","bidPrice":59999.5,"askPrice":60001.5,"timestamp":"2023-11-14T22:13:20.123Z"}]}`))
	require.Len(t, outs, 1)
	assert.Equal(t, float64(60123), outs[0].Quote.Last, "last trade wins over midpoint")
	assert.Equal(t, 59999.5, outs[0].Quote.Bid)
	assert.Equal(t, 60001.5, outs[0].Quote.Ask)
}

func TestTradeCacheIsPerSymbol(t *testing.T) {
	c := New()
	c.Decode([]byte(`{"table":"trade","data":[{"symbol":"ETHUSD","price":3000}]}`))

	outs := c.Decode([]byte(`{"table":"quote","data":[
		{"symbol":"XBTUSD","bidPrice":100,"askPrice":102,"timestamp":"2023-11-14T22:13:20Z"}]}`))
	require.Len(t, outs, 1)
	assert.Equal(t, float64(101), outs[0].Quote.Last)
}

func TestBatchEmitsOneQuotePerRow(t *testing.T) {
	c := New()
	outs := c.Decode([]byte(`{"table":"quote","data":[
		{"symbol":"XBTUSD","bidPrice":100,"askPrice":101,"timestamp":"2023-11-14T22:13:20Z"},
		{"symbol":"ETHUSD","bidPrice":0,"askPrice":3001,"timestamp":"2023-11-14T22:13:20Z"},
		{"symbol":"SOLUSD","bidPrice":50,"askPrice":51,"timestamp":"2023-11-14T22:13:20Z"}]}`))
	require.Len(t, outs, 2, "zero-bid row is skipped")
	assert.Equal(t, "XBTUSD", outs[0].Quote.NativeTicker)
	assert.Equal(t, "SOLUSD", outs[1].Quote.NativeTicker)
}

func TestControlFrames(t *testing.T) {
	c := New()

	outs := c.Decode([]byte(`pong`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindHeartbeat, outs[0].Kind)

	outs = c.Decode([]byte(`{"success":true,"subscribe":"quote:XBTUSD"}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindAck, outs[0].Kind)
	assert.Equal(t, "quote:XBTUSD", outs[0].AckRef)

	outs = c.Decode([]byte(`{"error":"Unknown table: quotes"}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindError, outs[0].Kind)
	assert.False(t, outs[0].Fatal)

	assert.Empty(t, c.Decode([]byte(`{"info":"Welcome to the BitMEX Realtime API."}`)))
}
