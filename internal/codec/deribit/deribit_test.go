package deribit

import (
	"encoding/json"
	"testing"

	"futures-quotefeed/internal/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrames(t *testing.T) {
	c := New()
	var req struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  struct {
			Channels []string `json:"channels"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(c.SubscribeFrame("BTC-PERPETUAL"), &req))
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "public/subscribe", req.Method)
	assert.Equal(t, []string{"ticker.BTC-PERPETUAL.100ms"}, req.Params.Channels)

	require.NoError(t, json.Unmarshal(c.HeartbeatFrame(), &req))
	assert.Equal(t, "public/test", req.Method)
	assert.Equal(t, int64(2), req.ID)
}

func TestDecodeTickerNotification(t *testing.T) {
	c := New()
	outs := c.Decode([]byte(`{
		"method":"subscription",
		"params":{"channel":"ticker.BTC-PERPETUAL.100ms","data":{
			"instrument_name":"BTC-PERPETUAL",
			"last_price":60000.5,"best_bid_price":59999.5,"best_ask_price":60001.5,
			"timestamp":1700000000123}}}`))
	require.Len(t, outs, 1)
	require.Equal(t, codec.KindQuote, outs[0].Kind)

	q := outs[0].Quote
	assert.Equal(t, "BTC-PERPETUAL", q.NativeTicker)
	assert.Equal(t, 60000.5, q.Last)
	assert.Equal(t, 59999.5, q.Bid)
	assert.Equal(t, 60001.5, q.Ask)
	assert.Equal(t, int64(1700000000123), q.ExchangeTS)
}

func TestDecodeAck(t *testing.T) {
	c := New()
	outs := c.Decode([]byte(`{"jsonrpc":"2.0","id":4,"result":["ticker.BTC-PERPETUAL.100ms"]}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindAck, outs[0].Kind)
	assert.Equal(t, "4", outs[0].AckRef)
}

func TestDecodeErrorSeverity(t *testing.T) {
	c := New()

	outs := c.Decode([]byte(`{"id":1,"error":{"code":-32600,"message":"request entity too large"}}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindError, outs[0].Kind)
	assert.True(t, outs[0].Fatal, "protocol-level RPC failures are fatal")

	outs = c.Decode([]byte(`{"id":2,"error":{"code":10001,"message":"too many requests"}}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindError, outs[0].Kind)
	assert.False(t, outs[0].Fatal, "venue-level errors recover via reconnect")
}

func TestDecodeDropsIncompleteTicker(t *testing.T) {
	c := New()
	assert.Empty(t, c.Decode([]byte(`{
		"method":"subscription",
		"params":{"channel":"ticker.BTC-PERPETUAL.100ms","data":{
			"instrument_name":"BTC-PERPETUAL",
			"last_price":60000.5,"best_bid_price":0,"best_ask_price":60001.5,
			"timestamp":1700000000123}}}`)))
	assert.Empty(t, c.Decode([]byte(`{"method":"heartbeat","params":{"type":"test_request"}}`)))
}
