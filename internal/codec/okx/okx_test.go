package okx

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
		Op   string `json:"op"`
		Args []struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(c.SubscribeFrame("BTC-USDT-SWAP"), &req))
	assert.Equal(t, "subscribe", req.Op)
	require.Len(t, req.Args, 1)
	assert.Equal(t, "books", req.Args[0].Channel)
	assert.Equal(t, "BTC-USDT-SWAP", req.Args[0].InstID)
}

func TestDecodeBooks(t *testing.T) {
	c := New()
	outs := c.Decode([]byte(`{"arg":{"channel":"books","instId":"BTCUSDT"},"data":[{"bids":[["59999.5","1"]],"asks":[["60001.5","1"]],"ts":"1700000000123"}]}`))
	require.Len(t, outs, 1)
	require.Equal(t, codec.KindQuote, outs[0].Kind)

	q := outs[0].Quote
	assert.Equal(t, "BTCUSDT", q.NativeTicker)
	assert.Equal(t, 60000.5, q.Last)
	assert.Equal(t, int64(1700000000123), q.ExchangeTS)
}

func TestDecodeControlFrames(t *testing.T) {
	c := New()

	outs := c.Decode([]byte(`{"event":"subscribe","arg":{"channel":"books","instId":"BTCUSDT"}}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindAck, outs[0].Kind)
	assert.Equal(t, "BTCUSDT", outs[0].AckRef)

	outs = c.Decode([]byte(`pong`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindHeartbeat, outs[0].Kind)

	outs = c.Decode([]byte(`{"event":"error","msg":"channel not found","code":"60018"}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindError, outs[0].Kind)
	assert.False(t, outs[0].Fatal)
}
