package bitget

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
			InstType string `json:"instType"`
			Channel  string `json:"channel"`
			InstID   string `json:"instId"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(c.SubscribeFrame("BTCUSDT"), &req))
	assert.Equal(t, "subscribe", req.Op)
	require.Len(t, req.Args, 1)
	assert.Equal(t, "USDT-FUTURES", req.Args[0].InstType)
	assert.Equal(t, "ticker", req.Args[0].Channel)
	assert.Equal(t, "BTCUSDT", req.Args[0].InstID)

	assert.Nil(t, c.HeartbeatFrame())
}

func TestDecodeTickerBatch(t *testing.T) {
	c := New()
	outs := c.Decode([]byte(`{"arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"},
		"data":[
			{"instId":"BTCUSDT","lastPr":"60000.5","bidPr":"59999.5","askPr":"60001.5","ts":"1700000000123"},
			{"instId":"ETHUSDT","lastPr":"3000","bidPr":"0","askPr":"3001","ts":"1700000000123"}
		]}`))
	require.Len(t, outs, 1, "incomplete row is skipped")
	require.Equal(t, codec.KindQuote, outs[0].Kind)

	q := outs[0].Quote
	assert.Equal(t, "BTCUSDT", q.NativeTicker)
	assert.Equal(t, 60000.5, q.Last)
	assert.Equal(t, 59999.5, q.Bid)
	assert.Equal(t, 60001.5, q.Ask)
	assert.Equal(t, int64(1700000000123), q.ExchangeTS)
}

func TestDecodeControlFrames(t *testing.T) {
	c := New()

	outs := c.Decode([]byte(`{"event":"subscribe","arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"}}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindAck, outs[0].Kind)
	assert.Equal(t, "BTCUSDT", outs[0].AckRef)

	outs = c.Decode([]byte(`pong`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindHeartbeat, outs[0].Kind)

	outs = c.Decode([]byte(`{"event":"error","code":30001,"msg":"channel does not exist"}`))
	require.Len(t, outs, 1)
	assert.Equal(t, codec.KindError, outs[0].Kind)
	assert.False(t, outs[0].Fatal)
}
