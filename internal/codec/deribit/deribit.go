// Package deribit implements the Deribit JSON-RPC 2.0 ticker dialect.
package deribit

import (
	"encoding/json"
	"fmt"
	"strconv"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Codec speaks JSON-RPC 2.0 over the public websocket, subscribing to
// 100 ms ticker channels per instrument.
type Codec struct {
	reqID int64
}

// New creates a Deribit codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.Deribit }

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type channelParams struct {
	Channels []string `json:"channels"`
}

func (c *Codec) rpc(method string, params any) []byte {
	c.reqID++
	data, _ := json.Marshal(request{JSONRPC: "2.0", ID: c.reqID, Method: method, Params: params})
	return data
}

// SubscribeFrame requests the 100 ms ticker channel for one instrument.
func (c *Codec) SubscribeFrame(ticker string) []byte {
	return c.rpc("public/subscribe", channelParams{Channels: []string{"ticker." + ticker + ".100ms"}})
}

// UnsubscribeFrame removes the ticker channel for one instrument.
func (c *Codec) UnsubscribeFrame(ticker string) []byte {
	return c.rpc("public/unsubscribe", channelParams{Channels: []string{"ticker." + ticker + ".100ms"}})
}

// HeartbeatFrame builds the public/test keepalive request.
func (c *Codec) HeartbeatFrame() []byte { return c.rpc("public/test", nil) }

type inbound struct {
	ID     *int64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Method string `json:"method"`
	Params *struct {
		Channel string `json:"channel"`
		Data    struct {
			InstrumentName string  `json:"instrument_name"`
			LastPrice      float64 `json:"last_price"`
			BestBidPrice   float64 `json:"best_bid_price"`
			BestAskPrice   float64 `json:"best_ask_price"`
			Timestamp      int64   `json:"timestamp"`
		} `json:"data"`
	} `json:"params,omitempty"`
}

// Decode handles RPC responses and ticker subscription notifications.
// Protocol-level RPC failures (invalid request, method not found) are fatal;
// everything else recovers via reconnect.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	if msg.Error != nil {
		fatal := msg.Error.Code <= -32600
		return []codec.Outcome{codec.ErrorOutcome(
			fmt.Errorf("deribit: %s (code %d)", msg.Error.Message, msg.Error.Code), fatal)}
	}

	if msg.ID != nil && len(msg.Result) > 0 {
		return []codec.Outcome{codec.AckOutcome(strconv.FormatInt(*msg.ID, 10))}
	}

	if msg.Method != "subscription" || msg.Params == nil {
		return nil
	}

	data := msg.Params.Data
	if data.InstrumentName == "" ||
		data.LastPrice <= 0 || data.BestBidPrice <= 0 || data.BestAskPrice <= 0 {
		log.Debug().Str("instrument", data.InstrumentName).Msg("deribit: incomplete ticker frame")
		return nil
	}

	return []codec.Outcome{codec.QuoteOutcome(codec.Quote{
		NativeTicker: data.InstrumentName,
		Last:         data.LastPrice,
		Bid:          data.BestBidPrice,
		Ask:          data.BestAskPrice,
		ExchangeTS:   codec.NormalizeEpochMillis(data.Timestamp),
	})}
}
