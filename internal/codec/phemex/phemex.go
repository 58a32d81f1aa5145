// Package phemex implements the Phemex scaled-integer book dialect.
package phemex

import (
	"encoding/json"
	"fmt"
	"strconv"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Prices arrive as fixed-point integers; the divisor varies per contract.
var scales = codec.ScaleTable{
	Factors: map[string]float64{
		"BTCUSD": 10_000,
		"ETHUSD": 10_000,
		"XRPUSD": 100_000_000,
		"ADAUSD": 100_000_000,
	},
	Default: 10_000,
}

// Codec speaks the book.subscribe dialect of ws.phemex.com. Book timestamps
// are nanoseconds.
type Codec struct {
	reqID int64
}

// New creates a Phemex codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.Phemex }

type request struct {
	ID     int64    `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

func (c *Codec) frame(method string, params []string) []byte {
	c.reqID++
	if params == nil {
		params = []string{}
	}
	data, _ := json.Marshal(request{ID: c.reqID, Method: method, Params: params})
	return data
}

// SubscribeFrame requests the order book for one contract.
func (c *Codec) SubscribeFrame(ticker string) []byte {
	return c.frame("book.subscribe", []string{ticker})
}

// UnsubscribeFrame removes the order book for one contract.
func (c *Codec) UnsubscribeFrame(ticker string) []byte {
	return c.frame("book.unsubscribe", []string{ticker})
}

// HeartbeatFrame builds the server.ping keepalive.
func (c *Codec) HeartbeatFrame() []byte { return c.frame("server.ping", nil) }

type inbound struct {
	ID     *int64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

type book struct {
	Bids      [][]float64 `json:"bids"`
	Asks      [][]float64 `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// Decode handles RPC responses and book.update notifications. A level that
// scales to zero marks the frame invalid and it is dropped.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	if msg.Error != nil {
		return []codec.Outcome{codec.ErrorOutcome(
			fmt.Errorf("phemex: %s (code %d)", msg.Error.Message, msg.Error.Code), false)}
	}

	if msg.ID != nil && len(msg.Result) > 0 {
		if string(msg.Result) == `"pong"` {
			return []codec.Outcome{codec.HeartbeatOutcome()}
		}
		return []codec.Outcome{codec.AckOutcome(strconv.FormatInt(*msg.ID, 10))}
	}

	if msg.Method != "book.update" || len(msg.Params) < 2 {
		return nil
	}

	var ticker string
	if err := json.Unmarshal(msg.Params[0], &ticker); err != nil || ticker == "" {
		return nil
	}
	var b book
	if err := json.Unmarshal(msg.Params[1], &b); err != nil {
		return nil
	}
	if len(b.Bids) == 0 || len(b.Asks) == 0 || len(b.Bids[0]) == 0 || len(b.Asks[0]) == 0 {
		return nil
	}

	bid := scales.Scale(ticker, b.Bids[0][0])
	ask := scales.Scale(ticker, b.Asks[0][0])
	if bid <= 0 || ask <= 0 {
		log.Debug().Str("ticker", ticker).Msg("phemex: zero scaled book level")
		return nil
	}

	return []codec.Outcome{codec.QuoteOutcome(codec.Quote{
		NativeTicker: ticker,
		Last:         codec.Mid(bid, ask),
		Bid:          bid,
		Ask:          ask,
		ExchangeTS:   codec.NanosToMillis(b.Timestamp),
	})}
}
