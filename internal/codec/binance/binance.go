// Package binance implements the Binance USDⓈ-M futures book ticker dialect.
package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Codec speaks the combined-stream JSON dialect of fstream.binance.com.
type Codec struct {
	reqID int64
}

// New creates a Binance codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.Binance }

type request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (c *Codec) frame(method, ticker string) []byte {
	c.reqID++
	data, _ := json.Marshal(request{
		Method: method,
		Params: []string{strings.ToLower(ticker) + "@bookTicker"},
		ID:     c.reqID,
	})
	return data
}

// SubscribeFrame requests the bookTicker stream for one ticker.
func (c *Codec) SubscribeFrame(ticker string) []byte {
	return c.frame("SUBSCRIBE", ticker)
}

// UnsubscribeFrame removes the bookTicker stream for one ticker.
func (c *Codec) UnsubscribeFrame(ticker string) []byte {
	return c.frame("UNSUBSCRIBE", ticker)
}

// HeartbeatFrame is nil: Binance answers transport-level pings itself.
func (c *Codec) HeartbeatFrame() []byte { return nil }

type inbound struct {
	// Combined-stream wrapper.
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	// Request responses.
	ID     *int64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error,omitempty"`

	// Direct bookTicker payload.
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
	TxTime int64  `json:"T"`
}

// Decode handles subscription acks, error responses, and bookTicker frames.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	if msg.Error != nil {
		return []codec.Outcome{codec.ErrorOutcome(
			fmt.Errorf("binance: %s (code %d)", msg.Error.Msg, msg.Error.Code), false)}
	}

	if msg.ID != nil && string(msg.Result) == "null" {
		return []codec.Outcome{codec.AckOutcome(strconv.FormatInt(*msg.ID, 10))}
	}

	// Combined-stream messages carry the payload under "data".
	if msg.Stream != "" && len(msg.Data) > 0 {
		var data inbound
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil
		}
		msg = data
	}

	if msg.Event != "bookTicker" {
		return nil
	}

	bid := codec.ParsePrice(msg.Bid)
	ask := codec.ParsePrice(msg.Ask)
	if msg.Symbol == "" || bid == 0 || ask == 0 {
		log.Debug().Str("symbol", msg.Symbol).Msg("binance: incomplete bookTicker frame")
		return nil
	}

	return []codec.Outcome{codec.QuoteOutcome(codec.Quote{
		NativeTicker: msg.Symbol,
		Last:         codec.Mid(bid, ask),
		Bid:          bid,
		Ask:          ask,
		ExchangeTS:   codec.NormalizeEpochMillis(msg.TxTime),
	})}
}
