// Package okx implements the OKX v5 public books dialect.
package okx

import (
	"encoding/json"
	"fmt"
	"strconv"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Codec speaks the v5 public websocket: books channel keyed by instId.
// OKX carries no request ids; acks reference the instrument instead.
type Codec struct{}

// New creates an OKX codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.OKX }

type arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type request struct {
	Op   string `json:"op"`
	Args []arg  `json:"args,omitempty"`
}

func frame(op, ticker string) []byte {
	data, _ := json.Marshal(request{Op: op, Args: []arg{{Channel: "books", InstID: ticker}}})
	return data
}

// SubscribeFrame requests the books channel for one instrument.
func (c *Codec) SubscribeFrame(ticker string) []byte { return frame("subscribe", ticker) }

// UnsubscribeFrame removes the books channel for one instrument.
func (c *Codec) UnsubscribeFrame(ticker string) []byte { return frame("unsubscribe", ticker) }

// HeartbeatFrame builds the op:ping keepalive.
func (c *Codec) HeartbeatFrame() []byte {
	data, _ := json.Marshal(request{Op: "ping"})
	return data
}

type inbound struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
	Code  string `json:"code"`
	Arg   *arg   `json:"arg,omitempty"`
	Data  []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		TS   string     `json:"ts"`
	} `json:"data,omitempty"`
}

// Decode handles subscribe confirmations, venue errors, and book frames.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	if string(raw) == "pong" {
		return []codec.Outcome{codec.HeartbeatOutcome()}
	}

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	switch msg.Event {
	case "subscribe":
		ref := ""
		if msg.Arg != nil {
			ref = msg.Arg.InstID
		}
		return []codec.Outcome{codec.AckOutcome(ref)}
	case "error":
		return []codec.Outcome{codec.ErrorOutcome(
			fmt.Errorf("okx: %s (code %s)", msg.Msg, msg.Code), false)}
	case "pong":
		return []codec.Outcome{codec.HeartbeatOutcome()}
	}

	if msg.Arg == nil || msg.Arg.Channel != "books" || len(msg.Data) == 0 {
		return nil
	}

	book := msg.Data[0]
	if len(book.Bids) == 0 || len(book.Asks) == 0 ||
		len(book.Bids[0]) == 0 || len(book.Asks[0]) == 0 {
		return nil
	}

	bid := codec.ParsePrice(book.Bids[0][0])
	ask := codec.ParsePrice(book.Asks[0][0])
	if bid == 0 || ask == 0 {
		log.Debug().Str("instId", msg.Arg.InstID).Msg("okx: non-positive book level")
		return nil
	}

	ts, _ := strconv.ParseInt(book.TS, 10, 64)
	return []codec.Outcome{codec.QuoteOutcome(codec.Quote{
		NativeTicker: msg.Arg.InstID,
		Last:         codec.Mid(bid, ask),
		Bid:          bid,
		Ask:          ask,
		ExchangeTS:   codec.NormalizeEpochMillis(ts),
	})}
}
