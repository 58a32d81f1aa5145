// Package bitget implements the Bitget v2 USDT futures ticker dialect.
package bitget

import (
	"encoding/json"
	"fmt"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Codec speaks the v2 public websocket: ticker channel under the
// USDT-FUTURES instrument type. Bitget answers transport pings itself, so no
// application keepalive is sent.
type Codec struct{}

// New creates a Bitget codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.Bitget }

type arg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type request struct {
	Op   string `json:"op"`
	Args []arg  `json:"args"`
}

func frame(op, ticker string) []byte {
	data, _ := json.Marshal(request{
		Op:   op,
		Args: []arg{{InstType: "USDT-FUTURES", Channel: "ticker", InstID: ticker}},
	})
	return data
}

// SubscribeFrame requests the ticker channel for one contract.
func (c *Codec) SubscribeFrame(ticker string) []byte { return frame("subscribe", ticker) }

// UnsubscribeFrame removes the ticker channel for one contract.
func (c *Codec) UnsubscribeFrame(ticker string) []byte { return frame("unsubscribe", ticker) }

// HeartbeatFrame is nil: the transport-level ping keeps the link alive.
func (c *Codec) HeartbeatFrame() []byte { return nil }

type inbound struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
	Code  *int   `json:"code,omitempty"`
	Arg   *arg   `json:"arg,omitempty"`
	Data  []struct {
		InstID string      `json:"instId"`
		LastPr json.Number `json:"lastPr"`
		BidPr  json.Number `json:"bidPr"`
		AskPr  json.Number `json:"askPr"`
		TS     json.Number `json:"ts"`
	} `json:"data,omitempty"`
}

// Decode handles subscribe confirmations, pongs, errors, and ticker batches.
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
	case "pong":
		return []codec.Outcome{codec.HeartbeatOutcome()}
	case "error":
		code := 0
		if msg.Code != nil {
			code = *msg.Code
		}
		return []codec.Outcome{codec.ErrorOutcome(
			fmt.Errorf("bitget: %s (code %d)", msg.Msg, code), false)}
	}

	if msg.Arg == nil || msg.Arg.Channel != "ticker" || len(msg.Data) == 0 {
		return nil
	}

	var out []codec.Outcome
	for _, row := range msg.Data {
		last := codec.ParsePrice(row.LastPr.String())
		bid := codec.ParsePrice(row.BidPr.String())
		ask := codec.ParsePrice(row.AskPr.String())
		if row.InstID == "" || last == 0 || bid == 0 || ask == 0 {
			log.Debug().Str("instId", row.InstID).Msg("bitget: incomplete ticker row")
			continue
		}
		ts, _ := row.TS.Int64()
		out = append(out, codec.QuoteOutcome(codec.Quote{
			NativeTicker: row.InstID,
			Last:         last,
			Bid:          bid,
			Ask:          ask,
			ExchangeTS:   codec.NormalizeEpochMillis(ts),
		}))
	}
	return out
}
