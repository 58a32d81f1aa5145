// Package gateio implements the Gate.io USDT futures tickers dialect.
package gateio

import (
	"encoding/json"
	"fmt"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Codec speaks the futures.tickers channel of fx-ws.gateio.ws. The ticker
// feed carries last price only, so quotes have no bid/ask sides. Update
// payloads arrive in both object envelopes and bare list envelopes.
type Codec struct {
	reqID int64
}

// New creates a Gate.io codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.GateIO }

type request struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload,omitempty"`
}

func (c *Codec) frame(event string, payload []string) []byte {
	c.reqID++
	data, _ := json.Marshal(request{
		Time: c.reqID, Channel: "futures.tickers", Event: event, Payload: payload,
	})
	return data
}

// SubscribeFrame requests the tickers channel for one contract.
func (c *Codec) SubscribeFrame(ticker string) []byte {
	return c.frame("subscribe", []string{ticker})
}

// UnsubscribeFrame removes the tickers channel for one contract.
func (c *Codec) UnsubscribeFrame(ticker string) []byte {
	return c.frame("unsubscribe", []string{ticker})
}

// HeartbeatFrame builds the futures.ping keepalive.
func (c *Codec) HeartbeatFrame() []byte {
	c.reqID++
	data, _ := json.Marshal(request{Time: c.reqID, Channel: "futures.ping", Event: "ping"})
	return data
}

type ticker struct {
	Contract  string      `json:"contract"`
	Last      string      `json:"last"`
	Timestamp json.Number `json:"timestamp"`
	Time      json.Number `json:"time"`
}

// Result stays raw: subscribe responses carry a status object, updates
// carry a ticker or a list of tickers.
type inbound struct {
	Time    int64           `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func numberMillis(n json.Number) int64 {
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return codec.NormalizeEpochMillis(v)
}

func (c *Codec) tickerOutcome(t ticker, envelopeTime int64) (codec.Outcome, bool) {
	last := codec.ParsePrice(t.Last)
	if t.Contract == "" || last == 0 {
		log.Debug().Str("contract", t.Contract).Msg("gateio: incomplete ticker")
		return codec.Outcome{}, false
	}
	ts := numberMillis(t.Timestamp)
	if ts == 0 {
		ts = numberMillis(t.Time)
	}
	if ts == 0 {
		ts = codec.NormalizeEpochMillis(envelopeTime)
	}
	return codec.QuoteOutcome(codec.Quote{
		NativeTicker: t.Contract,
		Last:         last,
		ExchangeTS:   ts,
	}), true
}

// Decode handles acks, pongs, and ticker updates in both envelope shapes.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	// List envelope: ["futures.tickers", "update", {...}] or ["pong"].
	if len(raw) > 0 && raw[0] == '[' {
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
			return nil
		}
		var head string
		if err := json.Unmarshal(parts[0], &head); err != nil {
			return nil
		}
		if head == "pong" {
			return []codec.Outcome{codec.HeartbeatOutcome()}
		}
		if head != "futures.tickers" || len(parts) < 3 {
			return nil
		}
		var t ticker
		if err := json.Unmarshal(parts[2], &t); err != nil {
			return nil
		}
		if out, ok := c.tickerOutcome(t, 0); ok {
			return []codec.Outcome{out}
		}
		return nil
	}

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	switch msg.Event {
	case "pong":
		return []codec.Outcome{codec.HeartbeatOutcome()}
	case "subscribe":
		if len(msg.Result) == 0 {
			return nil
		}
		var status struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(msg.Result, &status); err == nil && status.Status == "success" {
			return []codec.Outcome{codec.AckOutcome(msg.Channel)}
		}
		return []codec.Outcome{codec.ErrorOutcome(
			fmt.Errorf("gateio: subscribe failed with status %q", status.Status), false)}
	}

	if msg.Channel != "futures.tickers" || msg.Event != "update" || len(msg.Result) == 0 {
		return nil
	}

	// The result is a single ticker or a list of them.
	var tickers []ticker
	if msg.Result[0] == '[' {
		if err := json.Unmarshal(msg.Result, &tickers); err != nil {
			return nil
		}
	} else {
		var t ticker
		if err := json.Unmarshal(msg.Result, &t); err != nil {
			return nil
		}
		tickers = []ticker{t}
	}

	var out []codec.Outcome
	for _, t := range tickers {
		if o, ok := c.tickerOutcome(t, msg.Time); ok {
			out = append(out, o)
		}
	}
	return out
}
