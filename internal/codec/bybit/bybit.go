// Package bybit implements the Bybit v5 linear perpetuals dialect.
package bybit

import (
	"encoding/json"
	"strconv"
	"strings"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Codec speaks the v5 public linear stream: level-1 orderbook topics with
// op-style subscribe/ping envelopes.
type Codec struct {
	reqID int64
}

// New creates a Bybit codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.Bybit }

type request struct {
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
	ReqID string   `json:"req_id"`
}

func (c *Codec) frame(op string, args []string) []byte {
	c.reqID++
	data, _ := json.Marshal(request{Op: op, Args: args, ReqID: strconv.FormatInt(c.reqID, 10)})
	return data
}

// SubscribeFrame requests the level-1 orderbook topic for one ticker.
func (c *Codec) SubscribeFrame(ticker string) []byte {
	return c.frame("subscribe", []string{"orderbook.1." + ticker})
}

// UnsubscribeFrame removes the level-1 orderbook topic for one ticker.
func (c *Codec) UnsubscribeFrame(ticker string) []byte {
	return c.frame("unsubscribe", []string{"orderbook.1." + ticker})
}

// HeartbeatFrame builds the op:ping keepalive.
func (c *Codec) HeartbeatFrame() []byte { return c.frame("ping", nil) }

type inbound struct {
	Success *bool  `json:"success,omitempty"`
	ReqID   string `json:"req_id"`
	Op      string `json:"op"`
	Topic   string `json:"topic"`
	TS      int64  `json:"ts"`
	Data    *struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	} `json:"data,omitempty"`
}

// Decode handles acks, pongs, and level-1 orderbook frames.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	if msg.Success != nil && msg.ReqID != "" {
		return []codec.Outcome{codec.AckOutcome(msg.ReqID)}
	}
	if msg.Op == "pong" || msg.Op == "ping" {
		return []codec.Outcome{codec.HeartbeatOutcome()}
	}
	if msg.Topic == "" || msg.Data == nil {
		return nil
	}

	// Topic shape: orderbook.1.BTCUSDT
	parts := strings.Split(msg.Topic, ".")
	if len(parts) < 3 {
		return nil
	}
	ticker := parts[2]

	if len(msg.Data.Bids) == 0 || len(msg.Data.Asks) == 0 ||
		len(msg.Data.Bids[0]) == 0 || len(msg.Data.Asks[0]) == 0 {
		return nil
	}

	bid := codec.ParsePrice(msg.Data.Bids[0][0])
	ask := codec.ParsePrice(msg.Data.Asks[0][0])
	if bid == 0 || ask == 0 {
		log.Debug().Str("ticker", ticker).Msg("bybit: non-positive book level")
		return nil
	}

	return []codec.Outcome{codec.QuoteOutcome(codec.Quote{
		NativeTicker: ticker,
		Last:         codec.Mid(bid, ask),
		Bid:          bid,
		Ask:          ask,
		ExchangeTS:   codec.NormalizeEpochMillis(msg.TS),
	})}
}
