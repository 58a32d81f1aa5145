// Package mexc implements the MEXC contract ticker dialect.
package mexc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Codec speaks the sub.ticker dialect of contract.mexc.com/edge. Field names
// drift between deployments, so the decoder accepts both spellings of the
// price fields.
type Codec struct {
	reqID int64
}

// New creates a MEXC codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.MEXC }

type symbolParam struct {
	Symbol string `json:"symbol"`
}

type request struct {
	Method string       `json:"method"`
	Param  *symbolParam `json:"param,omitempty"`
	ID     int64        `json:"id"`
}

func (c *Codec) frame(method string, param *symbolParam) []byte {
	c.reqID++
	data, _ := json.Marshal(request{Method: method, Param: param, ID: c.reqID})
	return data
}

// SubscribeFrame requests the ticker channel for one contract.
func (c *Codec) SubscribeFrame(ticker string) []byte {
	return c.frame("sub.ticker", &symbolParam{Symbol: ticker})
}

// UnsubscribeFrame removes the ticker channel for one contract.
func (c *Codec) UnsubscribeFrame(ticker string) []byte {
	return c.frame("unsub.ticker", &symbolParam{Symbol: ticker})
}

// HeartbeatFrame builds the method:ping keepalive.
func (c *Codec) HeartbeatFrame() []byte { return c.frame("ping", nil) }

type inbound struct {
	Code    *int   `json:"code,omitempty"`
	ID      *int64 `json:"id,omitempty"`
	Msg     string `json:"msg"`
	Channel string `json:"channel"`
	Data    *struct {
		Symbol    string      `json:"symbol"`
		LastPrice json.Number `json:"lastPrice"`
		Last      json.Number `json:"last"`
		Bid1      json.Number `json:"bid1"`
		BidPrice  json.Number `json:"bidPrice"`
		Ask1      json.Number `json:"ask1"`
		AskPrice  json.Number `json:"askPrice"`
		Timestamp int64       `json:"timestamp"`
	} `json:"data,omitempty"`
}

func firstPrice(primary, fallback json.Number) float64 {
	if v := codec.ParsePrice(primary.String()); v > 0 {
		return v
	}
	return codec.ParsePrice(fallback.String())
}

// Decode handles acks, venue errors, pongs, and push.ticker frames.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	if msg.Code != nil {
		if *msg.Code != 0 {
			return []codec.Outcome{codec.ErrorOutcome(
				fmt.Errorf("mexc: %s (code %d)", msg.Msg, *msg.Code), false)}
		}
		if msg.ID != nil {
			return []codec.Outcome{codec.AckOutcome(strconv.FormatInt(*msg.ID, 10))}
		}
		return nil
	}

	if msg.Channel == "pong" {
		return []codec.Outcome{codec.HeartbeatOutcome()}
	}
	if msg.Channel != "push.ticker" || msg.Data == nil {
		return nil
	}

	data := msg.Data
	last := firstPrice(data.LastPrice, data.Last)
	bid := firstPrice(data.Bid1, data.BidPrice)
	ask := firstPrice(data.Ask1, data.AskPrice)
	if data.Symbol == "" || last == 0 || bid == 0 || ask == 0 {
		log.Debug().Str("symbol", data.Symbol).Msg("mexc: incomplete ticker frame")
		return nil
	}

	return []codec.Outcome{codec.QuoteOutcome(codec.Quote{
		NativeTicker: data.Symbol,
		Last:         last,
		Bid:          bid,
		Ask:          ask,
		ExchangeTS:   codec.NormalizeEpochMillis(data.Timestamp),
	})}
}
