// Package kucoin implements the KuCoin futures contractMarket ticker dialect.
package kucoin

import (
	"encoding/json"
	"strconv"
	"strings"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

const topicPrefix = "/contractMarket/ticker:"

// Codec speaks the token-brokered futures websocket: topic-addressed
// subscriptions with welcome/ack/pong control frames. Ticker timestamps are
// nanoseconds.
type Codec struct {
	reqID int64
}

// New creates a KuCoin codec.
func New() *Codec { return &Codec{} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.KuCoin }

type request struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel"`
	Response       bool   `json:"response"`
}

func (c *Codec) frame(typ, ticker string) []byte {
	c.reqID++
	data, _ := json.Marshal(request{
		ID:       strconv.FormatInt(c.reqID, 10),
		Type:     typ,
		Topic:    topicPrefix + ticker,
		Response: true,
	})
	return data
}

// SubscribeFrame requests the ticker topic for one contract.
func (c *Codec) SubscribeFrame(ticker string) []byte { return c.frame("subscribe", ticker) }

// UnsubscribeFrame removes the ticker topic for one contract.
func (c *Codec) UnsubscribeFrame(ticker string) []byte { return c.frame("unsubscribe", ticker) }

// HeartbeatFrame builds the typed ping keepalive.
func (c *Codec) HeartbeatFrame() []byte {
	c.reqID++
	data, _ := json.Marshal(struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}{strconv.FormatInt(c.reqID, 10), "ping"})
	return data
}

type inbound struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Topic string `json:"topic"`
	Data  *struct {
		Price        json.Number `json:"price"`
		BestBidPrice json.Number `json:"bestBidPrice"`
		BestAskPrice json.Number `json:"bestAskPrice"`
		TS           int64       `json:"ts"`
	} `json:"data,omitempty"`
}

// Decode handles welcome/ack/pong control frames and ticker messages.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	switch msg.Type {
	case "welcome":
		return nil
	case "ack":
		return []codec.Outcome{codec.AckOutcome(msg.ID)}
	case "pong":
		return []codec.Outcome{codec.HeartbeatOutcome()}
	case "message":
	default:
		return nil
	}

	if msg.Data == nil || !strings.HasPrefix(msg.Topic, topicPrefix) {
		return nil
	}
	ticker := strings.TrimPrefix(msg.Topic, topicPrefix)

	last := codec.ParsePrice(msg.Data.Price.String())
	bid := codec.ParsePrice(msg.Data.BestBidPrice.String())
	ask := codec.ParsePrice(msg.Data.BestAskPrice.String())
	if last == 0 || bid == 0 || ask == 0 {
		log.Debug().Str("ticker", ticker).Msg("kucoin: incomplete ticker frame")
		return nil
	}

	return []codec.Outcome{codec.QuoteOutcome(codec.Quote{
		NativeTicker: ticker,
		Last:         last,
		Bid:          bid,
		Ask:          ask,
		ExchangeTS:   codec.NanosToMillis(msg.Data.TS),
	})}
}
