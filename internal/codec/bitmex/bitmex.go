// Package bitmex implements the BitMEX realtime quote/trade dialect.
package bitmex

import (
	"encoding/json"
	"fmt"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// Codec subscribes to both the quote and trade tables per instrument. Trade
// rows feed a last-price cache; quote rows emit, using the cached trade as
// last when present and the midpoint otherwise.
type Codec struct {
	lastTrade map[string]float64
}

// New creates a BitMEX codec.
func New() *Codec { return &Codec{lastTrade: make(map[string]float64)} }

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.BitMEX }

type request struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func frame(op, ticker string) []byte {
	data, _ := json.Marshal(request{Op: op, Args: []string{"quote:" + ticker, "trade:" + ticker}})
	return data
}

// SubscribeFrame requests the quote and trade tables for one instrument.
func (c *Codec) SubscribeFrame(ticker string) []byte { return frame("subscribe", ticker) }

// UnsubscribeFrame removes the quote and trade tables for one instrument.
func (c *Codec) UnsubscribeFrame(ticker string) []byte { return frame("unsubscribe", ticker) }

// HeartbeatFrame builds the op:ping keepalive.
func (c *Codec) HeartbeatFrame() []byte {
	data, _ := json.Marshal(request{Op: "ping"})
	return data
}

type inbound struct {
	Success   *bool           `json:"success,omitempty"`
	Subscribe string          `json:"subscribe"`
	Error     string          `json:"error"`
	Info      string          `json:"info"`
	Table     string          `json:"table"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type quoteRow struct {
	Symbol    string  `json:"symbol"`
	BidPrice  float64 `json:"bidPrice"`
	AskPrice  float64 `json:"askPrice"`
	Timestamp string  `json:"timestamp"`
}

type tradeRow struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// Decode handles welcome/ack frames and quote/trade table batches. One frame
// may carry several rows, so one Decode may yield several quotes.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	if string(raw) == "pong" {
		return []codec.Outcome{codec.HeartbeatOutcome()}
	}

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	if msg.Error != "" {
		return []codec.Outcome{codec.ErrorOutcome(fmt.Errorf("bitmex: %s", msg.Error), false)}
	}
	if msg.Success != nil && *msg.Success && msg.Subscribe != "" {
		return []codec.Outcome{codec.AckOutcome(msg.Subscribe)}
	}
	if msg.Info != "" {
		// Welcome banner on connect.
		return nil
	}

	switch msg.Table {
	case "trade":
		var rows []tradeRow
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			return nil
		}
		for _, row := range rows {
			if row.Symbol != "" && row.Price > 0 {
				c.lastTrade[row.Symbol] = row.Price
			}
		}
		return nil

	case "quote":
		var rows []quoteRow
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			return nil
		}
		var out []codec.Outcome
		for _, row := range rows {
			if row.Symbol == "" || row.BidPrice <= 0 || row.AskPrice <= 0 {
				log.Debug().Str("symbol", row.Symbol).Msg("bitmex: incomplete quote row")
				continue
			}
			last := codec.Mid(row.BidPrice, row.AskPrice)
			if cached, ok := c.lastTrade[row.Symbol]; ok {
				last = cached
			}
			out = append(out, codec.QuoteOutcome(codec.Quote{
				NativeTicker: row.Symbol,
				Last:         last,
				Bid:          row.BidPrice,
				Ask:          row.AskPrice,
				ExchangeTS:   codec.ParseISOMillis(row.Timestamp),
			}))
		}
		return out
	}

	return nil
}
