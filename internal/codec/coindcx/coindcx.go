// Package coindcx implements the CoinDCX polled ticker dialect.
//
// CoinDCX has no public futures websocket, so the feed is a REST snapshot of
// every market fetched on a fixed cadence. Decode receives the whole response
// body and filters it down to the subscribed markets.
package coindcx

import (
	"encoding/json"
	"math"

	"futures-quotefeed/internal/codec"

	"github.com/rs/zerolog/log"
)

// minChangePct is the last-price move, in percent, below which a polled
// ticker is considered unchanged and not re-emitted.
const minChangePct = 0.01

// Codec filters polled ticker snapshots. Subscribe/unsubscribe frames are
// nil; they maintain the market filter instead of writing to the wire.
type Codec struct {
	targets  map[string]struct{}
	lastSeen map[string]float64
}

// New creates a CoinDCX codec.
func New() *Codec {
	return &Codec{
		targets:  make(map[string]struct{}),
		lastSeen: make(map[string]float64),
	}
}

// Exchange returns the venue identifier.
func (c *Codec) Exchange() codec.ExchangeID { return codec.CoinDCX }

// SubscribeFrame adds a market to the poll filter. The returned frame is nil
// because nothing is written to the venue.
func (c *Codec) SubscribeFrame(ticker string) []byte {
	c.targets[ticker] = struct{}{}
	return nil
}

// UnsubscribeFrame removes a market from the poll filter.
func (c *Codec) UnsubscribeFrame(ticker string) []byte {
	delete(c.targets, ticker)
	delete(c.lastSeen, ticker)
	return nil
}

// HeartbeatFrame is nil: a polled feed has no connection to keep alive.
func (c *Codec) HeartbeatFrame() []byte { return nil }

type ticker struct {
	Market    string      `json:"market"`
	LastPrice json.Number `json:"last_price"`
	Bid       json.Number `json:"bid"`
	Ask       json.Number `json:"ask"`
	Timestamp int64       `json:"timestamp"`
}

// Decode filters one full ticker snapshot down to subscribed markets whose
// last price moved since the previous poll.
func (c *Codec) Decode(raw []byte) []codec.Outcome {
	var tickers []ticker
	if err := json.Unmarshal(raw, &tickers); err != nil {
		return nil
	}

	var out []codec.Outcome
	for _, t := range tickers {
		if _, ok := c.targets[t.Market]; !ok {
			continue
		}

		last := codec.ParsePrice(t.LastPrice.String())
		bid := codec.ParsePrice(t.Bid.String())
		ask := codec.ParsePrice(t.Ask.String())
		if last == 0 || bid == 0 || ask == 0 {
			log.Debug().Str("market", t.Market).Msg("coindcx: incomplete ticker")
			continue
		}

		if prev, ok := c.lastSeen[t.Market]; ok && prev > 0 {
			if math.Abs(last-prev)/prev*100 < minChangePct {
				continue
			}
		}
		c.lastSeen[t.Market] = last

		out = append(out, codec.QuoteOutcome(codec.Quote{
			NativeTicker: t.Market,
			Last:         last,
			Bid:          bid,
			Ask:          ask,
			ExchangeTS:   codec.NormalizeEpochMillis(t.Timestamp),
		}))
	}
	return out
}
