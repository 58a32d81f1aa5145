// Package arb scans the price book for cross-venue spreads wide enough to
// trade and rate-limits the resulting alerts per symbol.
package arb

import (
	"sort"
	"time"

	"futures-quotefeed/internal/book"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultThresholdPct is the minimum spread, in percent, that counts as
	// an opportunity.
	DefaultThresholdPct = 0.1
	// DefaultCooldown is the minimum gap between two alerts for one symbol.
	DefaultCooldown = 5 * time.Minute
)

// Opportunity is one actionable cross-venue spread.
type Opportunity struct {
	Symbol          string  `json:"symbol"`
	BuyExchange     string  `json:"buy_exchange"`
	SellExchange    string  `json:"sell_exchange"`
	BuyPrice        float64 `json:"buy_price"`
	SellPrice       float64 `json:"sell_price"`
	Spread          float64 `json:"spread"`
	SpreadPct       float64 `json:"spread_pct"`
	PotentialProfit float64 `json:"potential_profit"`
}

// AlertStatus reports the cooldown state for one symbol.
type AlertStatus struct {
	Symbol        string  `json:"symbol"`
	CanSendAlert  bool    `json:"can_send_alert"`
	SecondsToNext float64 `json:"seconds_until_next_alert"`
	CooldownSecs  float64 `json:"cooldown_seconds"`
	LastAlertAtMS int64   `json:"last_alert_at,omitempty"`
}

// Emitter receives the opportunity sets that survive the cooldown gate.
type Emitter func(symbol string, opportunities []Opportunity)

// Detector computes opportunities on every evaluation and emits at most one
// alert per symbol per cooldown window. Alert stamps live in the book so the
// reaper clears them together with the symbol's quotes.
type Detector struct {
	book      *book.Book
	threshold float64
	cooldown  time.Duration
	emit      Emitter
}

// New creates a detector over the given book. Zero threshold or cooldown
// fall back to the defaults.
func New(b *book.Book, thresholdPct float64, cooldown time.Duration, emit Emitter) *Detector {
	if thresholdPct <= 0 {
		thresholdPct = DefaultThresholdPct
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Detector{book: b, threshold: thresholdPct, cooldown: cooldown, emit: emit}
}

// Check returns every pair of venues whose spread on symbol meets minPct,
// sorted by spread descending. A zero minPct uses the detector threshold.
func (d *Detector) Check(symbol string, minPct float64) []Opportunity {
	if minPct <= 0 {
		minPct = d.threshold
	}

	quotes := d.book.BySymbol(symbol)
	if len(quotes) < 2 {
		return nil
	}
	exchanges := make([]string, 0, len(quotes))
	for exchange := range quotes {
		exchanges = append(exchanges, exchange)
	}
	sort.Strings(exchanges)

	var out []Opportunity
	for i := 0; i < len(exchanges); i++ {
		for j := i + 1; j < len(exchanges); j++ {
			s := d.book.Spread(symbol, exchanges[i], exchanges[j])
			if s == nil || s.SpreadPct < minPct {
				continue
			}
			out = append(out, Opportunity{
				Symbol:          s.Symbol,
				BuyExchange:     s.Lower,
				SellExchange:    s.Higher,
				BuyPrice:        s.LowerPrice,
				SellPrice:       s.HigherPrice,
				Spread:          s.Spread,
				SpreadPct:       s.SpreadPct,
				PotentialProfit: s.SpreadPct,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpreadPct > out[j].SpreadPct })
	return out
}

// Evaluate runs the scan for one symbol and emits an alert unless the
// symbol is still cooling down. The scan itself always runs; only the
// emission is suppressed.
func (d *Detector) Evaluate(symbol string) {
	opportunities := d.Check(symbol, d.threshold)
	if len(opportunities) == 0 {
		return
	}

	if !d.book.TryAlert(symbol, d.book.Now(), d.cooldown) {
		return
	}

	log.Info().Str("symbol", symbol).Int("opportunities", len(opportunities)).
		Float64("top_spread_pct", opportunities[0].SpreadPct).
		Msg("arbitrage opportunity")
	if d.emit != nil {
		d.emit(symbol, opportunities)
	}
}

// Status reports whether an alert for symbol may fire now and how long
// until the next one otherwise.
func (d *Detector) Status(symbol string) AlertStatus {
	status := AlertStatus{
		Symbol:       symbol,
		CanSendAlert: true,
		CooldownSecs: d.cooldown.Seconds(),
	}
	last, ok := d.book.LastAlertAt(symbol)
	if !ok {
		return status
	}
	status.LastAlertAtMS = last

	elapsed := d.book.Now() - last
	if remaining := d.cooldown.Milliseconds() - elapsed; remaining > 0 {
		status.CanSendAlert = false
		status.SecondsToNext = float64(remaining) / 1000
	}
	return status
}
