// Package book holds the shared store of current quotes across venues and
// answers every price query: per-symbol snapshots, best bid/ask, pairwise
// spreads, and staleness checks.
package book

import (
	"sort"
	"strings"
	"sync"
	"time"

	"futures-quotefeed/internal/codec"
)

// alertHorizon bounds how long an arbitrage alert stamp survives without
// being refreshed before the reaper discards it.
const alertHorizon = time.Hour

// Observer is notified after a quote lands in the book. The book calls it
// outside its lock, so observers may read the book.
type Observer func(symbol, exchange string, q codec.Quote)

// Book is the authoritative quote store. Writers are exclusive; readers
// share. Display symbols are uppercased and exchange identifiers lowercased
// on both read and write paths.
type Book struct {
	mu sync.RWMutex

	// symbol -> exchange -> quote
	quotes map[string]map[string]codec.Quote
	// symbol -> exchange -> local monotonic stamp (ms)
	updatedAt map[string]map[string]int64
	// symbol -> stamp of the last arbitrage alert (ms)
	alertAt map[string]int64

	now      func() time.Time
	observer Observer
}

// New creates an empty book using the wall clock.
func New() *Book {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty book with an injected clock.
func NewWithClock(now func() time.Time) *Book {
	return &Book{
		quotes:    make(map[string]map[string]codec.Quote),
		updatedAt: make(map[string]map[string]int64),
		alertAt:   make(map[string]int64),
		now:       now,
	}
}

// SetObserver installs the post-update callback. Must be called before the
// first Update.
func (b *Book) SetObserver(fn Observer) { b.observer = fn }

func normalizeSymbol(s string) string   { return strings.ToUpper(s) }
func normalizeExchange(e string) string { return strings.ToLower(e) }

// Update stores one quote and stamps its local update time. Quotes without a
// positive last price are rejected silently; optional sides are kept only
// when positive. The local stamp never decreases for a given key.
func (b *Book) Update(q codec.Quote) {
	if q.Last <= 0 {
		return
	}
	symbol := normalizeSymbol(q.DisplaySymbol)
	exchange := normalizeExchange(q.Exchange)
	if symbol == "" || exchange == "" {
		return
	}
	q.DisplaySymbol = symbol
	q.Exchange = exchange
	if q.Bid < 0 {
		q.Bid = 0
	}
	if q.Ask < 0 {
		q.Ask = 0
	}

	b.mu.Lock()
	if b.quotes[symbol] == nil {
		b.quotes[symbol] = make(map[string]codec.Quote)
		b.updatedAt[symbol] = make(map[string]int64)
	}
	b.quotes[symbol][exchange] = q

	stamp := b.now().UnixMilli()
	if prev := b.updatedAt[symbol][exchange]; prev > stamp {
		stamp = prev
	}
	b.updatedAt[symbol][exchange] = stamp
	b.mu.Unlock()

	if b.observer != nil {
		b.observer(symbol, exchange, q)
	}
}

// BySymbol returns a copy of every quote for one symbol, or nil when the
// symbol is unknown.
func (b *Book) BySymbol(symbol string) map[string]codec.Quote {
	symbol = normalizeSymbol(symbol)

	b.mu.RLock()
	defer b.mu.RUnlock()
	entries, ok := b.quotes[symbol]
	if !ok {
		return nil
	}
	out := make(map[string]codec.Quote, len(entries))
	for exchange, q := range entries {
		out[exchange] = q
	}
	return out
}

// All returns a deep copy of the whole book.
func (b *Book) All() map[string]map[string]codec.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]map[string]codec.Quote, len(b.quotes))
	for symbol, entries := range b.quotes {
		inner := make(map[string]codec.Quote, len(entries))
		for exchange, q := range entries {
			inner[exchange] = q
		}
		out[symbol] = inner
	}
	return out
}

// Symbols returns every symbol present in the book, sorted.
func (b *Book) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.quotes))
	for symbol := range b.quotes {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Exchanges returns every exchange with at least one entry, sorted.
func (b *Book) Exchanges() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, entries := range b.quotes {
		for exchange := range entries {
			seen[exchange] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for exchange := range seen {
		out = append(out, exchange)
	}
	sort.Strings(out)
	return out
}

// PricePoint is one side of the best-price answer.
type PricePoint struct {
	Price    float64 `json:"price"`
	Exchange string  `json:"exchange"`
}

// BestPrices is the cross-venue top of book for one symbol.
type BestPrices struct {
	Symbol    string     `json:"symbol"`
	BestBid   PricePoint `json:"best_bid"`
	BestAsk   PricePoint `json:"best_ask"`
	Spread    float64    `json:"spread"`
	SpreadPct float64    `json:"spread_pct"`
}

// BestPrices returns the highest bid and lowest ask across venues. Venues
// that publish no book levels participate with their last price. Ties go to
// the most recently received quote.
func (b *Book) BestPrices(symbol string) *BestPrices {
	symbol = normalizeSymbol(symbol)

	b.mu.RLock()
	defer b.mu.RUnlock()
	entries, ok := b.quotes[symbol]
	if !ok || len(entries) == 0 {
		return nil
	}

	best := &BestPrices{Symbol: symbol}
	var bidRecv, askRecv int64
	for exchange, q := range entries {
		bid := q.Bid
		if bid == 0 {
			bid = q.Last
		}
		ask := q.Ask
		if ask == 0 {
			ask = q.Last
		}

		if best.BestBid.Exchange == "" || bid > best.BestBid.Price ||
			(bid == best.BestBid.Price && q.RecvTS > bidRecv) {
			best.BestBid = PricePoint{Price: bid, Exchange: exchange}
			bidRecv = q.RecvTS
		}
		if best.BestAsk.Exchange == "" || ask < best.BestAsk.Price ||
			(ask == best.BestAsk.Price && q.RecvTS > askRecv) {
			best.BestAsk = PricePoint{Price: ask, Exchange: exchange}
			askRecv = q.RecvTS
		}
	}

	best.Spread = best.BestAsk.Price - best.BestBid.Price
	if best.BestBid.Price > 0 {
		best.SpreadPct = best.Spread / best.BestBid.Price * 100
	}
	return best
}

// Spread compares the last prices of one symbol on two venues.
type Spread struct {
	Symbol      string  `json:"symbol"`
	Spread      float64 `json:"spread"`
	SpreadPct   float64 `json:"spread_pct"`
	Higher      string  `json:"higher"`
	Lower       string  `json:"lower"`
	HigherPrice float64 `json:"higher_price"`
	LowerPrice  float64 `json:"lower_price"`
	Timestamp   int64   `json:"timestamp"`
}

// Spread returns the pairwise spread, or nil when either venue has no quote.
// The result is symmetric in a and b up to the higher/lower labels.
func (b *Book) Spread(symbol, exchangeA, exchangeB string) *Spread {
	symbol = normalizeSymbol(symbol)
	exchangeA = normalizeExchange(exchangeA)
	exchangeB = normalizeExchange(exchangeB)

	b.mu.RLock()
	defer b.mu.RUnlock()
	entries, ok := b.quotes[symbol]
	if !ok {
		return nil
	}
	qa, okA := entries[exchangeA]
	qb, okB := entries[exchangeB]
	if !okA || !okB {
		return nil
	}

	s := &Spread{
		Symbol:    symbol,
		Timestamp: b.now().UnixMilli(),
	}
	if qa.Last >= qb.Last {
		s.Higher, s.HigherPrice = exchangeA, qa.Last
		s.Lower, s.LowerPrice = exchangeB, qb.Last
	} else {
		s.Higher, s.HigherPrice = exchangeB, qb.Last
		s.Lower, s.LowerPrice = exchangeA, qa.Last
	}
	s.Spread = s.HigherPrice - s.LowerPrice
	if s.LowerPrice > 0 {
		s.SpreadPct = s.Spread / s.LowerPrice * 100
	}
	return s
}

// IsStale reports whether one entry is older than maxAge. Unknown entries
// are stale.
func (b *Book) IsStale(symbol, exchange string, maxAge time.Duration) bool {
	symbol = normalizeSymbol(symbol)
	exchange = normalizeExchange(exchange)

	b.mu.RLock()
	defer b.mu.RUnlock()
	stamp, ok := b.updatedAt[symbol][exchange]
	if !ok {
		return true
	}
	return b.now().UnixMilli()-stamp > maxAge.Milliseconds()
}

// Reap deletes every entry older than maxAge, prunes symbols left with no
// entries, and drops alert stamps whose symbols are gone or whose age
// exceeds the alert horizon. Returns the number of quote entries deleted.
func (b *Book) Reap(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	nowMS := b.now().UnixMilli()
	cutoff := nowMS - maxAge.Milliseconds()
	deleted := 0

	for symbol, stamps := range b.updatedAt {
		for exchange, stamp := range stamps {
			if stamp < cutoff {
				delete(stamps, exchange)
				delete(b.quotes[symbol], exchange)
				deleted++
			}
		}
		if len(stamps) == 0 {
			delete(b.updatedAt, symbol)
			delete(b.quotes, symbol)
		}
	}

	alertCutoff := nowMS - alertHorizon.Milliseconds()
	for symbol, stamp := range b.alertAt {
		if _, ok := b.quotes[symbol]; !ok || stamp < alertCutoff {
			delete(b.alertAt, symbol)
		}
	}
	return deleted
}

// LastAlertAt returns the stamp of the most recent arbitrage alert.
func (b *Book) LastAlertAt(symbol string) (int64, bool) {
	symbol = normalizeSymbol(symbol)

	b.mu.RLock()
	defer b.mu.RUnlock()
	stamp, ok := b.alertAt[symbol]
	return stamp, ok
}

// TryAlert claims the right to alert on symbol: it records stamp and
// returns true unless an alert younger than the cooldown already exists.
// Check and claim happen under one lock, so concurrent callers cannot both
// win the same window. Unknown symbols never alert.
func (b *Book) TryAlert(symbol string, stamp int64, cooldown time.Duration) bool {
	symbol = normalizeSymbol(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.quotes[symbol]; !ok {
		return false
	}
	if last, ok := b.alertAt[symbol]; ok && stamp-last < cooldown.Milliseconds() {
		return false
	}
	b.alertAt[symbol] = stamp
	return true
}

// SetLastAlertAt records an arbitrage alert stamp. Stamps are only kept for
// symbols present in the book.
func (b *Book) SetLastAlertAt(symbol string, stamp int64) {
	symbol = normalizeSymbol(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.quotes[symbol]; !ok {
		return
	}
	b.alertAt[symbol] = stamp
}

// Now returns the book's current clock reading in epoch milliseconds.
func (b *Book) Now() int64 { return b.now().UnixMilli() }

// Summary is a coarse census of the book.
type Summary struct {
	SymbolCount   int      `json:"symbol_count"`
	ExchangeCount int      `json:"exchange_count"`
	Symbols       []string `json:"symbols"`
	Exchanges     []string `json:"exchanges"`
	EntryCount    int      `json:"entry_count"`
	WallClockMS   int64    `json:"wall_clock_ms"`
}

// Summary returns symbol and exchange counts plus the entry total.
func (b *Book) Summary() Summary {
	symbols := b.Symbols()
	exchanges := b.Exchanges()

	b.mu.RLock()
	entries := 0
	for _, inner := range b.quotes {
		entries += len(inner)
	}
	b.mu.RUnlock()

	return Summary{
		SymbolCount:   len(symbols),
		ExchangeCount: len(exchanges),
		Symbols:       symbols,
		Exchanges:     exchanges,
		EntryCount:    entries,
		WallClockMS:   b.now().UnixMilli(),
	}
}
