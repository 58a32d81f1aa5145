// Package router maps between display symbols and venue-native tickers.
//
// Every venue spells its contracts differently: the same perpetual is
// BTCUSDT on Binance, XBTUSD on BitMEX, BTC-PERPETUAL on Deribit, and
// BTC_USDT on Gate.io. The router owns both directions of that mapping so
// codecs only ever see native tickers and the rest of the system only ever
// sees display symbols.
package router

import (
	"fmt"
	"strings"
	"sync/atomic"

	"futures-quotefeed/internal/codec"
)

// Mapping binds one display symbol to its native ticker on one exchange.
type Mapping struct {
	Exchange      codec.ExchangeID
	DisplaySymbol string
	NativeTicker  string
}

type table struct {
	// exchange -> native ticker -> display symbol
	toDisplay map[codec.ExchangeID]map[string]string
	// display symbol -> exchange -> native ticker
	toNative map[string]map[codec.ExchangeID]string
}

func buildTable(mappings []Mapping) (*table, error) {
	t := &table{
		toDisplay: make(map[codec.ExchangeID]map[string]string),
		toNative:  make(map[string]map[codec.ExchangeID]string),
	}
	for _, m := range mappings {
		display := strings.ToUpper(m.DisplaySymbol)
		if display == "" || m.NativeTicker == "" {
			return nil, fmt.Errorf("empty mapping for exchange %s", m.Exchange)
		}

		natives := t.toDisplay[m.Exchange]
		if natives == nil {
			natives = make(map[string]string)
			t.toDisplay[m.Exchange] = natives
		}
		if prev, ok := natives[m.NativeTicker]; ok && prev != display {
			return nil, fmt.Errorf("ticker %s on %s mapped to both %s and %s",
				m.NativeTicker, m.Exchange, prev, display)
		}
		natives[m.NativeTicker] = display

		displays := t.toNative[display]
		if displays == nil {
			displays = make(map[codec.ExchangeID]string)
			t.toNative[display] = displays
		}
		displays[m.Exchange] = m.NativeTicker
	}
	return t, nil
}

// Router resolves symbols in both directions. Lookups are lock-free; Reload
// swaps the whole table atomically so readers never observe a partial state.
type Router struct {
	table atomic.Pointer[table]
}

// New builds a router from the given mappings. Two display symbols claiming
// the same native ticker on one exchange is a configuration error.
func New(mappings []Mapping) (*Router, error) {
	t, err := buildTable(mappings)
	if err != nil {
		return nil, err
	}
	r := &Router{}
	r.table.Store(t)
	return r, nil
}

// Reload replaces the mapping table. On error the previous table stays live.
func (r *Router) Reload(mappings []Mapping) error {
	t, err := buildTable(mappings)
	if err != nil {
		return err
	}
	r.table.Store(t)
	return nil
}

// DisplaySymbol resolves a native ticker back to its display symbol.
func (r *Router) DisplaySymbol(exchange codec.ExchangeID, native string) (string, bool) {
	display, ok := r.table.Load().toDisplay[exchange][native]
	return display, ok
}

// NativeTicker resolves a display symbol to its native ticker on one venue.
func (r *Router) NativeTicker(display string, exchange codec.ExchangeID) (string, bool) {
	native, ok := r.table.Load().toNative[strings.ToUpper(display)][exchange]
	return native, ok
}

// TickersFor returns every native ticker mapped on one exchange.
func (r *Router) TickersFor(exchange codec.ExchangeID) []string {
	natives := r.table.Load().toDisplay[exchange]
	out := make([]string, 0, len(natives))
	for native := range natives {
		out = append(out, native)
	}
	return out
}

// Exchanges returns every exchange with at least one mapping.
func (r *Router) Exchanges() []codec.ExchangeID {
	t := r.table.Load()
	out := make([]codec.ExchangeID, 0, len(t.toDisplay))
	for exchange := range t.toDisplay {
		out = append(out, exchange)
	}
	return out
}

// DefaultTicker derives the conventional native ticker for a display symbol
// on one venue, for configurations that list plain symbols without explicit
// per-venue tickers. The rules follow each venue's USDT-perpetual naming.
func DefaultTicker(exchange codec.ExchangeID, display string) string {
	display = strings.ToUpper(display)
	base := strings.TrimSuffix(display, "USDT")

	switch exchange {
	case codec.Deribit:
		return base + "-PERPETUAL"
	case codec.BitMEX:
		if base == "BTC" {
			return "XBTUSD"
		}
		return base + "USD"
	case codec.Phemex:
		return base + "USD"
	case codec.GateIO, codec.MEXC:
		return base + "_USDT"
	case codec.KuCoin:
		return base + "USDTM"
	default:
		// Binance, Bybit, OKX, Bitget, and CoinDCX take the symbol as-is.
		return display
	}
}

// DefaultMappings expands display symbols across exchanges using
// DefaultTicker, producing one mapping per (exchange, symbol) pair.
func DefaultMappings(exchanges []codec.ExchangeID, symbols []string) []Mapping {
	out := make([]Mapping, 0, len(exchanges)*len(symbols))
	for _, exchange := range exchanges {
		for _, symbol := range symbols {
			out = append(out, Mapping{
				Exchange:      exchange,
				DisplaySymbol: strings.ToUpper(symbol),
				NativeTicker:  DefaultTicker(exchange, symbol),
			})
		}
	}
	return out
}
