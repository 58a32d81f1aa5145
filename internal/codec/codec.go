package codec

import (
	"strconv"
	"time"
)

// ExchangeID identifies a supported venue.
type ExchangeID string

const (
	Binance ExchangeID = "binance"
	Bybit   ExchangeID = "bybit"
	OKX     ExchangeID = "okx"
	Deribit ExchangeID = "deribit"
	BitMEX  ExchangeID = "bitmex"
	Phemex  ExchangeID = "phemex"
	GateIO  ExchangeID = "gateio"
	KuCoin  ExchangeID = "kucoin"
	MEXC    ExchangeID = "mexc"
	Bitget  ExchangeID = "bitget"
	CoinDCX ExchangeID = "coindcx"
)

// Supported lists every exchange identifier with a codec, in a stable order.
func Supported() []ExchangeID {
	return []ExchangeID{
		Binance, Bybit, OKX, Deribit, BitMEX, Phemex,
		GateIO, KuCoin, MEXC, Bitget, CoinDCX,
	}
}

// IsSupported reports whether id names a known venue.
func IsSupported(id ExchangeID) bool {
	for _, e := range Supported() {
		if e == id {
			return true
		}
	}
	return false
}

// Quote is the canonical top-of-book record every codec produces.
// Bid and Ask are optional; zero means the venue did not publish that side.
type Quote struct {
	Exchange      string  `json:"exchange"`
	DisplaySymbol string  `json:"display_symbol"`
	NativeTicker  string  `json:"native_ticker"`
	Last          float64 `json:"last"`
	Bid           float64 `json:"bid,omitempty"`
	Ask           float64 `json:"ask,omitempty"`
	ExchangeTS    int64   `json:"exchange_ts_ms"`
	RecvTS        int64   `json:"recv_ts_ms"`
}

// HasBid reports whether the bid side is present.
func (q Quote) HasBid() bool { return q.Bid > 0 }

// HasAsk reports whether the ask side is present.
func (q Quote) HasAsk() bool { return q.Ask > 0 }

// Kind discriminates decoded outcomes.
type Kind int

const (
	KindIgnore Kind = iota
	KindQuote
	KindAck
	KindHeartbeat
	KindError
)

// Outcome is one decoded result. A single inbound frame may yield several
// outcomes (BitMEX row batches, Gate.io ticker lists, poll payloads).
type Outcome struct {
	Kind  Kind
	Quote Quote
	// AckRef is the request id or native ticker the venue acknowledged.
	AckRef string
	Err    error
	Fatal  bool
}

// QuoteOutcome wraps a decoded quote.
func QuoteOutcome(q Quote) Outcome { return Outcome{Kind: KindQuote, Quote: q} }

// AckOutcome wraps a subscription acknowledgement.
func AckOutcome(ref string) Outcome { return Outcome{Kind: KindAck, AckRef: ref} }

// HeartbeatOutcome marks a pong or equivalent keepalive frame.
func HeartbeatOutcome() Outcome { return Outcome{Kind: KindHeartbeat} }

// ErrorOutcome wraps a venue-reported error. Fatal errors terminate the
// supervisor; non-fatal ones trigger a reconnect accounting only.
func ErrorOutcome(err error, fatal bool) Outcome {
	return Outcome{Kind: KindError, Err: err, Fatal: fatal}
}

// Codec translates between one venue's wire dialect and canonical quotes.
// Decode calls are serialized by the owning supervisor; a codec may keep a
// trade-price cache and a request-id counter but no other mutable state.
type Codec interface {
	// Exchange returns the venue identifier (lowercase, stable).
	Exchange() ExchangeID

	// SubscribeFrame builds the wire message subscribing to one native
	// ticker. A nil frame means the venue needs no subscription (polled
	// dialects).
	SubscribeFrame(ticker string) []byte

	// UnsubscribeFrame builds the wire message removing one subscription.
	UnsubscribeFrame(ticker string) []byte

	// HeartbeatFrame builds the venue keepalive message. Nil means the
	// transport's built-in ping is used instead.
	HeartbeatFrame() []byte

	// Decode translates one inbound frame into zero or more outcomes.
	// Malformed or incomplete frames decode to nothing (dropped at debug
	// level); only venue-reported errors yield KindError.
	Decode(raw []byte) []Outcome
}

// ScaleTable maps native tickers to the divisor for venues that transmit
// fixed-point integers. Unknown tickers fall back to Default.
type ScaleTable struct {
	Factors map[string]float64
	Default float64
}

// Scale divides a raw integer price by the ticker's factor. A zero result
// marks the frame invalid.
func (t ScaleTable) Scale(ticker string, raw float64) float64 {
	factor := t.Default
	if f, ok := t.Factors[ticker]; ok {
		factor = f
	}
	if factor <= 0 {
		return 0
	}
	return raw / factor
}

// NanosToMillis converts a nanosecond stamp to milliseconds.
func NanosToMillis(ns int64) int64 { return ns / 1_000_000 }

// NormalizeEpochMillis promotes second-resolution stamps to milliseconds
// and passes millisecond stamps through. Zero and negative values map to 0.
func NormalizeEpochMillis(v int64) int64 {
	if v <= 0 {
		return 0
	}
	if v < 1e12 {
		return v * 1000
	}
	return v
}

// ParseISOMillis parses an ISO-8601 timestamp to epoch milliseconds.
// Unparseable input maps to 0.
func ParseISOMillis(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// ParsePrice parses a venue price string. Returns 0 for missing,
// non-numeric, or non-positive values.
func ParsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// Mid returns the midpoint of a bid/ask pair.
func Mid(bid, ask float64) float64 { return (bid + ask) / 2 }
