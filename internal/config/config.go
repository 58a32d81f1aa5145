// Package config loads the instrument configuration that decides which
// symbols are watched on which venues, in CSV or JSON form.
package config

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"futures-quotefeed/internal/codec"
	"futures-quotefeed/internal/router"

	"github.com/rs/zerolog/log"
)

// Instruments is the parsed watch list. Mapped is true when the file carried
// explicit per-venue tickers; otherwise tickers are derived from each
// venue's naming convention.
type Instruments struct {
	Mappings []router.Mapping
	Mapped   bool
}

// Entry is one JSON configuration row. The plain form carries exchange and
// symbol; the extended form adds display_symbol and ticker and switches the
// router into mapped mode.
type Entry struct {
	Exchange      string `json:"exchange"`
	Symbol        string `json:"symbol,omitempty"`
	DisplaySymbol string `json:"display_symbol,omitempty"`
	Ticker        string `json:"ticker,omitempty"`
}

// Load reads a CSV or JSON instrument file. Unknown exchanges are dropped
// with a warning; an unreadable file or an empty result is an error.
func Load(path string) (*Instruments, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var entries []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		entries, err = parseCSV(data)
	default:
		entries, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return build(entries)
}

func parseCSV(data []byte) ([]Entry, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	header := rows[0]
	if len(header) < 2 ||
		!strings.EqualFold(strings.TrimSpace(header[0]), "exchange") ||
		!strings.EqualFold(strings.TrimSpace(header[1]), "symbol") {
		return nil, fmt.Errorf("expected header exchange,symbol")
	}

	entries := make([]Entry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		entries = append(entries, Entry{
			Exchange: strings.TrimSpace(row[0]),
			Symbol:   strings.TrimSpace(row[1]),
		})
	}
	return entries, nil
}

func parseJSON(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func build(entries []Entry) (*Instruments, error) {
	out := &Instruments{}

	for _, e := range entries {
		exchange := codec.ExchangeID(strings.ToLower(strings.TrimSpace(e.Exchange)))
		if exchange == "" {
			continue
		}
		if !codec.IsSupported(exchange) {
			log.Warn().Str("exchange", string(exchange)).Msg("unsupported exchange in config, skipping")
			continue
		}

		switch {
		case e.DisplaySymbol != "" && e.Ticker != "":
			out.Mapped = true
			out.Mappings = append(out.Mappings, router.Mapping{
				Exchange:      exchange,
				DisplaySymbol: strings.ToUpper(e.DisplaySymbol),
				NativeTicker:  e.Ticker,
			})
		case e.Symbol != "":
			symbol := strings.ToUpper(e.Symbol)
			out.Mappings = append(out.Mappings, router.Mapping{
				Exchange:      exchange,
				DisplaySymbol: symbol,
				NativeTicker:  router.DefaultTicker(exchange, symbol),
			})
		default:
			log.Warn().Str("exchange", string(exchange)).Msg("config entry without symbol, skipping")
		}
	}

	if len(out.Mappings) == 0 {
		return nil, fmt.Errorf("no usable instrument entries")
	}
	return out, nil
}

// Getenv returns the environment variable value or a fallback.
func Getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
