// Package api exposes the feed over HTTP: price and arbitrage queries, a
// health probe, configuration reload, and a websocket that pushes quote and
// arbitrage events to browsers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"futures-quotefeed/internal/app"
	"futures-quotefeed/internal/bus"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Server serves the query API over one listener.
type Server struct {
	core   *app.Core
	server *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from arbitrary origins in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewServer builds the route table.
func NewServer(addr string, core *app.Core) *Server {
	s := &Server{core: core}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/prices", s.handlePrices).Methods(http.MethodGet)
	r.HandleFunc("/api/prices/{symbol}", s.handleSymbolPrices).Methods(http.MethodGet)
	r.HandleFunc("/api/best-prices/{symbol}", s.handleBestPrices).Methods(http.MethodGet)
	r.HandleFunc("/api/spread/{symbol}/{exchange1}/{exchange2}", s.handleSpread).Methods(http.MethodGet)
	r.HandleFunc("/api/arbitrage", s.handleArbitrage).Methods(http.MethodGet)
	r.HandleFunc("/api/arbitrage/{symbol}", s.handleSymbolArbitrage).Methods(http.MethodGet)
	r.HandleFunc("/api/arbitrage/{symbol}/alert-status", s.handleAlertStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/reload-config", s.handleReload).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebsocket)

	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": nowISO(),
		"feeds":     s.core.FeedStates(),
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"prices":    s.core.Prices(),
		"timestamp": nowISO(),
	})
}

func (s *Server) handleSymbolPrices(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	prices := s.core.PricesBySymbol(symbol)
	if prices == nil {
		writeError(w, http.StatusNotFound, "no prices found for symbol "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"prices":    prices,
		"timestamp": nowISO(),
	})
}

func (s *Server) handleBestPrices(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	best := s.core.BestPrices(symbol)
	if best == nil {
		writeError(w, http.StatusNotFound, "no price data found for symbol "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, best)
}

func (s *Server) handleSpread(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	spread := s.core.SpreadBetween(vars["symbol"], vars["exchange1"], vars["exchange2"])
	if spread == nil {
		writeError(w, http.StatusNotFound, "no spread data found")
		return
	}
	writeJSON(w, http.StatusOK, spread)
}

func (s *Server) handleArbitrage(w http.ResponseWriter, r *http.Request) {
	minPct := parseFloat(r.URL.Query().Get("min_spread"), 0.05)
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": s.core.Arbitrage(minPct, 20),
		"timestamp":     nowISO(),
	})
}

func (s *Server) handleSymbolArbitrage(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	minPct := parseFloat(r.URL.Query().Get("min_spread"), 0.1)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":        symbol,
		"opportunities": s.core.ArbitrageFor(symbol, minPct),
		"timestamp":     nowISO(),
	})
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	status := s.core.AlertStatus(mux.Vars(r)["symbol"])
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":                   status.Symbol,
		"can_send_alert":           status.CanSendAlert,
		"seconds_until_next_alert": status.SecondsToNext,
		"cooldown_seconds":         status.CooldownSecs,
		"last_alert_at":            status.LastAlertAtMS,
		"timestamp":                nowISO(),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Summary())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "reloaded",
		"timestamp": nowISO(),
	})
}

func parseFloat(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// wsMessage is the envelope pushed to websocket clients.
type wsMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// handleWebsocket streams quote and arbitrage events to one client until it
// goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.core.Bus().Subscribe(bus.TopicQuoteUpdated, bus.TopicArbitrageFound)
	defer s.core.Bus().Cancel(sub)

	// Discard client frames; detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			msgType := "price_update"
			if ev.Topic == bus.TopicArbitrageFound {
				msgType = "arbitrage_alert"
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(wsMessage{
				Type:      msgType,
				Data:      ev.Payload,
				Timestamp: ev.At.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}
