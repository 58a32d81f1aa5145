// Package supervisor owns one venue connection end to end: dialing,
// subscribing, heartbeats, decode dispatch, reconnection, and shutdown.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"futures-quotefeed/internal/book"
	"futures-quotefeed/internal/codec"
	"futures-quotefeed/internal/metrics"
	"futures-quotefeed/internal/router"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// State is the supervisor lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateSubscribing
	StateLive
	StateClosing
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxAttempts       = 10
	defaultHeartbeatInterval = 30 * time.Second
	defaultPaceInterval      = 100 * time.Millisecond
	defaultConnectTimeout    = 10 * time.Second
	shutdownGrace            = 10 * time.Second

	// maxBadFrames is how many consecutive unparseable frames force a
	// reconnect.
	maxBadFrames = 25
)

var errFatal = errors.New("venue reported a fatal error")
var errBadFrames = errors.New("too many consecutive unparseable frames")

// Config wires one supervisor.
type Config struct {
	Codec     codec.Codec
	Transport Transport
	Router    *router.Router
	Book      *book.Book

	// LegacyMode keys book entries by the native ticker itself instead of
	// consulting the router.
	LegacyMode bool

	// Tickers is the initial subscription set, in subscription order.
	Tickers []string

	ReconnectDelay    time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	PaceInterval      time.Duration
	ConnectTimeout    time.Duration

	// OnExhausted fires once when reconnection attempts run out or the
	// venue reports a fatal error.
	OnExhausted func(exchange codec.ExchangeID)
	// OnQuote, if set, observes every quote after it lands in the book.
	OnQuote func(q codec.Quote)
}

func (c *Config) fillDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.PaceInterval <= 0 {
		c.PaceInterval = defaultPaceInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
}

type request struct {
	unsubscribe bool
	ticker      string
}

// Supervisor drives one venue. The reader goroutine decodes inbound frames;
// the writer goroutine owns every outbound write (subscriptions, heartbeats,
// external requests), so codec state is never touched concurrently.
type Supervisor struct {
	cfg      Config
	exchange codec.ExchangeID

	state atomic.Int32

	mu      sync.Mutex
	desired []string // subscription order preserved for replay

	// codecMu serializes codec calls between the reader and writer; codecs
	// keep unsynchronized state (request ids, trade caches).
	codecMu sync.Mutex

	requests chan request

	badFrames int
}

// New creates a supervisor; Run starts it.
func New(cfg Config) *Supervisor {
	cfg.fillDefaults()
	s := &Supervisor{
		cfg:      cfg,
		exchange: cfg.Codec.Exchange(),
		requests: make(chan request, 64),
		desired:  append([]string(nil), cfg.Tickers...),
	}
	s.state.Store(int32(StateIdle))
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Exchange returns the venue this supervisor drives.
func (s *Supervisor) Exchange() codec.ExchangeID { return s.exchange }

func (s *Supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	log.Debug().Str("exchange", string(s.exchange)).
		Str("from", prev.String()).Str("to", st.String()).
		Msg("supervisor state change")

	switch st {
	case StateLive:
		metrics.RecordConnectionStatus(string(s.exchange), true)
	case StateReconnecting:
		metrics.RecordReconnect(string(s.exchange))
		metrics.RecordConnectionStatus(string(s.exchange), false)
	case StateTerminated, StateClosing:
		metrics.RecordConnectionStatus(string(s.exchange), false)
	}
}

// Subscribe adds a ticker to the desired set and, when live, issues the
// subscription immediately. The set survives reconnects.
func (s *Supervisor) Subscribe(ticker string) {
	s.mu.Lock()
	exists := false
	for _, t := range s.desired {
		if t == ticker {
			exists = true
			break
		}
	}
	if !exists {
		s.desired = append(s.desired, ticker)
	}
	s.mu.Unlock()
	if exists {
		return
	}

	select {
	case s.requests <- request{ticker: ticker}:
	default:
		log.Warn().Str("exchange", string(s.exchange)).Str("ticker", ticker).
			Msg("supervisor request queue full")
	}
}

// Unsubscribe removes a ticker from the desired set and, when live, issues
// the unsubscription.
func (s *Supervisor) Unsubscribe(ticker string) {
	s.mu.Lock()
	kept := s.desired[:0]
	found := false
	for _, t := range s.desired {
		if t == ticker {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	s.desired = kept
	s.mu.Unlock()
	if !found {
		return
	}

	select {
	case s.requests <- request{unsubscribe: true, ticker: ticker}:
	default:
	}
}

func (s *Supervisor) desiredSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.desired...)
}

func (s *Supervisor) newBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(
		backoff.NewConstantBackOff(s.cfg.ReconnectDelay), uint64(s.cfg.MaxAttempts))
}

// Run drives the connection until the context is cancelled, reconnect
// attempts run out, or the venue reports a fatal error.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.setState(StateTerminated)

	bo := s.newBackOff()
	for {
		s.setState(StateConnecting)
		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		conn, err := s.cfg.Transport.Dial(dialCtx)
		cancel()

		if err == nil {
			// A full session resets the attempt budget.
			bo = s.newBackOff()
			err = s.session(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errFatal) {
			log.Error().Str("exchange", string(s.exchange)).Err(err).
				Msg("supervisor terminating on fatal venue error")
			s.exhausted()
			return
		}
		if err != nil {
			log.Warn().Str("exchange", string(s.exchange)).Err(err).
				Msg("supervisor connection lost")
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			log.Error().Str("exchange", string(s.exchange)).
				Int("attempts", s.cfg.MaxAttempts).
				Msg("supervisor reconnect attempts exhausted")
			s.exhausted()
			return
		}
		s.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Supervisor) exhausted() {
	if s.cfg.OnExhausted != nil {
		s.cfg.OnExhausted(s.exchange)
	}
}

// session owns one connection from OPEN to teardown. It returns the error
// that ended the session, or nil on external shutdown.
func (s *Supervisor) session(ctx context.Context, conn Conn) error {
	s.setState(StateOpen)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(sctx, conn, cancel)
	}()
	// Closing the connection is the only way to unblock a pending Read, so
	// teardown runs here for both session failure and external shutdown.
	go func() {
		defer wg.Done()
		<-sctx.Done()
		if ctx.Err() != nil {
			s.drainUnsubscribes(conn)
		}
		conn.Close()
	}()

	if err := s.replaySubscriptions(sctx, conn); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	readErr := s.readLoop(sctx, conn)
	cancel()
	wg.Wait()
	return readErr
}

// replaySubscriptions issues every desired subscription, paced by the
// inter-frame interval. Codecs that return nil frames (polled venues) still
// get the SubscribeFrame call so they can track their targets.
func (s *Supervisor) replaySubscriptions(ctx context.Context, conn Conn) error {
	s.setState(StateSubscribing)

	limiter := rate.NewLimiter(rate.Every(s.cfg.PaceInterval), 1)
	sent := 0
	for _, ticker := range s.desiredSnapshot() {
		s.codecMu.Lock()
		frame := s.cfg.Codec.SubscribeFrame(ticker)
		s.codecMu.Unlock()
		if frame == nil {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := conn.Write(frame); err != nil {
			return err
		}
		sent++
	}
	log.Info().Str("exchange", string(s.exchange)).Int("subscriptions", sent).
		Msg("subscriptions issued")

	// Venues that never ack (and polled venues) go live immediately.
	if sent == 0 {
		s.setState(StateLive)
	}
	return nil
}

// writeLoop owns outbound writes: heartbeats and external (un)subscribe
// requests. A failed write kills the session.
func (s *Supervisor) writeLoop(ctx context.Context, conn Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.heartbeat(conn); err != nil {
				log.Warn().Str("exchange", string(s.exchange)).Err(err).
					Msg("heartbeat write failed")
				cancel()
				return
			}
		case req := <-s.requests:
			s.codecMu.Lock()
			var frame []byte
			if req.unsubscribe {
				frame = s.cfg.Codec.UnsubscribeFrame(req.ticker)
			} else {
				frame = s.cfg.Codec.SubscribeFrame(req.ticker)
			}
			s.codecMu.Unlock()
			if frame == nil {
				continue
			}
			if err := conn.Write(frame); err != nil {
				log.Warn().Str("exchange", string(s.exchange)).Err(err).
					Msg("subscription write failed")
				cancel()
				return
			}
		}
	}
}

func (s *Supervisor) heartbeat(conn Conn) error {
	s.codecMu.Lock()
	frame := s.cfg.Codec.HeartbeatFrame()
	s.codecMu.Unlock()
	if frame != nil {
		return conn.Write(frame)
	}
	return conn.Ping(time.Now().Add(5 * time.Second))
}

// readLoop decodes inbound frames until the connection dies or a fatal
// outcome arrives.
func (s *Supervisor) readLoop(ctx context.Context, conn Conn) error {
	s.badFrames = 0
	for {
		raw, err := conn.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.codecMu.Lock()
		outcomes := s.cfg.Codec.Decode(raw)
		s.codecMu.Unlock()
		if len(outcomes) == 0 {
			if !json.Valid(raw) {
				s.badFrames++
				if s.badFrames >= maxBadFrames {
					return errBadFrames
				}
			}
			continue
		}
		s.badFrames = 0

		for _, outcome := range outcomes {
			switch outcome.Kind {
			case codec.KindQuote:
				// Flowing quotes prove the subscription took even when the
				// ack was lost or the venue never sends one.
				if s.State() == StateSubscribing {
					s.setState(StateLive)
				}
				s.applyQuote(outcome.Quote)
			case codec.KindAck:
				if s.State() == StateSubscribing {
					s.setState(StateLive)
				}
				log.Debug().Str("exchange", string(s.exchange)).
					Str("ref", outcome.AckRef).Msg("subscription acknowledged")
			case codec.KindHeartbeat:
				// Keepalive round trip completed.
			case codec.KindError:
				if outcome.Fatal {
					return errors.Join(errFatal, outcome.Err)
				}
				log.Error().Str("exchange", string(s.exchange)).
					Err(outcome.Err).Msg("venue reported error")
			}
		}
	}
}

// applyQuote enriches a decoded quote, resolves its display symbol, and
// stores it. Unmapped tickers are dropped, never stored.
func (s *Supervisor) applyQuote(q codec.Quote) {
	q.Exchange = string(s.exchange)
	q.RecvTS = time.Now().UnixMilli()

	if s.cfg.LegacyMode {
		q.DisplaySymbol = q.NativeTicker
	} else {
		display, ok := s.cfg.Router.DisplaySymbol(s.exchange, q.NativeTicker)
		if !ok {
			log.Warn().Str("exchange", string(s.exchange)).
				Str("ticker", q.NativeTicker).Msg("quote for unmapped ticker dropped")
			return
		}
		q.DisplaySymbol = display
	}
	if q.ExchangeTS == 0 {
		q.ExchangeTS = q.RecvTS
	}

	s.cfg.Book.Update(q)
	if s.cfg.OnQuote != nil {
		s.cfg.OnQuote(q)
	}
}

// drainUnsubscribes flushes unsubscribe frames during shutdown while the
// transport is still writable, bounded by the shutdown grace period.
func (s *Supervisor) drainUnsubscribes(conn Conn) {
	s.setState(StateClosing)
	deadline := time.Now().Add(shutdownGrace)
	for _, ticker := range s.desiredSnapshot() {
		if time.Now().After(deadline) {
			return
		}
		s.codecMu.Lock()
		frame := s.cfg.Codec.UnsubscribeFrame(ticker)
		s.codecMu.Unlock()
		if frame == nil {
			continue
		}
		if err := conn.Write(frame); err != nil {
			return
		}
	}
}
