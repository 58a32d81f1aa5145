// Package app assembles the feed: it loads configuration, builds the router,
// book, detector, and one supervisor per venue, and exposes the query and
// lifecycle surface the HTTP layer and the CLI embed.
package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"futures-quotefeed/internal/arb"
	"futures-quotefeed/internal/book"
	"futures-quotefeed/internal/bus"
	"futures-quotefeed/internal/codec"
	"futures-quotefeed/internal/config"
	"futures-quotefeed/internal/metrics"
	"futures-quotefeed/internal/publisher"
	"futures-quotefeed/internal/router"
	"futures-quotefeed/internal/supervisor"

	"github.com/rs/zerolog/log"
)

// Options configures a Core.
type Options struct {
	// ConfigPath points at the instrument CSV or JSON file.
	ConfigPath string
	// LegacyMode keys book entries by native ticker, skipping the router on
	// the inbound path.
	LegacyMode bool
	// RedisAddr enables the Redis mirror when non-empty.
	RedisAddr string

	ThresholdPct    float64
	Cooldown        time.Duration
	ReapInterval    time.Duration
	MaxQuoteAge     time.Duration
	SummaryInterval time.Duration
}

// Core owns every long-lived component and their shutdown order.
type Core struct {
	opts Options

	book     *book.Book
	bus      *bus.Bus
	router   *router.Router
	detector *arb.Detector
	redis    *publisher.RedisPublisher

	mu          sync.Mutex
	supervisors map[codec.ExchangeID]*supervisor.Supervisor
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
}

// New creates an unstarted Core.
func New(opts Options) *Core {
	return &Core{
		opts:        opts,
		supervisors: make(map[codec.ExchangeID]*supervisor.Supervisor),
	}
}

// Bus returns the event bus for subscribers.
func (c *Core) Bus() *bus.Bus { return c.bus }

// Start loads the configuration and brings every component up. It returns
// only configuration errors; venue connectivity problems are handled by the
// supervisors.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	instruments, err := config.Load(c.opts.ConfigPath)
	if err != nil {
		return err
	}

	rt, err := router.New(instruments.Mappings)
	if err != nil {
		return err
	}
	c.router = rt

	c.bus = bus.New()
	c.bus.OnDrop = func(topic bus.Topic) {
		metrics.BusEventsDropped.WithLabelValues(string(topic)).Inc()
	}

	c.book = book.New()
	c.detector = arb.New(c.book, c.opts.ThresholdPct, c.opts.Cooldown, c.emitOpportunities)
	c.book.SetObserver(func(symbol, exchange string, q codec.Quote) {
		c.bus.Publish(bus.TopicQuoteUpdated, q)
		c.detector.Evaluate(symbol)
	})

	if c.opts.RedisAddr != "" {
		redis, err := publisher.NewRedisPublisher(c.opts.RedisAddr)
		if err != nil {
			return err
		}
		c.redis = redis
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if err := c.startSupervisors(runCtx, instruments); err != nil {
		cancel()
		return err
	}

	reaper := book.NewReaper(c.book, c.opts.ReapInterval, c.opts.MaxQuoteAge)
	reaper.OnReap = func(deleted int) {
		metrics.BookReaped.Add(float64(deleted))
		metrics.BookEntries.Set(float64(c.book.Summary().EntryCount))
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		reaper.Run(runCtx)
	}()

	if c.opts.SummaryInterval > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.summaryLoop(runCtx)
		}()
	}

	c.running = true
	log.Info().Int("venues", len(c.supervisors)).
		Bool("legacy", c.opts.LegacyMode).
		Msg("quote feed started")
	return nil
}

// startSupervisors builds and launches one supervisor per configured venue.
// Callers hold c.mu.
func (c *Core) startSupervisors(ctx context.Context, instruments *config.Instruments) error {
	byExchange := make(map[codec.ExchangeID][]string)
	for _, m := range instruments.Mappings {
		byExchange[m.Exchange] = append(byExchange[m.Exchange], m.NativeTicker)
	}

	for exchange, tickers := range byExchange {
		cdc, err := newCodec(exchange)
		if err != nil {
			return err
		}
		transport, err := newTransport(exchange)
		if err != nil {
			return err
		}

		sup := supervisor.New(supervisor.Config{
			Codec:      cdc,
			Transport:  transport,
			Router:     c.router,
			Book:       c.book,
			LegacyMode: c.opts.LegacyMode,
			Tickers:    tickers,
			OnExhausted: func(exchange codec.ExchangeID) {
				metrics.RecordExhausted(string(exchange))
				c.bus.Publish(bus.TopicSupervisorExhausted, string(exchange))
			},
			OnQuote: c.onQuote,
		})
		c.supervisors[exchange] = sup
		metrics.SymbolsSubscribed.WithLabelValues(string(exchange)).Set(float64(len(tickers)))

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			sup.Run(ctx)
		}()
	}
	return nil
}

func (c *Core) onQuote(q codec.Quote) {
	metrics.RecordQuote(q.Exchange, q.DisplaySymbol, q.Last, q.Bid, q.Ask, q.ExchangeTS, q.RecvTS)
	if c.redis != nil {
		if err := c.redis.PublishQuote(context.Background(), q); err != nil {
			log.Warn().Err(err).Msg("redis quote publish failed")
		}
	}
}

func (c *Core) emitOpportunities(symbol string, opportunities []arb.Opportunity) {
	metrics.RecordArbitrage(symbol, opportunities[0].SpreadPct)
	c.bus.Publish(bus.TopicArbitrageFound, opportunities)
	if c.redis != nil {
		if err := c.redis.PublishOpportunities(context.Background(), symbol, opportunities); err != nil {
			log.Warn().Err(err).Msg("redis opportunity publish failed")
		}
	}
}

func (c *Core) summaryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.book.Summary()
			metrics.BookEntries.Set(float64(s.EntryCount))
			log.Info().Int("symbols", s.SymbolCount).Int("exchanges", s.ExchangeCount).
				Int("entries", s.EntryCount).Msg("book summary")
		}
	}
}

// Stop tears everything down: supervisors first, then the bus and the Redis
// link. Safe to call twice.
func (c *Core) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}

	c.cancel()
	c.wg.Wait()

	c.bus.Close()
	if c.redis != nil {
		c.redis.Close()
		c.redis = nil
	}
	c.supervisors = make(map[codec.ExchangeID]*supervisor.Supervisor)
	c.running = false
	log.Info().Msg("quote feed stopped")
}

// Reload tears down the running feed and starts it again against the
// current configuration file.
func (c *Core) Reload(ctx context.Context) error {
	log.Info().Str("config", c.opts.ConfigPath).Msg("reloading configuration")
	c.Stop()
	return c.Start(ctx)
}

// FeedStates reports every supervisor's lifecycle state, keyed by exchange.
func (c *Core) FeedStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.supervisors))
	for exchange, sup := range c.supervisors {
		out[string(exchange)] = sup.State().String()
	}
	return out
}

// Subscribe adds one display symbol on one venue at runtime.
func (c *Core) Subscribe(exchange codec.ExchangeID, symbol string) bool {
	c.mu.Lock()
	sup, ok := c.supervisors[exchange]
	c.mu.Unlock()
	if !ok {
		return false
	}

	native, mapped := c.router.NativeTicker(symbol, exchange)
	if !mapped {
		native = router.DefaultTicker(exchange, symbol)
	}
	sup.Subscribe(native)
	return true
}

// Unsubscribe removes one display symbol from one venue at runtime.
func (c *Core) Unsubscribe(exchange codec.ExchangeID, symbol string) bool {
	c.mu.Lock()
	sup, ok := c.supervisors[exchange]
	c.mu.Unlock()
	if !ok {
		return false
	}

	native, mapped := c.router.NativeTicker(symbol, exchange)
	if !mapped {
		native = router.DefaultTicker(exchange, symbol)
	}
	sup.Unsubscribe(native)
	return true
}

// Prices returns the whole book.
func (c *Core) Prices() map[string]map[string]codec.Quote { return c.book.All() }

// PricesBySymbol returns every venue quote for one symbol.
func (c *Core) PricesBySymbol(symbol string) map[string]codec.Quote {
	return c.book.BySymbol(symbol)
}

// BestPrices returns the cross-venue top of book for one symbol.
func (c *Core) BestPrices(symbol string) *book.BestPrices { return c.book.BestPrices(symbol) }

// SpreadBetween returns the pairwise spread for one symbol on two venues.
func (c *Core) SpreadBetween(symbol, e1, e2 string) *book.Spread {
	return c.book.Spread(symbol, e1, e2)
}

// Summary returns the book census.
func (c *Core) Summary() book.Summary { return c.book.Summary() }

// Arbitrage scans every symbol and returns the widest opportunities, capped
// at limit.
func (c *Core) Arbitrage(minPct float64, limit int) []arb.Opportunity {
	var all []arb.Opportunity
	for _, symbol := range c.book.Symbols() {
		all = append(all, c.detector.Check(symbol, minPct)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SpreadPct > all[j].SpreadPct })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ArbitrageFor returns opportunities for one symbol at the given threshold.
func (c *Core) ArbitrageFor(symbol string, minPct float64) []arb.Opportunity {
	return c.detector.Check(symbol, minPct)
}

// AlertStatus reports the cooldown state for one symbol.
func (c *Core) AlertStatus(symbol string) arb.AlertStatus {
	return c.detector.Status(symbol)
}
