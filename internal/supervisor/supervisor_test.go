package supervisor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"futures-quotefeed/internal/book"
	"futures-quotefeed/internal/codec"
	"futures-quotefeed/internal/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a scripted connection: the test pushes inbound frames and
// observes outbound writes.
type fakeConn struct {
	frames chan []byte
	writes chan []byte

	failOnce  sync.Once
	closeOnce sync.Once
	failed    chan struct{}
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		writes: make(chan []byte, 64),
		failed: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) push(frame string) { c.frames <- []byte(frame) }

// fail makes the next Read return an error, like a dropped socket.
func (c *fakeConn) fail() { c.failOnce.Do(func() { close(c.failed) }) }

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.failed:
		return nil, errors.New("connection reset")
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Write(data []byte) error {
	select {
	case c.writes <- append([]byte(nil), data...):
	default:
	}
	return nil
}

func (c *fakeConn) Ping(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) waitWrite(t *testing.T) string {
	t.Helper()
	select {
	case data := <-c.writes:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return ""
	}
}

// fakeTransport hands out queued connections; an empty queue refuses dials.
type fakeTransport struct {
	mu    sync.Mutex
	queue []*fakeConn
	dials atomic.Int32
}

func (tr *fakeTransport) Dial(context.Context) (Conn, error) {
	tr.dials.Add(1)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.queue) == 0 {
		return nil, errors.New("dial refused")
	}
	conn := tr.queue[0]
	tr.queue = tr.queue[1:]
	return conn, nil
}

// scriptCodec speaks a trivial line protocol so tests control every outcome.
type scriptCodec struct {
	nilFrames bool
}

func (c *scriptCodec) Exchange() codec.ExchangeID { return codec.Binance }

func (c *scriptCodec) SubscribeFrame(ticker string) []byte {
	if c.nilFrames {
		return nil
	}
	return []byte("sub|" + ticker)
}

func (c *scriptCodec) UnsubscribeFrame(ticker string) []byte {
	if c.nilFrames {
		return nil
	}
	return []byte("unsub|" + ticker)
}

func (c *scriptCodec) HeartbeatFrame() []byte {
	if c.nilFrames {
		return nil
	}
	return []byte("hb")
}

func (c *scriptCodec) Decode(raw []byte) []codec.Outcome {
	s := string(raw)
	switch {
	case s == "ack":
		return []codec.Outcome{codec.AckOutcome("1")}
	case s == "fatal":
		return []codec.Outcome{codec.ErrorOutcome(errors.New("unsupported protocol"), true)}
	case strings.HasPrefix(s, "quote|"):
		parts := strings.Split(s, "|")
		price, _ := strconv.ParseFloat(parts[2], 64)
		return []codec.Outcome{codec.QuoteOutcome(codec.Quote{
			NativeTicker: parts[1],
			Last:         price,
			Bid:          price - 1,
			Ask:          price + 1,
		})}
	}
	return nil
}

func testRouter(t *testing.T) *router.Router {
	t.Helper()
	r, err := router.New([]router.Mapping{
		{Exchange: codec.Binance, DisplaySymbol: "BTCUSDT", NativeTicker: "BTCUSDT"},
		{Exchange: codec.Binance, DisplaySymbol: "ETHUSDT", NativeTicker: "ETHUSDT"},
	})
	require.NoError(t, err)
	return r
}

func testConfig(t *testing.T, tr Transport, tickers ...string) Config {
	t.Helper()
	return Config{
		Codec:             &scriptCodec{},
		Transport:         tr,
		Router:            testRouter(t),
		Book:              book.New(),
		Tickers:           tickers,
		ReconnectDelay:    time.Millisecond,
		MaxAttempts:       3,
		HeartbeatInterval: time.Hour,
		PaceInterval:      time.Millisecond,
		ConnectTimeout:    time.Second,
	}
}

func waitState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 2*time.Millisecond, "waiting for state %s, at %s", want, s.State())
}

func TestAckMovesToLive(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	s := New(testConfig(t, tr, "BTCUSDT"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	assert.Equal(t, "sub|BTCUSDT", conn.waitWrite(t))
	waitState(t, s, StateSubscribing)

	conn.push("ack")
	waitState(t, s, StateLive)

	cancel()
	<-done
	assert.Equal(t, StateTerminated, s.State())
}

func TestQuoteLandsInBook(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	cfg := testConfig(t, tr, "BTCUSDT")

	var observed atomic.Int32
	cfg.OnQuote = func(q codec.Quote) {
		assert.Equal(t, "binance", q.Exchange)
		assert.Equal(t, "BTCUSDT", q.DisplaySymbol)
		assert.Positive(t, q.RecvTS)
		assert.Equal(t, q.RecvTS, q.ExchangeTS, "missing venue stamp falls back to receive time")
		observed.Add(1)
	}
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn.waitWrite(t)
	conn.push("quote|BTCUSDT|60000")

	require.Eventually(t, func() bool {
		return cfg.Book.BySymbol("BTCUSDT") != nil
	}, 2*time.Second, 2*time.Millisecond)

	q := cfg.Book.BySymbol("BTCUSDT")["binance"]
	assert.Equal(t, float64(60000), q.Last)
	assert.EqualValues(t, 1, observed.Load())
}

func TestUnmappedTickerDropped(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	cfg := testConfig(t, tr, "BTCUSDT")
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn.waitWrite(t)
	conn.push("quote|MYSTERYCOIN|42")
	conn.push("quote|BTCUSDT|60000")

	require.Eventually(t, func() bool {
		return cfg.Book.BySymbol("BTCUSDT") != nil
	}, 2*time.Second, 2*time.Millisecond)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Book.Symbols(), "unmapped ticker must not reach the book")
}

func TestLegacyModeKeysByNativeTicker(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	cfg := testConfig(t, tr, "MYSTERYCOIN")
	cfg.LegacyMode = true
	cfg.Router = nil
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn.waitWrite(t)
	conn.push("quote|MYSTERYCOIN|42")

	require.Eventually(t, func() bool {
		return cfg.Book.BySymbol("MYSTERYCOIN") != nil
	}, 2*time.Second, 2*time.Millisecond)
}

func TestReconnectReplaysSubscriptionsInOrder(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn1, conn2}}
	s := New(testConfig(t, tr, "BTCUSDT", "ETHUSDT"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	assert.Equal(t, "sub|BTCUSDT", conn1.waitWrite(t))
	assert.Equal(t, "sub|ETHUSDT", conn1.waitWrite(t))
	conn1.push("ack")
	waitState(t, s, StateLive)

	conn1.fail()

	assert.Equal(t, "sub|BTCUSDT", conn2.waitWrite(t))
	assert.Equal(t, "sub|ETHUSDT", conn2.waitWrite(t))
	conn2.push("ack")
	waitState(t, s, StateLive)
	assert.EqualValues(t, 2, tr.dials.Load())
}

func TestSubscribeWhileLiveWritesFrame(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	s := New(testConfig(t, tr, "BTCUSDT"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn.waitWrite(t)
	conn.push("ack")
	waitState(t, s, StateLive)

	s.Subscribe("ETHUSDT")
	assert.Equal(t, "sub|ETHUSDT", conn.waitWrite(t))

	// Duplicates are ignored.
	s.Subscribe("ETHUSDT")

	s.Unsubscribe("ETHUSDT")
	assert.Equal(t, "unsub|ETHUSDT", conn.waitWrite(t))
}

func TestDialFailuresExhaustAttempts(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig(t, tr, "BTCUSDT")

	var exhausted atomic.Int32
	cfg.OnExhausted = func(ex codec.ExchangeID) {
		assert.Equal(t, codec.Binance, ex)
		exhausted.Add(1)
	}
	s := New(cfg)

	done := make(chan struct{})
	go func() { s.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not give up")
	}
	assert.Equal(t, StateTerminated, s.State())
	assert.EqualValues(t, 1, exhausted.Load())
}

func TestFatalVenueErrorTerminates(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	cfg := testConfig(t, tr, "BTCUSDT")

	var exhausted atomic.Int32
	cfg.OnExhausted = func(codec.ExchangeID) { exhausted.Add(1) }
	s := New(cfg)

	done := make(chan struct{})
	go func() { s.Run(context.Background()); close(done) }()

	conn.waitWrite(t)
	conn.push("fatal")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not terminate on fatal error")
	}
	assert.Equal(t, StateTerminated, s.State())
	assert.EqualValues(t, 1, exhausted.Load())
	assert.EqualValues(t, 1, tr.dials.Load(), "fatal errors must not reconnect")
}

func TestBadFramesForceReconnect(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn1, conn2}}
	s := New(testConfig(t, tr, "BTCUSDT"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn1.waitWrite(t)
	for i := 0; i < maxBadFrames; i++ {
		conn1.push("garbage that is not json")
	}

	assert.Equal(t, "sub|BTCUSDT", conn2.waitWrite(t))
	assert.EqualValues(t, 2, tr.dials.Load())
}

func TestValidJSONDoesNotCountAsBadFrame(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	s := New(testConfig(t, tr, "BTCUSDT"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn.waitWrite(t)
	// Well-formed frames the codec has no use for must never trip the
	// reconnect threshold.
	for i := 0; i < maxBadFrames+5; i++ {
		conn.push(`{"table":"irrelevant"}`)
	}
	conn.push("ack")
	waitState(t, s, StateLive)
	assert.EqualValues(t, 1, tr.dials.Load())
}

func TestZeroSubscriptionsGoLiveImmediately(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	cfg := testConfig(t, tr, "BTCUSDT")
	cfg.Codec = &scriptCodec{nilFrames: true}
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitState(t, s, StateLive)
}

func TestHeartbeatFrameWritten(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	cfg := testConfig(t, tr, "BTCUSDT")
	cfg.HeartbeatInterval = 5 * time.Millisecond
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn.waitWrite(t)
	require.Eventually(t, func() bool {
		select {
		case data := <-conn.writes:
			return string(data) == "hb"
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
}

func TestShutdownDrainsUnsubscribes(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	s := New(testConfig(t, tr, "BTCUSDT"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	conn.waitWrite(t)
	conn.push("ack")
	waitState(t, s, StateLive)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down")
	}

	var drained bool
	for {
		select {
		case data := <-conn.writes:
			if string(data) == "unsub|BTCUSDT" {
				drained = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, drained, "shutdown must flush unsubscribe frames")
	assert.Equal(t, StateTerminated, s.State())
}

func TestQuoteWithoutAckMovesToLive(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{queue: []*fakeConn{conn}}
	cfg := testConfig(t, tr, "BTCUSDT")
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn.waitWrite(t)
	waitState(t, s, StateSubscribing)

	conn.push("quote|BTCUSDT|60000")
	waitState(t, s, StateLive)
	require.Eventually(t, func() bool {
		return cfg.Book.BySymbol("BTCUSDT") != nil
	}, 2*time.Second, 2*time.Millisecond)
}
