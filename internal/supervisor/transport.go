package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live venue connection. Read blocks until a frame arrives or
// the connection dies.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	// Ping sends a transport-level keepalive, for venues without an
	// application ping.
	Ping(deadline time.Time) error
	Close() error
}

// Transport dials venue connections. Streaming venues use websockets;
// polled venues fake a connection around periodic HTTP fetches.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSTransport dials a websocket endpoint.
type WSTransport struct {
	URL string
	// WriteTimeout bounds each frame write. Zero means 5 s.
	WriteTimeout time.Duration
}

// Dial opens the websocket. The handshake honors the context deadline.
func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", t.URL, err)
	}
	timeout := t.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &wsConn{conn: conn, writeTimeout: timeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// writeMu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping(deadline time.Time) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *wsConn) Close() error { return c.conn.Close() }

// PollTransport turns a periodic HTTP GET into a connection: every Read
// sleeps one interval and then returns the response body of one fetch.
type PollTransport struct {
	URL      string
	Interval time.Duration
	// FetchTimeout bounds one HTTP round trip. Zero means 10 s.
	FetchTimeout time.Duration
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Dial verifies nothing; polled endpoints have no handshake. The returned
// connection lives until Close.
func (t *PollTransport) Dial(ctx context.Context) (Conn, error) {
	interval := t.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := t.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &pollConn{
		url:      t.URL,
		interval: interval,
		timeout:  timeout,
		client:   client,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

type pollConn struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	ctx      context.Context
	cancel   context.CancelFunc
}

func (c *pollConn) Read() ([]byte, error) {
	select {
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	case <-time.After(c.interval):
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", c.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll %s: status %d", c.url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Write is a no-op: polled venues take no wire requests.
func (c *pollConn) Write([]byte) error { return nil }

// Ping is a no-op: there is no connection to keep alive.
func (c *pollConn) Ping(time.Time) error { return nil }

func (c *pollConn) Close() error {
	c.cancel()
	return nil
}
