package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chatify/internal/models"

	"github.com/gorilla/websocket"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second

	writeWait = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrGaveUp       = errors.New("gave up reconnecting")
)

// Listener receives the connection lifecycle and every inbound event.
// Calls are made from the Run goroutine, one at a time.
type Listener interface {
	OnConnected()
	OnDisconnected()
	OnEvent(ev models.Event)
}

type Config struct {
	URL    string
	Header http.Header
	// ReconnectAttempts is the number of consecutive failed dials tolerated
	// before Run gives up. Zero retries forever.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Client is a websocket connection to the relay that redials when it drops.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	// Guards conn and serializes writes on it.
	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit sends one event. It fails fast when there is no live connection.
func (c *Client) Emit(t models.EventType, payload any) error {
	ev, err := models.NewEvent(t, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", t, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

// Run keeps a connection open until ctx is done or the dial attempts run out.
func (c *Client) Run(ctx context.Context, l Listener) error {
	failures := 0
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if c.cfg.ReconnectAttempts > 0 && failures >= c.cfg.ReconnectAttempts {
				return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, failures, err)
			}
			slog.Warn("failed to connect", "url", c.cfg.URL, "attempt", failures, "error", err)
			if !wait(ctx, c.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		failures = 0
		c.setConn(conn)
		l.OnConnected()

		err = c.readLoop(ctx, conn, l)

		c.setConn(nil)
		_ = conn.Close()
		l.OnDisconnected()

		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("connection lost", "error", err)
		if !wait(ctx, c.cfg.ReconnectDelay) {
			return nil
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, l Listener) error {
	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("skipping malformed event", "error", err)
			continue
		}
		l.OnEvent(ev)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
