package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/amdlink/internal/wire"
	"github.com/gorilla/websocket"
)

// ErrNotOpen is returned by Send while there is no connection.
var ErrNotOpen = errors.New("channel: not open")

// Backoff for reconnect attempts. Doubles from initialBackoff up to maxBackoff,
// resets after a successful open.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	writeTimeout   = 5 * time.Second
	closeTimeout   = time.Second
)

// Client is a persistent websocket connection to the relay. It sends the role
// handshake each time the connection opens and never queues more than the latest frame.
type Client struct {
	URL       string
	Role      wire.Role
	Dialer    *websocket.Dialer
	Logger    *slog.Logger
	OnMessage func(data []byte)
	// OnOpen and OnClose observe connection state changes.
	OnOpen  func()
	OnClose func(err error)

	open    atomic.Bool
	outbox  chan []byte
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewClient creates a client for url that declares role on open.
func NewClient(url string, role wire.Role) *Client {
	return &Client{
		URL:    url,
		Role:   role,
		Dialer: websocket.DefaultDialer,
		outbox: make(chan []byte, 1),
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// IsOpen reports whether the connection is currently open.
func (c *Client) IsOpen() bool {
	return c.open.Load()
}

// Send hands data to the writer without blocking. A frame still waiting in the
// outbox is replaced and counted as dropped.
func (c *Client) Send(data []byte) error {
	if !c.open.Load() {
		return ErrNotOpen
	}
	select {
	case c.outbox <- data:
		return nil
	default:
	}
	select {
	case <-c.outbox:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.outbox <- data:
	default:
		c.dropped.Add(1)
	}
	return nil
}

// Dropped is the number of frames superseded before they were written.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Sent is the number of frames written to the socket.
func (c *Client) Sent() uint64 {
	return c.sent.Load()
}

// Run connects and keeps reconnecting until ctx is cancelled. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	if !c.Role.Valid() {
		return fmt.Errorf("channel: unknown role %q", c.Role)
	}
	backoff := initialBackoff
	for {
		opened, err := c.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opened {
			backoff = initialBackoff
		}
		c.logger().Warn("connection lost, retrying", "url", c.URL, "error", err, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connect runs one connection until it fails or ctx ends. It reports whether the
// connection reached the open state.
func (c *Client) connect(ctx context.Context) (bool, error) {
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.URL, err)
	}
	defer conn.Close()

	hello, err := wire.EncodeHandshake(c.Role)
	if err != nil {
		return false, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return false, fmt.Errorf("send handshake: %w", err)
	}

	c.drainOutbox()
	c.open.Store(true)
	c.logger().Info("server connected", "url", c.URL, "role", c.Role)
	if c.OnOpen != nil {
		c.OnOpen()
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if c.OnMessage != nil {
				c.OnMessage(data)
			}
		}
	}()

	err = c.writeLoop(ctx, conn, readErr)

	c.open.Store(false)
	c.drainOutbox()
	if c.OnClose != nil {
		c.OnClose(err)
	}
	return true, err
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, readErr <-chan error) error {
	for {
		select {
		case data := <-c.outbox:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			c.sent.Add(1)
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case <-ctx.Done():
			// To cleanly close a connection, a client should send a close
			// frame and wait for the server to close the connection.
			c.open.Store(false)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout)); err != nil {
				return err
			}
			select {
			case <-readErr:
			case <-time.After(closeTimeout):
			}
			return ctx.Err()
		}
	}
}

// drainOutbox discards a frame left over from a previous connection.
func (c *Client) drainOutbox() {
	select {
	case <-c.outbox:
	default:
	}
}
