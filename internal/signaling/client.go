package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kuuji/swaprelay/pkg/protocol"
)

// ClientConfig holds configuration for a signaling Client.
type ClientConfig struct {
	// ServerURL is the WebSocket URL of the relay (e.g. "ws://localhost:4000/ws").
	ServerURL string

	// UserID is the identity announced with identify-user after every
	// (re)connect.
	UserID string

	// Rooms are joined after every (re)connect, in order.
	Rooms []string

	// Origin is sent as the Origin header. Browsers always send one; set it
	// when the relay only accepts specific origins.
	Origin string

	// Logger is the structured logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger

	// MessageBufferSize is the capacity of the inbound message channel.
	// Defaults to 64 if zero.
	MessageBufferSize int

	// DialTimeout bounds the duration of each WebSocket dial attempt.
	// Defaults to 10s if zero.
	DialTimeout time.Duration

	// Reconnect controls automatic reconnection behavior.
	Reconnect ReconnectConfig
}

// ReconnectConfig controls the reconnection backoff strategy.
type ReconnectConfig struct {
	// Enabled controls whether automatic reconnection is attempted.
	Enabled bool

	// InitialDelay is the delay before the first reconnection attempt.
	// Defaults to 1s.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between reconnection attempts.
	// Defaults to 30s.
	MaxDelay time.Duration

	// MaxAttempts is the maximum number of reconnection attempts.
	// Zero means unlimited.
	MaxAttempts int
}

// Client is a WebSocket client for the relay. It connects, identifies,
// joins its rooms and delivers incoming events on a channel. It supports
// automatic reconnection with exponential backoff; identity and rooms are
// restored on every new connection.
type Client struct {
	cfg    ClientConfig
	log    *slog.Logger
	msgCh  chan protocol.Message
	done   chan struct{}
	cancel context.CancelFunc

	mu    sync.Mutex
	conn  *websocket.Conn
	rooms []string
}

// NewClient creates a new signaling client with the given configuration.
// Call Connect to establish the connection and start receiving messages.
func NewClient(cfg ClientConfig) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("user_id", cfg.UserID)

	bufSize := cfg.MessageBufferSize
	if bufSize <= 0 {
		bufSize = 64
	}

	return &Client{
		cfg:   cfg,
		log:   log,
		msgCh: make(chan protocol.Message, bufSize),
		done:  make(chan struct{}),
		rooms: slices.Clone(cfg.Rooms),
	}
}

// Messages returns a read-only channel that delivers incoming events.
// The channel is closed when the client is closed or the context is cancelled
// and reconnection is exhausted.
func (c *Client) Messages() <-chan protocol.Message {
	return c.msgCh
}

// Connect dials the relay, identifies, joins the configured rooms and
// starts the receive loop. If reconnection is enabled, it will automatically
// reconnect on connection loss until the context is cancelled or max
// attempts are exhausted.
//
// Connect blocks until the initial connection is established or fails.
// After the initial connection, reconnection happens in the background.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// Establish the initial connection synchronously so the caller
	// knows immediately if the server is unreachable.
	if err := c.dial(ctx); err != nil {
		cancel()
		close(c.done)
		close(c.msgCh)
		return fmt.Errorf("connecting to relay: %w", err)
	}

	if err := c.hello(ctx); err != nil {
		cancel()
		c.closeConn()
		close(c.done)
		close(c.msgCh)
		return fmt.Errorf("identifying: %w", err)
	}

	c.log.Info("connected to relay", "url", c.cfg.ServerURL)

	go c.receiveLoop(ctx)

	return nil
}

// Send sends an event to the relay.
func (c *Client) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.New("not connected")
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}

	c.log.Debug("sent message", "type", msg.MessageType())
	return nil
}

// JoinRoom joins room now and after every reconnect.
func (c *Client) JoinRoom(ctx context.Context, room string) error {
	c.mu.Lock()
	if !slices.Contains(c.rooms, room) {
		c.rooms = append(c.rooms, room)
	}
	c.mu.Unlock()
	return c.Send(ctx, &protocol.JoinChat{ConnectionID: room})
}

// LeaveRoom leaves room and stops rejoining it.
func (c *Client) LeaveRoom(ctx context.Context, room string) error {
	c.mu.Lock()
	c.rooms = slices.DeleteFunc(c.rooms, func(r string) bool { return r == room })
	c.mu.Unlock()
	return c.Send(ctx, &protocol.LeaveChat{ConnectionID: room})
}

// Close gracefully shuts down the client, closing the WebSocket connection
// and the message channel.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}

	// Wait for the receive loop to finish.
	<-c.done

	return nil
}

// dial establishes a WebSocket connection to the relay.
func (c *Client) dial(ctx context.Context) error {
	dialTimeout := c.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	var opts *websocket.DialOptions
	if c.cfg.Origin != "" {
		opts = &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{c.cfg.Origin}},
		}
	}

	conn, _, err := websocket.Dial(dialCtx, c.cfg.ServerURL, opts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return nil
}

// hello announces the identity and joins every room on the current
// connection.
func (c *Client) hello(ctx context.Context) error {
	if c.cfg.UserID != "" {
		if err := c.Send(ctx, &protocol.IdentifyUser{UserID: c.cfg.UserID}); err != nil {
			return err
		}
	}

	c.mu.Lock()
	rooms := slices.Clone(c.rooms)
	c.mu.Unlock()

	for _, room := range rooms {
		if err := c.Send(ctx, &protocol.JoinChat{ConnectionID: room}); err != nil {
			return fmt.Errorf("joining %s: %w", room, err)
		}
	}
	return nil
}

// closeConn closes the current WebSocket connection, if any.
func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

// receiveLoop reads messages from the WebSocket and sends them on the message
// channel. If reconnection is enabled, it will reconnect on connection loss.
// It closes the message channel and the done channel when finished.
func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.msgCh)

	for {
		err := c.readMessages(ctx)
		if err == nil || ctx.Err() != nil {
			// Clean shutdown or context cancelled.
			c.closeConn()
			return
		}

		c.log.Warn("connection lost", "error", err)
		c.closeConn()

		if !c.cfg.Reconnect.Enabled {
			return
		}

		if !c.reconnect(ctx) {
			return
		}
	}
}

// readMessages reads messages from the current connection until an error
// occurs or the context is cancelled. Returns nil only on clean close.
func (c *Client) readMessages(ctx context.Context) error {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return errors.New("no connection")
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			c.log.Warn("ignoring malformed message", "error", err)
			continue
		}

		c.log.Debug("received message", "type", msg.MessageType())

		select {
		case c.msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reconnect attempts to re-establish the connection with exponential backoff.
// Returns true if reconnection succeeded, false if it should give up.
func (c *Client) reconnect(ctx context.Context) bool {
	initialDelay := c.cfg.Reconnect.InitialDelay
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	maxDelay := c.cfg.Reconnect.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	maxAttempts := c.cfg.Reconnect.MaxAttempts

	for attempt := 1; maxAttempts == 0 || attempt <= maxAttempts; attempt++ {
		backoff := backoffDelay(initialDelay, maxDelay, attempt)
		c.log.Info("reconnecting", "attempt", attempt, "backoff", backoff)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		if err := c.dial(ctx); err != nil {
			c.log.Warn("reconnection failed", "attempt", attempt, "error", err)
			continue
		}

		if err := c.hello(ctx); err != nil {
			c.log.Warn("re-identify failed", "attempt", attempt, "error", err)
			c.closeConn()
			continue
		}

		c.log.Info("reconnected to relay", "attempt", attempt)
		return true
	}

	c.log.Error("reconnection attempts exhausted")
	return false
}

// backoffDelay returns initial * 2^(attempt-1), capped at max.
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	// math.Pow(2, N) overflows int64 durations for large N.
	backoff := max
	if attempt <= 62 {
		backoff = time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	}
	if backoff <= 0 || backoff > max {
		backoff = max
	}
	return backoff
}
