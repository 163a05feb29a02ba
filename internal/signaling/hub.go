// Package signaling implements the WebSocket transport of the relay: the
// Hub that accepts browser connections and the reconnecting Client used by
// tooling and tests.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/kuuji/swaprelay/internal/conn"
	"github.com/kuuji/swaprelay/pkg/protocol"
)

var (
	// ErrUnknownConn is returned by Send when the target connection is not
	// (or no longer) open.
	ErrUnknownConn = errors.New("unknown connection")

	// ErrSlowConsumer is returned by Send when the target's outbound queue
	// is full. The connection is closed.
	ErrSlowConsumer = errors.New("send queue full")
)

// Handler consumes decoded inbound events and connection lifecycle.
type Handler interface {
	Handle(from conn.ID, msg protocol.Message)
	Disconnect(c conn.ID)
}

// HubConfig controls per-connection limits of a Hub.
type HubConfig struct {
	// OriginPatterns lists the browser origins allowed to connect. See
	// websocket.AcceptOptions.OriginPatterns for the matching rules.
	OriginPatterns []string

	// ReadLimit is the maximum size of one inbound frame. Defaults to 64 KiB.
	ReadLimit int64

	// SendQueue is the outbound buffer per connection. Defaults to 64.
	SendQueue int

	// WriteTimeout bounds each frame write and ping. Defaults to 5s.
	WriteTimeout time.Duration

	// CloseTimeout bounds how long Close waits for peers to answer the
	// close handshake. Defaults to 1s.
	CloseTimeout time.Duration

	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration

	// EventsPerSecond and Burst rate-limit inbound events per connection.
	// Zero EventsPerSecond disables limiting.
	EventsPerSecond float64
	Burst           int

	// Logger is the structured logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Hub accepts WebSocket connections, decodes their events for a Handler
// and delivers outbound events through a bounded queue per connection.
//
// Hub implements http.Handler and can be used with any HTTP server.
type Hub struct {
	cfg HubConfig
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conns   map[conn.ID]*hubConn
	handler Handler
	closed  bool
}

type hubConn struct {
	id     conn.ID
	ws     *websocket.Conn
	remote string

	send     chan []byte
	kicked   chan struct{}
	kickOnce sync.Once
}

// kick asks the write loop to close the connection.
func (c *hubConn) kick() {
	c.kickOnce.Do(func() { close(c.kicked) })
}

// NewHub creates a new Hub. SetHandler must be called before the Hub
// serves requests.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 << 10
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = time.Second
	}
	if cfg.EventsPerSecond > 0 && cfg.Burst < 1 {
		cfg.Burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:     cfg,
		log:     logger.With("component", "hub"),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[conn.ID]*hubConn),
		handler: nopHandler{},
	}
}

// SetHandler sets the consumer of inbound events.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Send queues msg for connection to. It never blocks: a connection whose
// queue is full is closed and ErrSlowConsumer returned.
func (h *Hub) Send(to conn.ID, msg protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	c, ok := h.conns[to]
	h.mu.Unlock()
	if !ok {
		return ErrUnknownConn
	}
	return h.enqueue(c, data)
}

// Broadcast queues msg for every open connection except one.
func (h *Hub) Broadcast(except conn.ID, msg protocol.Message) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		h.log.Error("marshaling broadcast", "type", msg.MessageType(), "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*hubConn, 0, len(h.conns))
	for id, c := range h.conns {
		if id != except {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		_ = h.enqueue(c, data)
	}
}

func (h *Hub) enqueue(c *hubConn, data []byte) error {
	select {
	case <-c.kicked:
		return ErrUnknownConn
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		h.log.Warn("closing slow connection", "conn_id", c.id, "queued", len(c.send))
		c.kick()
		return ErrSlowConsumer
	}
}

// Close shuts down the hub, closing every connection with StatusGoingAway,
// and waits for their disconnect handling to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*hubConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	// Close handshakes run in parallel. Peers that don't answer within
	// CloseTimeout are dropped without one.
	var closing sync.WaitGroup
	for _, c := range conns {
		closing.Add(1)
		go func() {
			defer closing.Done()
			// Ignore close errors, peers may already be gone.
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		}()
	}

	done := make(chan struct{})
	go func() {
		closing.Wait()
		close(done)
	}()
	timer := time.NewTimer(h.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		h.log.Warn("peers did not complete close handshake", "connections", len(conns))
		for _, c := range conns {
			_ = c.ws.CloseNow()
		}
		<-done
	}

	h.cancel()
	h.wg.Wait()
}

// ServeHTTP implements http.Handler. Each request is expected to be a
// WebSocket upgrade from an allowed origin.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.log.Warn("WebSocket accept failed", "remote", r.RemoteAddr, "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)

	c := &hubConn{
		id:     conn.NewID(),
		ws:     ws,
		remote: r.RemoteAddr,
		send:   make(chan []byte, h.cfg.SendQueue),
		kicked: make(chan struct{}),
	}

	handler, ok := h.register(c)
	if !ok {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.wg.Done()

	h.log.Info("connection opened", "conn_id", c.id, "remote", c.remote)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		h.writeLoop(ctx, c)
	}()

	err = h.readLoop(ctx, c, handler)

	h.unregister(c)
	cancel()
	<-writeDone
	_ = ws.Close(websocket.StatusNormalClosure, "")

	h.log.Info("connection closed", "conn_id", c.id, "reason", closeReason(err))
	handler.Disconnect(c.id)
}

func (h *Hub) register(c *hubConn) (Handler, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	return h.handler, true
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// readLoop decodes inbound frames until the connection fails. Malformed
// and rate-limited frames are dropped without closing the connection.
func (h *Hub) readLoop(ctx context.Context, c *hubConn, handler Handler) error {
	var limiter *rate.Limiter
	if h.cfg.EventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.EventsPerSecond), h.cfg.Burst)
	}

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageText {
			h.log.Warn("dropping binary frame", "conn_id", c.id, "bytes", len(data))
			continue
		}
		if limiter != nil && !limiter.Allow() {
			h.log.Warn("rate limit exceeded, dropping event", "conn_id", c.id)
			continue
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			h.log.Warn("dropping malformed event", "conn_id", c.id, "error", err)
			continue
		}

		h.log.Debug("received event", "conn_id", c.id, "type", msg.MessageType())
		handler.Handle(c.id, msg)
	}
}

// writeLoop is the only writer of c. It drains the send queue in order and
// pings the peer every PingInterval.
func (h *Hub) writeLoop(ctx context.Context, c *hubConn) {
	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.kicked:
			_ = c.ws.Close(websocket.StatusPolicyViolation, "send queue full")
			return

		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Debug("write failed", "conn_id", c.id, "error", err)
				_ = c.ws.CloseNow()
				return
			}

		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				h.log.Debug("ping failed", "conn_id", c.id, "error", err)
				_ = c.ws.CloseNow()
				return
			}
		}
	}
}

func closeReason(err error) string {
	if status := websocket.CloseStatus(err); status != -1 {
		return status.String()
	}
	if errors.Is(err, context.Canceled) {
		return "shutdown"
	}
	return err.Error()
}

type nopHandler struct{}

func (nopHandler) Handle(conn.ID, protocol.Message) {}
func (nopHandler) Disconnect(conn.ID)               {}
