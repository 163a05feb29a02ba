// Package server is the top-level orchestrator of the relay. It wires the
// presence registry, room membership, call table and dispatcher to the
// WebSocket hub, and manages the lifecycle of:
//  1. the HTTP listener serving the WebSocket endpoint and /healthz
//  2. the ring timeout sweeper
//  3. the local control socket used by "swaprelay status"
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kuuji/swaprelay/internal/calls"
	"github.com/kuuji/swaprelay/internal/config"
	"github.com/kuuji/swaprelay/internal/control"
	"github.com/kuuji/swaprelay/internal/presence"
	"github.com/kuuji/swaprelay/internal/relay"
	"github.com/kuuji/swaprelay/internal/rooms"
	"github.com/kuuji/swaprelay/internal/signaling"
	"github.com/kuuji/swaprelay/internal/turn"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Option configures optional Server parameters.
type Option func(*Server)

// WithSocketPath overrides the control socket path. An empty path disables
// the control socket.
func WithSocketPath(path string) Option {
	return func(s *Server) {
		s.socketPath = path
		s.socketSet = true
	}
}

// Server runs one relay process.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	registry   *presence.Registry
	rooms      *rooms.Membership
	calls      *calls.Table
	hub        *signaling.Hub
	dispatcher *relay.Dispatcher

	socketPath string
	socketSet  bool
	started    time.Time
	listen     string
}

// New creates a Server from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		log:      logger.With("component", "server"),
		registry: presence.NewRegistry(),
		rooms:    rooms.NewMembership(),
		calls:    calls.NewTable(),
		listen:   cfg.Server.Listen,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.socketSet {
		s.socketPath = cfg.Control.Socket
		if s.socketPath == "" {
			s.socketPath = control.ResolveSocketPath()
		}
	}

	s.hub = signaling.NewHub(signaling.HubConfig{
		OriginPatterns:  cfg.Server.AllowedOrigins,
		ReadLimit:       cfg.Server.ReadLimit,
		SendQueue:       cfg.Server.SendQueue,
		WriteTimeout:    cfg.Server.WriteTimeout.Std(),
		PingInterval:    cfg.Server.PingInterval.Std(),
		EventsPerSecond: cfg.Limits.EventsPerSecond,
		Burst:           cfg.Limits.Burst,
		Logger:          logger,
	})

	ice := &turn.Provider{
		STUN:     cfg.ICE.STUNServers,
		TURN:     cfg.ICE.TURNServers,
		Secret:   cfg.ICE.TURNSecret,
		Lifetime: cfg.ICE.CredentialLifetime.Std(),
	}

	s.dispatcher = relay.New(relay.Config{
		Registry:    s.registry,
		Rooms:       s.rooms,
		Calls:       s.calls,
		Sender:      s.hub,
		ICEServers:  ice.Servers,
		RingTimeout: cfg.Calls.RingTimeout.Std(),
		Logger:      logger,
	})
	s.hub.SetHandler(s.dispatcher)

	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint and the
// health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Server.Path, s.hub)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Run binds the configured listen address and serves until ctx is
// cancelled. Failing to bind is the only fatal startup error.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.cfg.Server.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then closes every connection.
// It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.started = time.Now()
	s.listen = ln.Addr().String()

	if s.socketPath != "" {
		ctrl := control.NewServer(s.socketPath, s.Status, s.log)
		if err := ctrl.Start(); err != nil {
			// Status reporting is optional; the relay runs without it.
			s.log.Warn("control socket unavailable", "error", err)
		} else {
			defer ctrl.Stop()
		}
	}

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.dispatcher.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down", "connections", s.hub.Connections())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown", "error", err)
		}
		// Hijacked WebSocket connections are not covered by Shutdown.
		s.hub.Close()
		return nil
	})

	s.log.Info("relay listening",
		"addr", s.listen,
		"path", s.cfg.Server.Path,
		"origins", s.cfg.Server.AllowedOrigins,
		"ring_timeout", s.cfg.Calls.RingTimeout,
	)

	return g.Wait()
}

// Status returns a snapshot of the relay for the control socket.
func (s *Server) Status() control.Status {
	snap := s.dispatcher.Snapshot()
	now := time.Now()

	callStatus := make([]control.CallStatus, 0, len(snap.Calls))
	for _, c := range snap.Calls {
		since := c.CreatedAt
		if !c.AnsweredAt.IsZero() {
			since = c.AnsweredAt
		}
		callStatus = append(callStatus, control.CallStatus{
			Room:    c.Room,
			Caller:  c.Caller,
			Callee:  c.Callee,
			State:   c.State.String(),
			Since:   since,
			Elapsed: now.Sub(since).Seconds(),
		})
	}

	return control.Status{
		Listen:        s.listen,
		UptimeSeconds: now.Sub(s.started).Seconds(),
		Connections:   s.hub.Connections(),
		Users:         snap.Users,
		UserRooms:     snap.UserRooms,
		Rooms:         snap.Rooms,
		Calls:         callStatus,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.hub.Connections(),
		"users":       s.registry.Online(),
	})
}
