// Package control provides a Unix socket HTTP server for querying the
// running relay. "swaprelay serve" starts the server as part of its
// lifecycle, and the "swaprelay status" CLI command connects to it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ResolveSocketPath returns the best socket path for the current environment.
//
// On Linux, it checks in order:
//  1. /run/swaprelay/ if it exists (systemd RuntimeDirectory= or root)
//  2. $XDG_RUNTIME_DIR/swaprelay/
//  3. /tmp/swaprelay/
//
// On macOS, /var/run/swaprelay/ is used when it exists, /tmp/swaprelay/
// otherwise.
func ResolveSocketPath() string {
	if runtime.GOOS == "darwin" {
		if info, err := os.Stat("/var/run/swaprelay"); err == nil && info.IsDir() {
			return "/var/run/swaprelay/control.sock"
		}
		return "/tmp/swaprelay/control.sock"
	}

	if info, err := os.Stat("/run/swaprelay"); err == nil && info.IsDir() {
		return "/run/swaprelay/control.sock"
	}

	if xdgDir := os.Getenv("XDG_RUNTIME_DIR"); xdgDir != "" {
		return filepath.Join(xdgDir, "swaprelay", "control.sock")
	}

	// Last resort.
	return "/tmp/swaprelay/control.sock"
}

// Status is the relay state returned by the /status endpoint.
type Status struct {
	Listen        string              `json:"listen"`
	UptimeSeconds float64             `json:"uptime_seconds"`
	Connections   int                 `json:"connections"`
	Users         []string            `json:"users"`
	UserRooms     map[string][]string `json:"user_rooms,omitempty"`
	Rooms         int                 `json:"rooms"`
	Calls         []CallStatus        `json:"calls"`
}

// CallStatus describes one live call session.
type CallStatus struct {
	Room    string    `json:"room"`
	Caller  string    `json:"caller"`
	Callee  string    `json:"callee"`
	State   string    `json:"state"`
	Since   time.Time `json:"since"`
	Elapsed float64   `json:"elapsed_seconds"`
}

// StatusProvider is a function that returns the current relay status.
type StatusProvider func() Status

// Server is an HTTP server that listens on a Unix domain socket and
// serves the relay's status as JSON.
type Server struct {
	socketPath string
	provider   StatusProvider
	log        *slog.Logger
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a new control server.
func NewServer(socketPath string, provider StatusProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		provider:   provider,
		log:        logger.With("component", "control"),
	}
}

// Start begins listening on the Unix socket and serving HTTP requests.
// It returns immediately; the server runs in the background.
func (s *Server) Start() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", dir, err)
	}

	// Remove stale socket file from a previous run.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	// Status holds no secrets; let non-root users query it.
	if err := os.Chmod(s.socketPath, 0666); err != nil {
		s.log.Warn("setting socket permissions", "error", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)

	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server error", "error", err)
		}
	}()

	s.log.Info("control server started", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the control server and removes the socket file.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("control server shutdown", "error", err)
		}
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("removing socket file", "error", err)
	}

	s.log.Info("control server stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.provider()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.log.Error("encoding status response", "error", err)
	}
}

// FetchStatus connects to a running control server and returns the status.
// This is used by the "swaprelay status" CLI command.
func FetchStatus(socketPath string) (*Status, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://swaprelay/status")
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}

	return &status, nil
}
