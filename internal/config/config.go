// Package config loads and validates the swaprelay TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/stun/v3"
)

// DefaultSTUNServers are the public STUN servers handed to clients when none
// are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
}

// DefaultAllowedOrigins are the browser origins accepted by default. They
// match the development servers of the chat front end.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
}

// Environment variables that override the listen address. ListenEnv takes
// precedence; PortEnv only carries a port number.
const (
	ListenEnv = "SWAPRELAY_LISTEN"
	PortEnv   = "SOCKET_PORT"
)

// Config is the top-level configuration for swaprelay.
// It is persisted as a TOML file at DefaultConfigPath().
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Limits  LimitsConfig  `toml:"limits"`
	Calls   CallsConfig   `toml:"calls"`
	ICE     ICEConfig     `toml:"ice"`
	Control ControlConfig `toml:"control"`
}

// ServerConfig controls the WebSocket listener.
type ServerConfig struct {
	// Listen is the TCP address the HTTP server binds (e.g. ":4000").
	Listen string `toml:"listen"`

	// Path is the HTTP path that accepts WebSocket upgrades.
	Path string `toml:"path"`

	// AllowedOrigins lists the browser origins allowed to connect, either
	// as full origins ("https://chat.example.com") or host patterns
	// ("*.example.com"). Same-host requests are always accepted.
	AllowedOrigins []string `toml:"allowed_origins"`

	// ReadLimit is the maximum size in bytes of one inbound frame.
	ReadLimit int64 `toml:"read_limit"`

	// SendQueue is the number of outbound events buffered per connection.
	// A connection whose queue overflows is closed.
	SendQueue int `toml:"send_queue"`

	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout Duration `toml:"write_timeout"`

	// PingInterval is how often idle connections are pinged. Zero disables
	// keepalive pings.
	PingInterval Duration `toml:"ping_interval"`
}

// LimitsConfig rate-limits inbound events per connection.
type LimitsConfig struct {
	// EventsPerSecond is the sustained event rate. Zero disables limiting.
	EventsPerSecond float64 `toml:"events_per_second"`

	// Burst is the number of events accepted above the sustained rate.
	Burst int `toml:"burst"`
}

// CallsConfig controls the call state machine.
type CallsConfig struct {
	// RingTimeout ends calls that ring unanswered for this long. Zero
	// disables the timeout.
	RingTimeout Duration `toml:"ring_timeout"`
}

// ICEConfig lists the ICE servers handed to clients after they identify.
type ICEConfig struct {
	// STUNServers is a list of STUN server URIs (e.g. "stun:stun.l.google.com:19302").
	STUNServers []string `toml:"stun_servers"`

	// TURNServers is a list of TURN server URIs. They are only handed out
	// when TURNSecret is set.
	TURNServers []string `toml:"turn_servers,omitempty"`

	// TURNSecret is the shared secret used to derive time-limited TURN credentials.
	TURNSecret string `toml:"turn_secret,omitempty"`

	// CredentialLifetime is how long issued TURN credentials stay valid.
	CredentialLifetime Duration `toml:"credential_lifetime"`
}

// ControlConfig configures the local status socket.
type ControlConfig struct {
	// Socket is the Unix socket path. Empty selects a default under
	// $XDG_RUNTIME_DIR or the system temp directory.
	Socket string `toml:"socket,omitempty"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         ":4000",
			Path:           "/ws",
			AllowedOrigins: append([]string(nil), DefaultAllowedOrigins...),
			ReadLimit:      64 << 10,
			SendQueue:      64,
			WriteTimeout:   Duration(5 * time.Second),
			PingInterval:   Duration(25 * time.Second),
		},
		Limits: LimitsConfig{
			EventsPerSecond: 30,
			Burst:           60,
		},
		ICE: ICEConfig{
			STUNServers:        append([]string(nil), DefaultSTUNServers...),
			CredentialLifetime: Duration(24 * time.Hour),
		},
	}
}

// DefaultConfigPath returns the default path for the swaprelay config file.
// It respects $XDG_CONFIG_HOME if set, otherwise falls back to ~/.config.
func DefaultConfigPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determining home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "swaprelay", "config.toml"), nil
}

// LoadConfig reads and decodes a TOML config file from the given path.
// If the file does not exist, it returns an error wrapping fs.ErrNotExist.
// After loading, defaults are applied for any unset optional fields.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault loads the config at path, falling back to DefaultConfig
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// SaveConfig encodes the config as TOML and writes it to the given path.
// Parent directories are created if they don't exist. The file is written
// with mode 0600 (owner-only read/write) since it may contain the TURN secret.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// ApplyEnv overrides the listen address from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if listen := getenv(ListenEnv); listen != "" {
		c.Server.Listen = listen
		return
	}
	if port := getenv(PortEnv); port != "" {
		c.Server.Listen = ":" + port
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path %q must start with /", c.Server.Path)
	}
	if c.Server.ReadLimit <= 0 {
		return fmt.Errorf("server.read_limit must be positive, got %d", c.Server.ReadLimit)
	}
	if c.Server.SendQueue <= 0 {
		return fmt.Errorf("server.send_queue must be positive, got %d", c.Server.SendQueue)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.PingInterval < 0 {
		return fmt.Errorf("server.ping_interval must not be negative, got %s", c.Server.PingInterval)
	}
	if c.Limits.EventsPerSecond < 0 {
		return fmt.Errorf("limits.events_per_second must not be negative, got %g", c.Limits.EventsPerSecond)
	}
	if c.Limits.EventsPerSecond > 0 && c.Limits.Burst < 1 {
		return fmt.Errorf("limits.burst must be at least 1, got %d", c.Limits.Burst)
	}
	if c.Calls.RingTimeout < 0 {
		return fmt.Errorf("calls.ring_timeout must not be negative, got %s", c.Calls.RingTimeout)
	}

	for _, s := range c.ICE.STUNServers {
		if err := checkICEURI(s, stun.SchemeTypeSTUN, stun.SchemeTypeSTUNS); err != nil {
			return fmt.Errorf("ice.stun_servers: %w", err)
		}
	}
	for _, s := range c.ICE.TURNServers {
		if err := checkICEURI(s, stun.SchemeTypeTURN, stun.SchemeTypeTURNS); err != nil {
			return fmt.Errorf("ice.turn_servers: %w", err)
		}
	}
	return nil
}

func checkICEURI(raw string, schemes ...stun.SchemeType) error {
	u, err := stun.ParseURI(raw)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%q has scheme %s, want %s", raw, u.Scheme, schemes[0])
}

// applyDefaults fills in default values for optional fields that are
// zero-valued after TOML decoding.
func applyDefaults(cfg *Config) {
	if cfg.Server.Path == "" {
		cfg.Server.Path = "/ws"
	}
	if cfg.ICE.CredentialLifetime == 0 {
		cfg.ICE.CredentialLifetime = Duration(24 * time.Hour)
	}
}
