package main

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kuuji/swaprelay/internal/config"
)

// resolvedConfigPath returns the config file path, using the global flag
// if set or the XDG default otherwise.
func resolvedConfigPath() string {
	if globalConfigPath != "" {
		return globalConfigPath
	}
	p, err := config.DefaultConfigPath()
	if err != nil {
		// Fallback, this shouldn't happen in practice.
		return "config.toml"
	}
	return p
}

// loadConfigOrDefault loads the config file, using built-in defaults when
// it does not exist.
func loadConfigOrDefault() (*config.Config, error) {
	cfgPath := resolvedConfigPath()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", cfgPath, err)
	}
	return cfg, nil
}

// normalizeServerURL ensures the server URL has a valid WebSocket scheme.
// If no scheme is provided, wss:// is prepended. http(s) schemes are
// converted to ws(s) for clarity (coder/websocket accepts both).
func normalizeServerURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}

	// If there's no scheme at all, prepend wss://.
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing URL: %w", err)
	}

	switch u.Scheme {
	case "wss", "ws":
		// Already correct.
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q (expected ws, wss, http, or https)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in URL %q", raw)
	}

	return u.String(), nil
}

// publicServerURL normalizes a public host or URL and appends path when
// the URL has none.
func publicServerURL(raw, path string) (string, error) {
	normalized, err := normalizeServerURL(raw)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String(), nil
}

// localServerURL returns the ws:// URL of a relay started with cfg on this
// machine. Wildcard listen hosts are reached through localhost.
func localServerURL(cfg *config.Config) string {
	host, port, err := net.SplitHostPort(cfg.Server.Listen)
	if err != nil {
		host, port = "localhost", cfg.Server.Listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: cfg.Server.Path}
	return u.String()
}

// formatDuration formats a duration into a human-readable string like "2h15m" or "45s".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
