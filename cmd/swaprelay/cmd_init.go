package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kuuji/swaprelay/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively create a relay config file",
	Long: `Walk through the relay settings and write them to the config file.

Existing values are used as defaults, so running init again edits the
current configuration.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfgPath := resolvedConfigPath()

	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		overwrite := false
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite it?", cfgPath)).
				Value(&overwrite),
		)).WithTheme(customHuhTheme())
		if err := confirm.Run(); err != nil {
			return fmt.Errorf("form cancelled: %w", err)
		}
		if !overwrite {
			fmt.Fprintln(os.Stderr, "Config left unchanged.")
			return nil
		}
	}

	listen := cfg.Server.Listen
	path := cfg.Server.Path
	origins := strings.Join(cfg.Server.AllowedOrigins, ", ")
	ringTimeout := ""
	if cfg.Calls.RingTimeout > 0 {
		ringTimeout = cfg.Calls.RingTimeout.String()
	}
	stunServers := strings.Join(cfg.ICE.STUNServers, ", ")
	turnServers := strings.Join(cfg.ICE.TURNServers, ", ")
	turnSecret := cfg.ICE.TURNSecret

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("host:port the relay binds to").
				Value(&listen),
			huh.NewInput().
				Title("WebSocket path").
				Value(&path).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "/") {
						return errors.New("path must start with /")
					}
					return nil
				}),
			huh.NewInput().
				Title("Allowed origins").
				Description("Comma-separated, e.g. https://app.example.com. Empty allows same-host only.").
				Value(&origins),
			huh.NewInput().
				Title("Ring timeout").
				Description("How long an unanswered call rings, e.g. 30s. Empty disables.").
				Value(&ringTimeout).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, err := time.ParseDuration(strings.TrimSpace(s))
					return err
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("STUN servers").
				Description("Comma-separated stun: URIs handed to clients").
				Value(&stunServers),
			huh.NewInput().
				Title("TURN servers").
				Description("Comma-separated turn: URIs. Leave empty if you don't run TURN.").
				Value(&turnServers),
			huh.NewInput().
				Title("TURN shared secret").
				Description("Used to derive short-lived TURN credentials").
				EchoMode(huh.EchoModePassword).
				Value(&turnSecret),
		),
	).WithTheme(customHuhTheme())

	if err := form.Run(); err != nil {
		return fmt.Errorf("form cancelled: %w", err)
	}

	cfg.Server.Listen = strings.TrimSpace(listen)
	cfg.Server.Path = strings.TrimSpace(path)
	cfg.Server.AllowedOrigins = splitList(origins)
	cfg.Calls.RingTimeout = 0
	if s := strings.TrimSpace(ringTimeout); s != "" {
		d, _ := time.ParseDuration(s)
		cfg.Calls.RingTimeout = config.Duration(d)
	}
	cfg.ICE.STUNServers = splitList(stunServers)
	cfg.ICE.TURNServers = splitList(turnServers)
	cfg.ICE.TURNSecret = strings.TrimSpace(turnSecret)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveConfig(cfgPath, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Config written to %s\n", cfgPath)
	fmt.Fprintf(os.Stderr, "Start the relay with: %s\n", styleKey.Render("swaprelay serve"))
	return nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
