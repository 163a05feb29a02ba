package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuuji/swaprelay/internal/server"
)

var (
	serveListen string
	serveSocket string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	Long: `Start the relay: accept WebSocket connections on the configured
address and route chat, presence and call signaling between them.

The listen address comes from, in increasing precedence: the config file,
$SOCKET_PORT (port only), $SWAPRELAY_LISTEN, and --listen. A missing config
file is not an error; built-in defaults are used.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "listen address (e.g. :4000)")
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "control socket path (\"-\" disables it)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}

	cfg.ApplyEnv(os.Getenv)
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var opts []server.Option
	switch serveSocket {
	case "":
	case "-":
		opts = append(opts, server.WithSocketPath(""))
	default:
		opts = append(opts, server.WithSocketPath(serveSocket))
	}

	// Set up context with signal handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	globalLogger.Info("starting swaprelay", "version", version, "config", resolvedConfigPath())

	if err := server.New(cfg, globalLogger, opts...).Run(ctx); err != nil {
		return err
	}

	globalLogger.Info("swaprelay stopped")
	return nil
}
