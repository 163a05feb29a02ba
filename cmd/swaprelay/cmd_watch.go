package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuuji/swaprelay/internal/signaling"
	"github.com/kuuji/swaprelay/pkg/protocol"
)

var (
	watchServer string
	watchRooms  []string
	watchOrigin string
)

var watchCmd = &cobra.Command{
	Use:   "watch <user-id>",
	Short: "Connect as a user and print incoming events",
	Long: `Connect to a relay, identify as the given user, join rooms and print
every event the relay delivers. Useful for checking that invitations and
chat traffic reach a user.

  swaprelay watch alice --room r1 --room r2
  swaprelay watch bob --server wss://chat.example.com/ws --origin https://chat.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchServer, "server", "s", "", "relay URL (default: the local relay from config)")
	watchCmd.Flags().StringArrayVarP(&watchRooms, "room", "r", nil, "room to join (repeatable)")
	watchCmd.Flags().StringVar(&watchOrigin, "origin", "", "Origin header to send")
}

func runWatch(cmd *cobra.Command, args []string) error {
	serverURL := watchServer
	if serverURL == "" {
		cfg, err := loadConfigOrDefault()
		if err != nil {
			return err
		}
		serverURL = localServerURL(cfg)
	}
	serverURL, err := normalizeServerURL(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := signaling.NewClient(signaling.ClientConfig{
		ServerURL: serverURL,
		UserID:    args[0],
		Rooms:     watchRooms,
		Origin:    watchOrigin,
		Logger:    globalLogger,
		Reconnect: signaling.ReconnectConfig{Enabled: true},
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(os.Stderr, "Watching as %s on %s. Press Ctrl-C to stop.\n", styleHeader.Render(args[0]), serverURL)

	for msg := range client.Messages() {
		printEvent(msg)
	}

	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("connection to %s lost", serverURL)
}

func printEvent(msg protocol.Message) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		fmt.Fprintf(os.Stdout, "%s <unprintable: %v>\n", styleKey.Render(msg.MessageType()), err)
		return
	}

	style := styleKey
	switch msg.(type) {
	case *protocol.IncomingCall, *protocol.CallAccepted:
		style = styleActive
	case *protocol.CallFailed, *protocol.CallRejected, *protocol.CallEnded, *protocol.UserDisconnected:
		style = styleError
	}
	fmt.Fprintf(os.Stdout, "%s %s\n", style.Render(msg.MessageType()), data)
}
