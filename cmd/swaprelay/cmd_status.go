package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuuji/swaprelay/internal/control"
)

var statusSocket string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay status",
	Long:  `Query the running relay over its control socket and display online users, room count and live calls.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSocket, "socket", "", "control socket path (default: from config or runtime dir)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	socketPath := statusSocket
	if socketPath == "" {
		if cfg, err := loadConfigOrDefault(); err == nil {
			socketPath = cfg.Control.Socket
		}
	}
	if socketPath == "" {
		socketPath = control.ResolveSocketPath()
	}

	status, err := control.FetchStatus(socketPath)
	if err != nil {
		return fmt.Errorf("is swaprelay running? %w", err)
	}

	fmt.Fprintf(os.Stdout, "%s %s\n", styleKey.Render("Listen:     "), status.Listen)
	fmt.Fprintf(os.Stdout, "%s %s\n", styleKey.Render("Uptime:     "), formatDuration(time.Duration(status.UptimeSeconds*float64(time.Second))))
	fmt.Fprintf(os.Stdout, "%s %d\n", styleKey.Render("Connections:"), status.Connections)
	fmt.Fprintf(os.Stdout, "%s %d\n", styleKey.Render("Rooms:      "), status.Rooms)
	fmt.Fprintf(os.Stdout, "%s %d\n", styleKey.Render("Users:      "), len(status.Users))
	for _, u := range status.Users {
		if joined := status.UserRooms[u]; len(joined) > 0 {
			fmt.Fprintf(os.Stdout, "  %s  %s\n", u, strings.Join(joined, ", "))
		} else {
			fmt.Fprintf(os.Stdout, "  %s\n", u)
		}
	}
	fmt.Println()

	if len(status.Calls) == 0 {
		fmt.Println("No calls in progress.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, styleHeader.Render("ROOM")+"\tCALLER\tCALLEE\tSTATE\tFOR")
	for _, c := range status.Calls {
		state := c.State
		switch state {
		case "active":
			state = styleActive.Render(state)
		case "ringing":
			state = styleRinging.Render(state)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.Room, c.Caller, c.Callee, state,
			formatDuration(time.Duration(c.Elapsed*float64(time.Second))))
	}
	w.Flush()

	return nil
}
