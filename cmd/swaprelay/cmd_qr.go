package main

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var qrCmd = &cobra.Command{
	Use:   "qr [public-host]",
	Short: "Display a QR code for the relay URL",
	Long: `Displays a QR code containing the WebSocket URL clients should use.
Scan it on a phone to open the relay address without typing it.

With no argument the URL of the local relay from the config file is used.
Pass the public host (e.g. chat.example.com) when the relay sits behind a
reverse proxy; the configured path is appended when the host has none.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQR,
}

func runQR(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}

	target := localServerURL(cfg)
	if len(args) == 1 {
		target, err = publicServerURL(args[0], cfg.Server.Path)
		if err != nil {
			return err
		}
	}

	// Generate QR code as ASCII art for the terminal.
	qr, err := qrcode.New(target, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("generating QR code: %w", err)
	}

	fmt.Fprintln(os.Stderr, qr.ToSmallString(false))
	fmt.Fprintf(os.Stderr, "%s %s\n", styleKey.Render("Relay:"), target)

	return nil
}
