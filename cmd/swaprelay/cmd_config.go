package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the config file path",
	Long: `Print the path to the swaprelay configuration file.

  swaprelay config          Print the config file path and permissions
  swaprelay config show     Print the effective configuration
  swaprelay config edit     Open config.toml in $EDITOR
  swaprelay config path     Print the config directory path`,
	RunE: runConfig,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	Long: `Print the configuration serve would use: the config file (or built-in
defaults) with environment overrides applied.`,
	RunE: runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config.toml in $EDITOR",
	RunE:  runConfigEdit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config directory path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfgPath := resolvedConfigPath()
	fmt.Fprintf(os.Stdout, "Config: %s\n", cfgPath)

	info, err := os.Stat(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintln(os.Stdout, "  (not created yet, run 'swaprelay init')")
	case err == nil:
		fmt.Fprintf(os.Stdout, "  %s  %s\n", info.Mode().Perm(), cfgPath)
	}

	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.Getenv)
	if cfg.ICE.TURNSecret != "" {
		cfg.ICE.TURNSecret = "<redacted>"
	}
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		// Try common editors.
		for _, e := range []string{"nano", "vim", "vi"} {
			if _, err := exec.LookPath(e); err == nil {
				editor = e
				break
			}
		}
	}
	if editor == "" {
		return fmt.Errorf("no editor found, set $EDITOR")
	}

	c := exec.Command(editor, resolvedConfigPath())
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	if err := c.Run(); err != nil {
		return fmt.Errorf("editor exited: %w", err)
	}

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	fmt.Println(filepath.Dir(resolvedConfigPath()))
	return nil
}
