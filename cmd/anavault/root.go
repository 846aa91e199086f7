package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/anavault/internal/config"
	"github.com/forest6511/anavault/internal/logging"
	"github.com/forest6511/anavault/pkg/vault"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "anavault",
	Short: "anavault is a local encrypted vault for AI assistant data",
	Long: `anavault keeps API credentials, conversations, user data and GitHub
tokens encrypted at rest, and anonymises requests before they leave the
machine.

Configuration is read from --config, $ANAVAULT_CONFIG, or
~/.anavault/config.yaml (or config.toml), in that order.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE loads the configuration and installs the logger
	// for every subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadDefault(configPath)
		if err != nil {
			return err
		}
		cfg = c
		slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or TOML configuration file")
}

// openVault opens the vault described by the loaded configuration. Callers
// close it.
func openVault() (*vault.Vault, error) {
	opts, err := cfg.VaultOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = slog.Default()
	v, err := vault.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	return v, nil
}

// isTerminal returns true if the file descriptor is a terminal
func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// exitCode maps an error to the process exit status: 2 for invalid input,
// 3 for a refused wipe and 1 otherwise.
func exitCode(err error) int {
	switch vaulterr.KindOf(err) {
	case vaulterr.KindInvalidInput:
		return 2
	case vaulterr.KindWipeRefused:
		return 3
	default:
		return 1
	}
}
