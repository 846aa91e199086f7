package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/anavault/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the read-only MCP server
var mcpServerCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the read-only MCP server over stdio",
	Long: `Start an MCP (Model Context Protocol) server over stdio that lets an AI
assistant see what the vault holds. No tool returns a stored value.

Available tools:
  - privacy_report:  Counts, identifiers and stored files
  - journal_verify:  Verify the operation journal HMAC chain
  - data_exists:     Check whether an identifier is stored in a collection

Example MCP configuration:
  {
    "mcpServers": {
      "anavault": {
        "type": "stdio",
        "command": "/path/to/anavault",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	v, err := openVault()
	if err != nil {
		return err
	}
	defer v.Close()

	server, err := mcp.NewServer(mcp.ServerOptions{
		Vault:   v,
		Version: version,
		Logger:  slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
