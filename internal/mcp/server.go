// Package mcp implements a read-only MCP (Model Context Protocol) server
// that lets an assistant inspect what the vault holds. No tool ever returns
// a stored value.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/anavault/pkg/vault"
)

// Server is the transparency MCP server.
type Server struct {
	server *mcp.Server
	vault  *vault.Vault
	logger *slog.Logger
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	// Vault is required and stays owned by the caller.
	Vault *vault.Vault
	// Version is reported to clients.
	Version string
	Logger  *slog.Logger
}

// NewServer creates the server and registers its tools.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Vault == nil {
		return nil, errors.New("mcp: vault is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{Name: "anavault", Version: version}, nil),
		vault:  opts.Vault,
		logger: logger.With("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "privacy_report",
		Description: "Summarise what the local vault stores: encryption mode, row counts per collection, identifying key names and encrypted file counts. Never returns stored values.",
	}, s.handlePrivacyReport)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "journal_verify",
		Description: "Verify the HMAC chain of the vault's operation journal and report whether it was tampered with.",
	}, s.handleJournalVerify)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "data_exists",
		Description: "Check whether an identifier exists in a vault collection (api_credentials, user_data or github_tokens). Does NOT return the value.",
	}, s.handleDataExists)
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
