package mcp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/anavault/pkg/blobstore"
	"github.com/forest6511/anavault/pkg/store"
)

// PrivacyReportInput is the (empty) input of privacy_report.
type PrivacyReportInput struct{}

// PrivacyReportOutput mirrors audit.Report with JSON-schema friendly types.
type PrivacyReportOutput struct {
	ReportTime        string              `json:"report_time"`
	EncryptionEnabled bool                `json:"encryption_enabled"`
	Cipher            string              `json:"cipher"`
	Counts            store.Counts        `json:"counts"`
	APIServices       []string            `json:"api_services"`
	UserDataKeys      []string            `json:"user_data_keys"`
	GitHubRepos       []string            `json:"github_repos"`
	Files             []blobstore.Purpose `json:"files"`
}

// JournalVerifyInput is the (empty) input of journal_verify.
type JournalVerifyInput struct{}

// JournalVerifyOutput is the outcome of journal_verify.
type JournalVerifyOutput struct {
	Enabled         bool     `json:"enabled"`
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors"`
}

// DataExistsInput is the input of data_exists.
type DataExistsInput struct {
	Collection string `json:"collection"`
	Identifier string `json:"identifier"`
}

// DataExistsOutput is the output of data_exists.
type DataExistsOutput struct {
	Collection string `json:"collection"`
	Identifier string `json:"identifier"`
	Exists     bool   `json:"exists"`
}

// handlePrivacyReport handles the privacy_report tool call.
func (s *Server) handlePrivacyReport(_ context.Context, _ *mcp.CallToolRequest, _ PrivacyReportInput) (*mcp.CallToolResult, PrivacyReportOutput, error) {
	rep, err := s.vault.GeneratePrivacyReport()
	if err != nil {
		return nil, PrivacyReportOutput{}, fmt.Errorf("failed to generate privacy report: %w", err)
	}

	return nil, PrivacyReportOutput{
		ReportTime:        rep.ReportTime.Format(time.RFC3339),
		EncryptionEnabled: rep.EncryptionEnabled,
		Cipher:            rep.Cipher,
		Counts:            rep.Counts,
		APIServices:       nonNil(rep.KeyNames.APIServices),
		UserDataKeys:      nonNil(rep.KeyNames.UserDataKeys),
		GitHubRepos:       nonNil(rep.KeyNames.GitHubRepos),
		Files:             nonNil(rep.Files),
	}, nil
}

// handleJournalVerify handles the journal_verify tool call. A disabled
// journal (plain mode) is reported, not an error.
func (s *Server) handleJournalVerify(_ context.Context, _ *mcp.CallToolRequest, _ JournalVerifyInput) (*mcp.CallToolResult, JournalVerifyOutput, error) {
	if !s.vault.Encrypted() {
		return nil, JournalVerifyOutput{Errors: []string{}}, nil
	}
	res, err := s.vault.VerifyJournal()
	if err != nil {
		return nil, JournalVerifyOutput{}, fmt.Errorf("failed to verify journal: %w", err)
	}
	return nil, JournalVerifyOutput{
		Enabled:         true,
		Valid:           res.Valid,
		RecordsTotal:    res.RecordsTotal,
		RecordsVerified: res.RecordsVerified,
		Errors:          nonNil(res.Errors),
	}, nil
}

// handleDataExists handles the data_exists tool call. It consults the key
// names only, so nothing is decrypted. The identifier is normalised the way
// the store normalises it on write.
func (s *Server) handleDataExists(_ context.Context, _ *mcp.CallToolRequest, input DataExistsInput) (*mcp.CallToolResult, DataExistsOutput, error) {
	id := store.Canonical(input.Identifier)
	if id == "" {
		return nil, DataExistsOutput{}, errors.New("identifier is required")
	}

	rep, err := s.vault.GeneratePrivacyReport()
	if err != nil {
		return nil, DataExistsOutput{}, fmt.Errorf("failed to read key names: %w", err)
	}

	var names []string
	switch input.Collection {
	case store.TableCredentials:
		names = rep.KeyNames.APIServices
	case store.TableUserData:
		names = rep.KeyNames.UserDataKeys
	case store.TableTokens:
		names = rep.KeyNames.GitHubRepos
	default:
		return nil, DataExistsOutput{}, fmt.Errorf("unsupported collection %q", input.Collection)
	}

	return nil, DataExistsOutput{
		Collection: input.Collection,
		Identifier: id,
		Exists:     slices.Contains(names, id),
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
