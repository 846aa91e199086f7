package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/forest6511/anavault/internal/cli"
	"github.com/forest6511/anavault/internal/config"
	"github.com/forest6511/anavault/pkg/audit"
	"github.com/forest6511/anavault/pkg/blobstore"
	"github.com/forest6511/anavault/pkg/store"
	"github.com/forest6511/anavault/pkg/vault"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

func init() {
	color.NoColor = true
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", vaulterr.New(vaulterr.KindInvalidInput, "vault.open", errors.New("bad")), 2},
		{"wrapped wipe refused", fmt.Errorf("wipe: %w", vaulterr.ErrWipeRefused), 3},
		{"decryption", vaulterr.ErrDecryptionFailed, 1},
		{"plain error", errors.New("boom"), 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestConfirmWipe(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"wipe\n", true},
		{"  wipe  \n", true},
		{"wipe", true},
		{"y\n", false},
		{"WIPE\n", false},
		{"", false},
	}
	for _, tc := range tests {
		var prompt bytes.Buffer
		got, err := confirmWipe(strings.NewReader(tc.input), &prompt)
		if err != nil {
			t.Fatalf("confirmWipe(%q): %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("confirmWipe(%q) = %v, want %v", tc.input, got, tc.want)
		}
		if !strings.Contains(prompt.String(), `"wipe"`) {
			t.Errorf("prompt %q does not name the confirmation word", prompt.String())
		}
	}
}

func sampleEvents() []audit.Event {
	return []audit.Event{
		{Timestamp: "2026-03-01T10:00:00Z", Operation: audit.OpCredentialStore, Result: audit.ResultSuccess, Identifier: strings.Repeat("ab", 32)},
		{Timestamp: "2026-03-01T10:01:00Z", Operation: audit.OpCredentialGet, Result: audit.ResultNotFound, ErrorKind: "not_found"},
		{Timestamp: "2026-03-01T10:02:00Z", Operation: audit.OpReport, Result: audit.ResultSuccess},
		{Timestamp: "2026-03-01T10:03:00Z", Operation: audit.OpCredentialDelete, Result: audit.ResultSuccess},
	}
}

func TestSelectEvents(t *testing.T) {
	m, err := cli.NewMatcher([]string{"credentials.*"})
	if err != nil {
		t.Fatal(err)
	}

	got := selectEvents(sampleEvents(), m, 0)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}

	got = selectEvents(sampleEvents(), m, 2)
	if len(got) != 2 || got[0].Operation != audit.OpCredentialGet || got[1].Operation != audit.OpCredentialDelete {
		t.Errorf("limit should keep the most recent matches, got %+v", got)
	}

	all := selectEvents(sampleEvents(), nil, 0)
	if len(all) != 4 {
		t.Errorf("nil matcher kept %d events, want 4", len(all))
	}
}

func TestWriteEventsText(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEvents(&buf, "text", sampleEvents()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "credentials.store success id:abababababababab...") {
		t.Errorf("missing truncated identifier:\n%s", out)
	}
	if !strings.Contains(out, "error:not_found") {
		t.Errorf("missing error kind:\n%s", out)
	}
	if !strings.Contains(out, "Total: 4 events") {
		t.Errorf("missing total:\n%s", out)
	}

	buf.Reset()
	if err := writeEvents(&buf, "text", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No journal events found") {
		t.Errorf("empty output = %q", buf.String())
	}
}

func TestWriteEventsJSONAndCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEvents(&buf, "json", nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON = %q, want []", buf.String())
	}

	buf.Reset()
	if err := writeEvents(&buf, "csv", sampleEvents()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d CSV lines, want 5", len(lines))
	}
	if lines[0] != "timestamp,operation,result,error_kind,identifier" {
		t.Errorf("header = %q", lines[0])
	}
}

func TestWriteVerify(t *testing.T) {
	var buf bytes.Buffer
	if err := writeVerify(&buf, &audit.VerifyResult{Valid: true, RecordsTotal: 3, RecordsVerified: 3}); err != nil {
		t.Fatalf("valid result returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "3 records, chain intact") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	err := writeVerify(&buf, &audit.VerifyResult{RecordsTotal: 3, RecordsVerified: 1, Errors: []string{"chain broken at seq 2"}})
	if err == nil {
		t.Fatal("invalid result should return an error")
	}
	if !strings.Contains(buf.String(), "chain broken at seq 2") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWriteReportText(t *testing.T) {
	r := &audit.Report{
		ReportTime:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EncryptionEnabled: true,
		Cipher:            "AES-256-GCM",
		Counts:            store.Counts{APICredentials: 2, Conversations: 5},
		KeyNames:          store.KeyNames{APIServices: []string{"anthropic", "openai"}},
		Files:             []blobstore.Purpose{{Name: "exports", Files: 3}},
	}

	var buf bytes.Buffer
	writeReportText(&buf, r)
	out := buf.String()

	for _, want := range []string{
		"Generated:  2026-03-01T09:00:00Z",
		"Encryption: enabled (AES-256-GCM)",
		"[anthropic, openai]",
		"conversations    5",
		"exports          3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	writeReportText(&buf, &audit.Report{})
	if !strings.Contains(buf.String(), "disabled") || !strings.Contains(buf.String(), "(none)") {
		t.Errorf("empty report:\n%s", buf.String())
	}
}

func openTestVault(t *testing.T, encrypted bool) *vault.Vault {
	t.Helper()
	opts := vault.DefaultOptions(t.TempDir())
	opts.DisableEncryption = !encrypted
	v, err := vault.Open(opts)
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestRunChecks(t *testing.T) {
	v := openTestVault(t, true)
	if err := v.StoreAPICredentials("openai", map[string]any{"api_key": "sk-test"}); err != nil {
		t.Fatal(err)
	}

	checks := runChecks(v)
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.Name)
		if c.Name != "disk" && !c.OK {
			t.Errorf("check %s failed: %v", c.Name, c.Issues)
		}
	}
	if got := strings.Join(names, ","); got != "permissions,integrity,disk,journal" {
		t.Errorf("checks = %s", got)
	}

	var buf bytes.Buffer
	writeChecks(&buf, checks)
	if !strings.Contains(buf.String(), "✓ permissions") {
		t.Errorf("output:\n%s", buf.String())
	}
}

func TestRunChecksPlainMode(t *testing.T) {
	v := openTestVault(t, false)
	for _, c := range runChecks(v) {
		if c.Name == "journal" {
			if !c.OK || !strings.Contains(c.Detail, "disabled") {
				t.Errorf("journal check = %+v", c)
			}
			return
		}
	}
	t.Fatal("no journal check")
}

func TestRunChecksDetectsPermissions(t *testing.T) {
	v := openTestVault(t, true)
	if err := os.Chmod(v.CheckPermissions().Database, 0644); err != nil {
		t.Fatal(err)
	}

	checks := runChecks(v)
	if checks[0].Name != "permissions" || checks[0].OK || len(checks[0].Issues) == 0 {
		t.Errorf("permissions check = %+v", checks[0])
	}

	var buf bytes.Buffer
	writeChecks(&buf, checks)
	if !strings.Contains(buf.String(), "✗ permissions") {
		t.Errorf("output:\n%s", buf.String())
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("data_dir: %s\nlogging:\n  level: error\n", filepath.Join(dir, "data"))
	if err := os.WriteFile(cfgPath, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	// Seed some data through the same configuration.
	c, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	opts, err := c.VaultOptions()
	if err != nil {
		t.Fatal(err)
	}
	v, err := vault.Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.StoreGitHubToken("acme/app", "ghp_secret"); err != nil {
		t.Fatal(err)
	}
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfgPath, "report", "--json")
	if err != nil {
		t.Fatalf("report: %v\n%s", err, out)
	}
	if strings.Contains(out, "ghp_secret") {
		t.Fatal("report leaked a token value")
	}
	var report struct {
		EncryptionEnabled bool         `json:"encryption_enabled"`
		Counts            store.Counts `json:"counts"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("report output is not JSON: %v\n%s", err, out)
	}
	if !report.EncryptionEnabled || report.Counts.GitHubTokens != 1 {
		t.Errorf("report = %+v", report)
	}

	out, err = execute(t, "--config", cfgPath, "wipe", "--yes")
	if err != nil {
		t.Fatalf("wipe: %v\n%s", err, out)
	}
	if !strings.Contains(out, "All data wiped.") {
		t.Errorf("wipe output = %q", out)
	}

	out, err = execute(t, "--config", cfgPath, "journal", "list", "--format", "json", "--op", "vault.*")
	if err != nil {
		t.Fatalf("journal list: %v\n%s", err, out)
	}
	var events []audit.Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("journal output is not JSON: %v\n%s", err, out)
	}
	if len(events) != 2 || events[0].Operation != audit.OpReport || events[1].Operation != audit.OpWipe {
		t.Errorf("events = %+v", events)
	}

	out, err = execute(t, "--config", cfgPath, "journal", "verify")
	if err != nil {
		t.Fatalf("journal verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "chain intact") {
		t.Errorf("verify output = %q", out)
	}
}
