package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/anavault/internal/cli"
	"github.com/forest6511/anavault/pkg/audit"
)

// Journal list flags
var (
	journalLimit  int
	journalSince  string
	journalOps    []string
	journalFormat string
	journalOutput string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalVerifyCmd)

	journalListCmd.Flags().IntVar(&journalLimit, "limit", 100, "Maximum number of events to show (0 for all)")
	journalListCmd.Flags().StringVar(&journalSince, "since", "", "Only show events within duration (e.g., 24h, 7d)")
	journalListCmd.Flags().StringSliceVar(&journalOps, "op", nil, "Only show operations matching pattern (e.g., 'credentials.*'; repeatable)")
	journalListCmd.Flags().StringVar(&journalFormat, "format", "text", "Output format: text, json or csv")
	journalListCmd.Flags().StringVarP(&journalOutput, "output", "o", "", "Write to file instead of stdout")
}

// journalCmd is the parent command for operation journal commands
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Operation journal commands",
}

// journalListCmd lists journal events
var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operation journal events",
	Long: `List operation journal events. Identifiers are shown as the HMAC the
journal stores, never in clear.

Example:
  anavault journal list --since 24h
  anavault journal list --op 'credentials.*' --op vault.wipe
  anavault journal list --format csv -o journal.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if journalFormat != "text" && journalFormat != "json" && journalFormat != "csv" {
			return fmt.Errorf("invalid format: %s (use 'text', 'json' or 'csv')", journalFormat)
		}
		since, err := cli.Since(journalSince, time.Now())
		if err != nil {
			return err
		}
		matcher, err := cli.NewMatcher(journalOps)
		if err != nil {
			return err
		}

		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		all, err := v.JournalEvents(0, since)
		if err != nil {
			return fmt.Errorf("failed to list journal events: %w", err)
		}
		events := selectEvents(all, matcher, journalLimit)

		out := cmd.OutOrStdout()
		if journalOutput != "" {
			f, err := os.OpenFile(journalOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}
		return writeEvents(out, journalFormat, events)
	},
}

// journalVerifyCmd verifies the journal's HMAC chain
var journalVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the operation journal HMAC chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		result, err := v.VerifyJournal()
		if err != nil {
			return fmt.Errorf("failed to verify journal: %w", err)
		}
		return writeVerify(cmd.OutOrStdout(), result)
	},
}

// selectEvents keeps the events whose operation matches, then the most
// recent limit of those.
func selectEvents(events []audit.Event, m *cli.Matcher, limit int) []audit.Event {
	out := cli.Filter(m, events, func(ev audit.Event) string { return ev.Operation })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func writeEvents(w io.Writer, format string, events []audit.Event) error {
	switch format {
	case "json":
		if events == nil {
			events = []audit.Event{}
		}
		return writeJSON(w, events)
	case "csv":
		return audit.WriteCSV(csv.NewWriter(w), events)
	}

	if len(events) == 0 {
		fmt.Fprintln(w, "No journal events found")
		return nil
	}
	for _, ev := range events {
		// Format: TIMESTAMP OPERATION RESULT [id:HMAC] [error:KIND]
		line := fmt.Sprintf("%s %s %s", ev.Timestamp, ev.Operation, ev.Result)
		if ev.Identifier != "" {
			id := ev.Identifier
			if len(id) > 16 {
				id = id[:16] + "..."
			}
			line += " id:" + id
		}
		if ev.ErrorKind != "" {
			line += " error:" + ev.ErrorKind
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\nTotal: %d events\n", len(events))
	return nil
}

func writeVerify(w io.Writer, result *audit.VerifyResult) error {
	if result.Valid {
		fmt.Fprintf(w, "✓ Journal verified: %d records, chain intact\n", result.RecordsTotal)
		return nil
	}
	fmt.Fprintln(w, "✗ Journal verification FAILED")
	fmt.Fprintf(w, "  Records total: %d\n", result.RecordsTotal)
	fmt.Fprintf(w, "  Records verified: %d\n", result.RecordsVerified)
	fmt.Fprintln(w, "  Errors:")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "    - %s\n", e)
	}
	return fmt.Errorf("journal integrity check failed")
}
