package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forest6511/anavault/internal/cli"
	"github.com/forest6511/anavault/pkg/vault"
)

// lowDiskPct is the used-space percentage doctor warns at.
const lowDiskPct = 95

var doctorJSON bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output the checks as JSON")
}

// check is a single doctor finding.
type check struct {
	Name   string   `json:"name"`
	OK     bool     `json:"ok"`
	Detail string   `json:"detail,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

// doctorCmd checks file permissions, database integrity and the journal
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check permissions, database integrity and the operation journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		checks := runChecks(v)
		if doctorJSON {
			if err := writeJSON(cmd.OutOrStdout(), checks); err != nil {
				return err
			}
		} else {
			writeChecks(cmd.OutOrStdout(), checks)
		}

		for _, c := range checks {
			if !c.OK {
				return errors.New("one or more checks failed")
			}
		}
		return nil
	},
}

func runChecks(v *vault.Vault) []check {
	var checks []check

	perms := v.CheckPermissions()
	checks = append(checks, check{
		Name:   "permissions",
		OK:     perms.OK(),
		Detail: perms.Database,
		Issues: perms.Problems,
	})

	integrity, err := v.Integrity()
	switch {
	case err != nil:
		checks = append(checks, check{Name: "integrity", Issues: []string{err.Error()}})
	default:
		var versions []string
		for _, table := range cli.MapKeys(integrity.SchemaVersions) {
			versions = append(versions, fmt.Sprintf("%s=v%d", table, integrity.SchemaVersions[table]))
		}
		checks = append(checks, check{
			Name:   "integrity",
			OK:     integrity.Valid,
			Detail: strings.Join(versions, " "),
			Issues: integrity.Errors,
		})
	}

	if disk, err := v.DiskSpace(); err != nil {
		checks = append(checks, check{Name: "disk", Issues: []string{err.Error()}})
	} else {
		c := check{
			Name:   "disk",
			OK:     disk.UsedPct < lowDiskPct,
			Detail: fmt.Sprintf("%d%% used, %d MB available", disk.UsedPct, disk.Available/(1024*1024)),
		}
		if !c.OK {
			c.Issues = []string{"disk almost full"}
		}
		checks = append(checks, c)
	}

	if v.Encrypted() {
		res, err := v.VerifyJournal()
		switch {
		case err != nil:
			checks = append(checks, check{Name: "journal", Issues: []string{err.Error()}})
		default:
			checks = append(checks, check{
				Name:   "journal",
				OK:     res.Valid,
				Detail: fmt.Sprintf("%d/%d records verified", res.RecordsVerified, res.RecordsTotal),
				Issues: res.Errors,
			})
		}
	} else {
		checks = append(checks, check{Name: "journal", OK: true, Detail: "disabled (encryption off)"})
	}

	return checks
}

func writeChecks(w io.Writer, checks []check) {
	for _, c := range checks {
		mark := color.GreenString("✓")
		if !c.OK {
			mark = color.RedString("✗")
		}
		line := fmt.Sprintf("%s %-12s", mark, c.Name)
		if c.Detail != "" {
			line += " " + c.Detail
		}
		fmt.Fprintln(w, line)
		for _, issue := range c.Issues {
			fmt.Fprintf(w, "    - %s\n", issue)
		}
	}
}
