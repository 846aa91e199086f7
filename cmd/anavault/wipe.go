package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// confirmWord must be typed to confirm an interactive wipe.
const confirmWord = "wipe"

var wipeYes bool

func init() {
	rootCmd.AddCommand(wipeCmd)
	wipeCmd.Flags().BoolVarP(&wipeYes, "yes", "y", false, "Confirm the wipe without prompting")
}

// wipeCmd irreversibly deletes every stored item
var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete every stored item and file",
	Long: `Delete every credential, conversation, user data entry, token and stored
file. The key file is kept so the vault stays usable.

When stdin is a terminal you are asked to type "wipe". Otherwise the wipe is
refused unless --yes is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed := wipeYes
		if !confirmed && isTerminal(int(os.Stdin.Fd())) {
			ok, err := confirmWipe(os.Stdin, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			confirmed = ok
		}

		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		// The vault publishes and journals a refused wipe.
		if err := v.WipeAllData(confirmed); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All data wiped.")
		return nil
	},
}

// confirmWipe prompts on w and reads one line from r.
func confirmWipe(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprintf(w, "This permanently deletes all stored data. Type %q to confirm: ", confirmWord)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.TrimSpace(line) == confirmWord, nil
}
