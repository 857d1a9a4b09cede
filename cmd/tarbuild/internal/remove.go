package internal

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tarbuild/tarbuild/internal/tracker"
)

var removeFlags struct {
	assumeYes bool
}

var removeCmd = &cobra.Command{
	Use:   "remove <id|name>",
	Short: "Remove a recorded install",
	Long: `Remove deletes every file a recorded install created, reports files
that were already gone or could not be deleted, and drops the record.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeFlags.assumeYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	rec, err := findRecord(store, args[0])
	if err != nil {
		return err
	}

	if !removeFlags.assumeYes {
		fmt.Printf("remove %s %s (%d files under %s)? [y/N] ", rec.Name, rec.Version, len(rec.Files), rec.Prefix)
		stdin := bufio.NewScanner(os.Stdin)
		if !stdin.Scan() || strings.ToLower(strings.TrimSpace(stdin.Text())) != "y" {
			fmt.Println("aborted")
			return nil
		}
	}

	sum, err := store.Remove(rec.ID)
	if err != nil {
		return err
	}
	color.Green("removed %d files", len(sum.Removed))
	if len(sum.Missing) > 0 {
		fmt.Printf("%d files were already gone\n", len(sum.Missing))
	}
	for _, f := range sum.Failed {
		color.Red("failed: %s: %v", f.Path, f.Err)
	}
	if len(sum.Failed) > 0 {
		return fmt.Errorf("%d files could not be removed", len(sum.Failed))
	}
	return nil
}

// findRecord resolves the argument as a record ID first, then as a
// project name. A name matching several records is ambiguous.
func findRecord(store *tracker.Store, key string) (*tracker.Record, error) {
	if rec, err := store.Get(key); err == nil {
		return rec, nil
	}
	recs, err := store.List()
	if err != nil {
		return nil, err
	}
	var matches []*tracker.Record
	for _, r := range recs {
		if r.Name == key {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no install record for %q", key)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("%q matches %d records, use the ID", key, len(matches))
}
