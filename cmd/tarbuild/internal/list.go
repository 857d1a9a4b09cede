package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tarbuild/tarbuild/internal/env"
	"github.com/tarbuild/tarbuild/internal/tracker"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded installs",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func openStore() (*tracker.Store, error) {
	dir, err := env.RecordsDir()
	if err != nil {
		return nil, err
	}
	return tracker.NewStore(dir), nil
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	recs, err := store.List()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no installs recorded")
		return nil
	}
	for _, r := range recs {
		fmt.Printf("%-36s  %-20s %-10s %-12s %4d files  %s\n",
			r.ID, r.Name, r.Version, r.BuildSystem, len(r.Files),
			r.InstalledAt.Format("2006-01-02 15:04"))
	}
	return nil
}
