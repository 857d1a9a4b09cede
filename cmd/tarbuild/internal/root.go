package internal

import (
	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"
)

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "tarbuild",
	Short: "tarbuild builds and installs software from source tarballs",
	Long: `tarbuild detects the build system of a source tree, runs the right
configure/build/install commands, suggests missing packages when a step
fails, and keeps a record of every install so it can be undone.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootVerbose {
			log.SetOutputLevel(log.Ldebug)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
}
