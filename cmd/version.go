package cmd

import (
	"fmt"

	"github.com/arcward/quartermaster/quartermaster"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			quartermaster.Version,
			quartermaster.CommitSHA,
			quartermaster.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
