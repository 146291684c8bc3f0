package cmd

import (
	"log"

	"github.com/arcward/quartermaster/quartermaster"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Quartermaster bot and (optionally) the status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := quartermaster.New(cfg)
		if err != nil {
			log.Fatalf("error creating quartermaster: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running quartermaster: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
