// Package cmd provides the command-line interface for fedcomm.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fedcomm",
	Short: "fedcomm runs and inspects federated-learning rounds.",
	Long: `fedcomm runs federated-learning rounds between a server and ` +
		`simulated devices over in-process channels. It can record the ` +
		`rounds into a SQLite file and report on them afterwards.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return applyEnv(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
