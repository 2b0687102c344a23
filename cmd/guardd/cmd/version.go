package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version проставляется при сборке через -ldflags
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "guardd %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
