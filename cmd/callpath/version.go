package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/callpath"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of callpath",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "callpath version %s\n", strings.TrimSpace(callpath.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
