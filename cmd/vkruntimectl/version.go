package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set by the module's own release process; "dev" covers local
// builds run straight out of the working tree.
const version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vkruntimectl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vkruntimectl", version)
	},
}
