// Command vkruntimectl drives the runtime's fiber scheduler, task queue, and
// resource pipeline from the command line, for manual exercising and
// scripted smoke tests.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/watertoon/vkruntime/internal/corelog"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "vkruntimectl",
	Short: "Drive the UKern scheduler, async task queue, and resource pipeline",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		corelog.SetLevel(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log verbosity: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
