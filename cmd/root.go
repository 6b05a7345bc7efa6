package cmd

import (
	"fmt"
	"os"

	"github.com/polystore/polystore/cmd/kv"
	"github.com/polystore/polystore/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "polystore",
		Short: "storage abstraction toolkit",
		Long: fmt.Sprintf(`polystore (v%s)

A storage abstraction library with capability-negotiated backends,
change notifications and resumable data migrations. The CLI operates
one of the bundled backends (memory, fs, sqlite) directly.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of polystore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("polystore v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level (trace, debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
