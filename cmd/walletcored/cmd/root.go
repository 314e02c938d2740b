// Package cmd wires the cobra command tree for walletcored, the thin
// composition root that loads a config.Config and starts a
// walletengine.Engine against it. It is intentionally small: RPC/CLI
// dispatch for addresses, transfers, and history is out of scope (the
// core is a library other surfaces embed), so this binary exists only
// to prove the pieces assemble and to give an operator somewhere to
// point a config file and a signal.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "walletcored",
	Short: "wallet transfers and blockchain-synchronization core",
}

// Execute runs the command line logic, exiting the process with a
// non-zero status on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "walletcore.toml", "path to the TOML configuration file")
	rootCmd.AddCommand(runCmd, configInitCmd)
}
