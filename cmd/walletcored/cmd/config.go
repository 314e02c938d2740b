package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amjuarez/bytecoin-sub000/pkg/config"
)

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "write a default configuration file to the --config path",
	RunE: func(*cobra.Command, []string) error {
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Println("wrote default configuration to", configPath)
		return nil
	},
}
