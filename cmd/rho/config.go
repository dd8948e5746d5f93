package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/rho/internal/config"
	"github.com/untoldecay/rho/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
	Long: `Inspect and initialize rho configuration.

Precedence: RHO_* environment variables > config.yaml > built-in
defaults. The config file is discovered at $RHO_DIR/config.yaml,
~/.config/rho/config.yaml, then ~/.rho/config.yaml.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteDefaultConfig()
		if err != nil {
			return err
		}
		fmt.Println(ui.OK("wrote " + path))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a resolved config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "brain-path":
			fmt.Println(config.BrainPath())
		case "rho-dir":
			fmt.Println(config.RhoDir())
		case "lease-dir":
			fmt.Println(config.LeaseDir())
		default:
			fmt.Println(config.GetString(args[0]))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configGetCmd)
	rootCmd.AddCommand(configCmd)
}
