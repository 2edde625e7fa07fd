package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jackzampolin/stacks/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stacks configuration",
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Long: `Write the default configuration to ~/.stacks/config.yaml.

The written file references API keys through ${ENV_VAR} placeholders, so
secrets stay in the environment rather than on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}

		if h.ConfigExists() && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", h.ConfigPath())
		}

		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", h.ConfigPath())
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration after merging defaults, the config
file, and STACKS_* environment variables. API key references are shown
unresolved.

With a key argument, prints only that value:

  stacks config get analyzer.model`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			value := viper.Get(args[0])
			if value == nil {
				return fmt.Errorf("unknown config key: %s", args[0])
			}
			return printOutput(value)
		}
		return printOutput(cfgManager.Get())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)

	rootCmd.AddCommand(configCmd)
}
