package main

import (
	"github.com/mmgat/mmgat/pkg/core"
	"github.com/spf13/cobra"
)

var saveConfigPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration as YAML: the defaults, overlaid with --config
when given. With --save the configuration is written to a file instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := core.DefaultConfig()
		if configPath != "" {
			loaded, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if saveConfigPath != "" {
			return core.SaveConfig(cfg, saveConfigPath)
		}
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVar(&saveConfigPath, "save", "", "Write the configuration to this file")
}
