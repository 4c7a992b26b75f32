package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/life-stream-dev/pitstopper/internal/config"
	"github.com/spf13/cobra"
)

var (
	configOutput string
	configForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configOutput); err == nil && !configForce {
			return fmt.Errorf("%s already exists, use --force to overwrite", configOutput)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.Default().Save(configOutput); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", configOutput)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(configOutput); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configOutput)
		return nil
	},
}

func init() {
	configCmd.PersistentFlags().StringVarP(&configOutput, "file", "f", "config.yaml", "Configuration file")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
