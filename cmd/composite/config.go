package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/composite/internal/config"
)

func newConfigCmd(load func() (*config.Config, error), paths func() (string, string, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialise configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	var global bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the project (or global) config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			globalPath, projectPath, err := paths()
			if err != nil {
				return err
			}
			path := projectPath
			if global {
				path = globalPath
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&global, "global", false, "write the global config instead of the project config")

	cmd.AddCommand(show, initCmd)
	return cmd
}
