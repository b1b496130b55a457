package main

import (
	"fmt"
	"os"

	"downsort/internal/config"

	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command
func NewInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example configuration",
		Long:  `Write an example configuration file to the config path, ready to edit.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			if err := config.Save(config.Example(), path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, successText("Wrote example configuration to "+path))
			fmt.Fprintln(out, infoText("Edit the rules, then run 'downsort rules' to check them."))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")

	return cmd
}
