package main

import (
	"downsort/internal/config"
	"downsort/internal/log"

	"github.com/spf13/cobra"
)

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
	logJSON    bool
}

// path returns the config file to use.
func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.FindPath()
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.path())
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "downsort",
		Short: "Sort your downloads folder by filename rules",
		Long: `downsort watches a downloads directory and runs the first rule whose
pattern matches each arriving file. A rule is a pipeline of actions:
move (with duplicate-name handling), unzip and delete.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logOpts := []log.Option{log.WithOutput(cmd.ErrOrStderr())}
			if opts.logJSON {
				logOpts = append(logOpts, log.WithJSON())
			}
			log.Configure(logOpts...)
			log.SetDebug(opts.debug)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/downsort/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")

	rootCmd.AddCommand(NewWatchCmd(opts))
	rootCmd.AddCommand(NewSortCmd(opts))
	rootCmd.AddCommand(NewRulesCmd(opts))
	rootCmd.AddCommand(NewInitCmd(opts))

	return rootCmd
}
