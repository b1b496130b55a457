package main

import (
	"fmt"
	"path/filepath"

	"downsort/internal/config"
	"downsort/internal/organize"

	"github.com/spf13/cobra"
)

// NewRulesCmd creates the rules command
func NewRulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Show the configured rules",
		Long:  `List the configured rules in evaluation order. The first matching rule wins.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to listing rules when no subcommand is provided
			return listRules(cmd, opts)
		},
	}

	cmd.AddCommand(newRulesListCmd(opts))
	cmd.AddCommand(newRulesTestCmd(opts))

	return cmd
}

func newRulesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRules(cmd, opts)
		},
	}
}

func listRules(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	rules := cfg.CompiledRules()
	if len(rules) == 0 {
		fmt.Fprintln(out, warningText("No rules configured"))
		return nil
	}

	fmt.Fprintf(out, "%s %s\n\n", primaryText("Rules for"), emphasisText(cfg.Target().WatchPath()))
	for i, r := range rules {
		fmt.Fprintf(out, "%2d. %s %s\n", i+1, primaryText(r.Name),
			mutedText(fmt.Sprintf("%s %s", r.Pattern.Syntax(), r.Pattern)))
		fmt.Fprintf(out, "    %s\n", describeActions(cfg.Target(), r.Actions))
	}
	return nil
}

func newRulesTestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <filename>",
		Short: "Show which rule would handle a file",
		Long: `Match a filename against the rules and print the rule that would fire
and its actions. No file is touched and the file does not need to exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return testRule(cmd, cfg, filepath.Base(args[0]))
		},
	}
}

func testRule(cmd *cobra.Command, cfg *config.Config, name string) error {
	out := cmd.OutOrStdout()
	rules := cfg.CompiledRules()
	i := organize.Match(rules, name)
	if i < 0 {
		fmt.Fprintf(out, "%s %s\n", emphasisText(name), mutedText("matches no rule and would be left alone"))
		return nil
	}
	r := rules[i]
	fmt.Fprintf(out, "%s %s %s\n", emphasisText(name), successText("matches rule"), primaryText(r.Name))
	fmt.Fprintf(out, "    %s\n", describeActions(cfg.Target(), r.Actions))
	return nil
}
