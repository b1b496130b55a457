package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"downsort/internal/organize"

	"github.com/spf13/cobra"
)

// NewSortCmd creates the sort command
func NewSortCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sort [files...]",
		Short: "Sort files once instead of watching",
		Long: `Run the rules once over the given files, or over every regular file
currently in the watch directory when no files are given.

Actions are not transactional: when an action fails, the actions before it
stay in effect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.Settings.DryRun = dryRun
			}

			target := cfg.Target()
			files := args
			if len(files) == 0 {
				files, err = listFiles(target.WatchPath())
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, infoText("Nothing to sort in "+target.WatchPath()))
				return nil
			}

			handler := organize.CurrentHandlerFactory(target, cfg.EngineOptions()...)
			rules := cfg.CompiledRules()
			var completed, failed, unhandled int
			for _, f := range files {
				path, err := filepath.Abs(f)
				if err != nil {
					return fmt.Errorf("error resolving %s: %w", f, err)
				}
				ev := organize.FileEvent{Path: path}
				o := handler.Handle(ev, rules)
				fmt.Fprintln(out, formatOutcome(ev, o, handler.IsDryRun()))
				switch o.State {
				case organize.Completed:
					completed++
				case organize.Failed:
					failed++
				default:
					unhandled++
				}
			}

			fmt.Fprintf(out, "\n%d sorted, %d failed, %d unmatched\n", completed, failed, unhandled)
			if handler.IsDryRun() {
				fmt.Fprintln(out, warningText("Dry run complete. No files were changed."))
			}
			if failed > 0 {
				return fmt.Errorf("%d file(s) could not be sorted", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be done without touching any file")

	return cmd
}

// listFiles returns the regular files directly inside dir, sorted by name.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
