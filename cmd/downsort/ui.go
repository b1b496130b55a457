package main

import (
	"fmt"
	"strings"

	"downsort/internal/errors"
	"downsort/internal/organize"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F5C26B"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#81A1C1"))
	primaryStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B5ECD")).Bold(true)
	emphasisStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#D8DEE9")).Italic(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func successText(s string) string  { return successStyle.Render(s) }
func errorText(s string) string    { return errorStyle.Render(s) }
func warningText(s string) string  { return warningStyle.Render(s) }
func infoText(s string) string     { return infoStyle.Render(s) }
func primaryText(s string) string  { return primaryStyle.Render(s) }
func emphasisText(s string) string { return emphasisStyle.Render(s) }
func mutedText(s string) string    { return mutedStyle.Render(s) }

// formatOutcome renders one handled file as a single line.
func formatOutcome(ev organize.FileEvent, out organize.Outcome, dryRun bool) string {
	name := emphasisText(ev.Path)
	switch out.State {
	case organize.Completed:
		verb := "sorted"
		if dryRun {
			verb = "would sort"
		}
		dest := out.Path
		if dest == "" {
			dest = "(removed)"
		}
		return fmt.Sprintf("%s %s %s by %s -> %s", successText("✓"), verb, name, primaryText(out.Rule), dest)
	case organize.Failed:
		return fmt.Sprintf("%s %s failed in %s at action %d [%s]: %v",
			errorText("✗"), name, primaryText(out.Rule), out.ActionIndex, errors.KindOf(out.Err), out.Err)
	}
	return fmt.Sprintf("%s %s %s", mutedText("-"), name, mutedText("no matching rule"))
}

// describeActions renders an action pipeline, resolving destinations
// against target.
func describeActions(target organize.WatchTarget, actions []organize.Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		switch a := a.(type) {
		case organize.Move:
			parts = append(parts, fmt.Sprintf("move to %s (%s)", target.Resolve(a.Dest), a.Duplicate))
		case organize.Unzip:
			parts = append(parts, fmt.Sprintf("unzip into %s", target.Resolve(a.Dest)))
		case organize.Delete:
			parts = append(parts, "delete")
		}
	}
	return strings.Join(parts, " → ")
}
