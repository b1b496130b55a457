package organize

import (
	"fmt"
	"path/filepath"

	"downsort/internal/errors"
)

// DuplicatePolicy governs what a move does when its destination name is
// already taken.
type DuplicatePolicy int

const (
	// RenameDate inserts the current date before the extension and, if
	// that name is taken too, a numeric suffix.
	RenameDate DuplicatePolicy = iota
	// Overwrite replaces the existing file.
	Overwrite
)

// ParseDuplicatePolicy parses the configuration spelling of a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "rename-date":
		return RenameDate, nil
	case "overwrite":
		return Overwrite, nil
	}
	return 0, errors.NewConfigError("unknown duplicate policy", s, errors.InvalidConfig, nil)
}

func (p DuplicatePolicy) String() string {
	switch p {
	case RenameDate:
		return "rename-date"
	case Overwrite:
		return "overwrite"
	}
	return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
}

// Action is one step of a rule's pipeline. The set of actions is closed:
// Move, Unzip and Delete are the only implementations.
type Action interface {
	// Name is the action's configuration key.
	Name() string
	isAction()
}

// Move relocates the file into Dest.
type Move struct {
	Dest      string
	Duplicate DuplicatePolicy
}

// Unzip extracts the archive into Dest. The archive itself stays in place.
type Unzip struct {
	Dest string
}

// Delete removes the file.
type Delete struct{}

func (Move) Name() string   { return "move" }
func (Unzip) Name() string  { return "unzip" }
func (Delete) Name() string { return "delete" }

func (Move) isAction()   {}
func (Unzip) isAction()  {}
func (Delete) isAction() {}

func (m Move) String() string  { return fmt.Sprintf("move to %q (duplicate: %s)", m.Dest, m.Duplicate) }
func (u Unzip) String() string { return fmt.Sprintf("unzip into %q", u.Dest) }
func (Delete) String() string  { return "delete" }

// WatchTarget describes where events come from and what relative
// destinations resolve against.
type WatchTarget struct {
	BaseDir  string
	WatchDir string
}

// WatchPath is the absolute directory being watched.
func (w WatchTarget) WatchPath() string {
	if filepath.IsAbs(w.WatchDir) {
		return filepath.Clean(w.WatchDir)
	}
	return filepath.Join(w.BaseDir, w.WatchDir)
}

// Resolve maps an action destination onto the filesystem. Relative
// destinations live under BaseDir; absolute ones are used as given.
func (w WatchTarget) Resolve(dest string) string {
	if filepath.IsAbs(dest) {
		return filepath.Clean(dest)
	}
	return filepath.Join(w.BaseDir, dest)
}
