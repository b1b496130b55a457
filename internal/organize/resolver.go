package organize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"downsort/internal/errors"

	"github.com/spf13/afero"
)

const (
	// maxRenameAttempts bounds the numeric suffix search of RenameDate.
	maxRenameAttempts = 1000
	dateLayout        = "2006-01-02"
)

// ResolutionKind tells the mover whether the resolved path is free or
// names an existing file that must be replaced.
type ResolutionKind int

const (
	WriteTo ResolutionKind = iota
	OverwriteAt
)

func (k ResolutionKind) String() string {
	if k == OverwriteAt {
		return "overwrite-at"
	}
	return "write-to"
}

// Resolution is the outcome of duplicate resolution.
type Resolution struct {
	Kind ResolutionKind
	Path string
}

// Resolver picks the path a file is written to when its destination
// name may already be taken. It only checks for existence; it never
// creates, renames or removes anything.
type Resolver struct {
	fs  afero.Fs
	now func() time.Time
}

// NewResolver creates a resolver over fs. A nil clock means time.Now.
func NewResolver(fs afero.Fs, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{fs: fs, now: now}
}

// Resolve computes where a file headed for candidate should go.
func (r *Resolver) Resolve(candidate string, policy DuplicatePolicy) (Resolution, error) {
	taken, err := r.exists(candidate)
	if err != nil {
		return Resolution{}, err
	}
	if !taken {
		return Resolution{Kind: WriteTo, Path: candidate}, nil
	}

	switch policy {
	case Overwrite:
		return Resolution{Kind: OverwriteAt, Path: candidate}, nil
	case RenameDate:
		p, err := r.renameDate(candidate)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Kind: WriteTo, Path: p}, nil
	}
	return Resolution{}, errors.NewActionError("move", "unknown duplicate policy", candidate, errors.InvalidOperation, nil)
}

func (r *Resolver) renameDate(candidate string) (string, error) {
	dir := filepath.Dir(candidate)
	stem, ext := splitExt(filepath.Base(candidate))
	dated := stem + "_" + r.now().Format(dateLayout)

	for n := 1; n <= maxRenameAttempts; n++ {
		name := dated + ext
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", dated, n, ext)
		}
		p := filepath.Join(dir, name)
		taken, err := r.exists(p)
		if err != nil {
			return "", err
		}
		if !taken {
			return p, nil
		}
	}
	return "", errors.NewActionError("move",
		fmt.Sprintf("no free name after %d attempts", maxRenameAttempts),
		candidate, errors.ResolutionExhausted, nil)
}

// exists reports whether something occupies p. A dangling symlink
// counts as occupied when the filesystem can tell.
func (r *Resolver) exists(p string) (bool, error) {
	var err error
	if lst, ok := r.fs.(afero.Lstater); ok {
		_, _, err = lst.LstatIfPossible(p)
	} else {
		_, err = r.fs.Stat(p)
	}
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	if os.IsPermission(err) {
		return false, errors.NewActionError("move", "cannot check destination", p, errors.FileAccessDenied, err)
	}
	return false, errors.NewActionError("move", "cannot check destination", p, errors.IOFailure, err)
}

// splitExt splits name into stem and extension. A leading dot does not
// start an extension, so ".bashrc" has none. Only the last suffix counts,
// so "backup.tar.gz" splits into "backup.tar" and ".gz".
func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name || strings.TrimSuffix(name, ext) == "" {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
