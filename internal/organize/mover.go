package organize

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"downsort/internal/errors"
	"downsort/internal/log"

	"github.com/docker/go-units"
	"github.com/spf13/afero"
)

const (
	dirPerm     = 0o755
	tempPattern = ".downsort-*.part"
)

// Mover relocates files into destination directories, resolving name
// collisions with a Resolver.
type Mover struct {
	fs       afero.Fs
	resolver *Resolver
}

// NewMover creates a mover over fs.
func NewMover(fs afero.Fs, resolver *Resolver) *Mover {
	return &Mover{fs: fs, resolver: resolver}
}

// Move moves source into destDir and returns the file's new path.
// destDir is created if it does not exist. When rename cannot cross
// filesystems the file is copied to a temporary name inside destDir and
// renamed into place once complete, so destDir never holds a partial file.
func (m *Mover) Move(source, destDir string, policy DuplicatePolicy) (string, error) {
	source = filepath.Clean(source)
	info, err := m.fs.Stat(source)
	if err != nil {
		return "", errors.NewActionError("move", "cannot stat source", source, classify(err), err)
	}
	if !info.Mode().IsRegular() {
		return "", errors.NewActionError("move", "source is not a regular file", source, errors.InvalidOperation, nil)
	}

	if err := m.fs.MkdirAll(destDir, dirPerm); err != nil {
		return "", errors.NewActionError("move", "cannot create destination directory", destDir, classify(err), err)
	}

	candidate := filepath.Join(destDir, filepath.Base(source))
	if candidate == source {
		log.Debugf("%s is already in %s", source, destDir)
		return source, nil
	}

	res, err := m.resolver.Resolve(candidate, policy)
	if err != nil {
		return "", err
	}

	if res.Kind == OverwriteAt {
		log.Warnf("Overwriting %s", res.Path)
		if err := m.fs.Remove(res.Path); err != nil && !os.IsNotExist(err) {
			return "", errors.NewActionError("move", "cannot replace existing file", res.Path, classify(err), err)
		}
	}

	if err := m.rename(source, res.Path, info); err != nil {
		return "", err
	}
	log.Debugf("Moved %s -> %s", source, res.Path)
	return res.Path, nil
}

func (m *Mover) rename(source, target string, info os.FileInfo) error {
	err := m.fs.Rename(source, target)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EXDEV) {
		log.Debugf("%s crosses filesystems, copying %s", source, units.HumanSize(float64(info.Size())))
		return m.copyAcross(source, target, info.Mode().Perm())
	}
	return errors.NewActionError("move", "cannot rename", source, classify(err), err)
}

// copyAcross copies source to target through a temporary file in the
// target directory, then removes source.
func (m *Mover) copyAcross(source, target string, perm os.FileMode) error {
	in, err := m.fs.Open(source)
	if err != nil {
		return errors.NewActionError("move", "cannot open source", source, classify(err), err)
	}
	defer in.Close()

	tmp, err := afero.TempFile(m.fs, filepath.Dir(target), tempPattern)
	if err != nil {
		return errors.NewActionError("move", "cannot create temporary file", target, classify(err), err)
	}
	tmpName := tmp.Name()

	fail := func(msg string, cause error) error {
		_ = tmp.Close()
		if rmErr := m.fs.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			log.LogWithError(rmErr).Warnf("Could not remove temporary file %s", tmpName)
		}
		return errors.NewActionError("move", msg, source, errors.PartialCopy, cause)
	}

	if _, err := io.Copy(tmp, in); err != nil {
		return fail("copy interrupted", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("cannot flush copy", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("cannot close copy", err)
	}
	if err := m.fs.Chmod(tmpName, perm); err != nil {
		return fail("cannot set permissions on copy", err)
	}
	if err := m.fs.Rename(tmpName, target); err != nil {
		return fail("cannot rename copy into place", err)
	}

	if err := m.fs.Remove(source); err != nil {
		// The source is still in place, so drop the copy.
		if rmErr := m.fs.Remove(target); rmErr != nil {
			log.LogWithError(rmErr).Warnf("Could not remove copy %s", target)
		}
		return errors.NewActionError("move", "cannot remove source after copy", source, errors.PartialCopy, err)
	}
	return nil
}

// classify maps a filesystem error onto an error kind.
func classify(err error) errors.ErrorKind {
	switch {
	case os.IsNotExist(err):
		return errors.FileNotFound
	case os.IsPermission(err):
		return errors.FileAccessDenied
	}
	return errors.IOFailure
}
