package organize

import (
	"downsort/internal/errors"
	"downsort/internal/log"

	"github.com/spf13/afero"
)

// Deleter removes single files.
type Deleter struct {
	fs afero.Fs
}

func NewDeleter(fs afero.Fs) *Deleter {
	return &Deleter{fs: fs}
}

// Delete removes the file at path. It refuses directories.
func (d *Deleter) Delete(path string) error {
	info, err := d.fs.Stat(path)
	if err != nil {
		return errors.NewActionError("delete", "cannot stat", path, classify(err), err)
	}
	if info.IsDir() {
		return errors.NewActionError("delete", "refusing to delete a directory", path, errors.InvalidOperation, nil)
	}
	if err := d.fs.Remove(path); err != nil {
		return errors.NewActionError("delete", "cannot remove", path, classify(err), err)
	}
	log.Debugf("Deleted %s", path)
	return nil
}
