package organize

import (
	"archive/tar"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"downsort/internal/errors"
	"downsort/internal/log"

	"github.com/docker/go-units"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

const (
	defaultFilePerm = 0o644
	// entries never become group or world writable
	permMask = 0o022
)

// Extractor unpacks zip and tar archives. Every entry path is checked
// against the destination before it is written, and link entries are
// refused, so extraction never writes outside the destination directory.
type Extractor struct {
	fs      afero.Fs
	maxSize int64
}

// NewExtractor creates an extractor over fs. maxSize caps the total
// uncompressed bytes written per archive; zero or less means no cap.
func NewExtractor(fs afero.Fs, maxSize int64) *Extractor {
	return &Extractor{fs: fs, maxSize: maxSize}
}

// Extract unpacks archivePath into destDir, creating destDir if needed.
// The archive itself is left in place. A failure part way through may
// leave some entries extracted.
func (x *Extractor) Extract(archivePath, destDir string) error {
	info, err := x.fs.Stat(archivePath)
	if err != nil {
		return errors.NewActionError("unzip", "cannot stat archive", archivePath, classify(err), err)
	}
	if info.IsDir() {
		return errors.NewActionError("unzip", "archive is a directory", archivePath, errors.InvalidOperation, nil)
	}
	if err := x.fs.MkdirAll(destDir, dirPerm); err != nil {
		return errors.NewActionError("unzip", "cannot create destination directory", destDir, errors.IOFailure, err)
	}

	if isTarName(archivePath) {
		return x.extractTar(archivePath, destDir)
	}
	return x.extractZip(archivePath, info.Size(), destDir)
}

func isTarName(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".tar", ".tar.gz", ".tgz"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func isGzipName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".tgz")
}

func (x *Extractor) extractZip(archivePath string, size int64, destDir string) error {
	f, err := x.fs.Open(archivePath)
	if err != nil {
		return errors.NewActionError("unzip", "cannot open archive", archivePath, classify(err), err)
	}
	defer f.Close()

	zr, err := zip.NewReader(f, size)
	if err == zip.ErrInsecurePath {
		return errors.NewActionError("unzip", "entry escapes destination", archivePath, errors.TraversalViolation, err)
	}
	if err != nil {
		return errors.NewActionError("unzip", "unreadable archive", archivePath, errors.ArchiveCorrupt, err)
	}

	targets := make([]string, len(zr.File))
	for i, zf := range zr.File {
		target, err := safeJoin(destDir, zf.Name)
		if err != nil {
			return errors.NewActionError("unzip", "entry escapes destination", archivePath, errors.TraversalViolation, err)
		}
		if zf.Mode()&os.ModeSymlink != 0 {
			return errors.NewActionError("unzip", "link entry "+zf.Name, archivePath, errors.TraversalViolation, nil)
		}
		targets[i] = target
	}

	w := x.newWriter(archivePath, destDir)
	for i, zf := range zr.File {
		if zf.Comment != "" {
			log.Debugf("%s: %s: %s", filepath.Base(archivePath), zf.Name, zf.Comment)
		}
		if zf.FileInfo().IsDir() {
			if err := w.mkdir(targets[i]); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return errors.NewActionError("unzip", "unreadable entry "+zf.Name, archivePath, errors.ArchiveCorrupt, err)
		}
		err = w.writeFile(targets[i], rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	log.Debugf("Extracted %d entries (%s) from %s", len(zr.File), units.HumanSize(float64(w.written)), archivePath)
	return nil
}

func (x *Extractor) extractTar(archivePath, destDir string) error {
	// First pass validates every header so a bad archive writes nothing.
	err := x.walkTar(archivePath, func(hdr *tar.Header, _ io.Reader) error {
		if _, err := safeJoin(destDir, hdr.Name); err != nil {
			return errors.NewActionError("unzip", "entry escapes destination", archivePath, errors.TraversalViolation, err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir, tar.TypeReg, tar.TypeXGlobalHeader:
			return nil
		case tar.TypeSymlink, tar.TypeLink:
			return errors.NewActionError("unzip", "link entry "+hdr.Name, archivePath, errors.TraversalViolation, nil)
		}
		return errors.NewActionError("unzip", "unsupported entry type for "+hdr.Name, archivePath, errors.IOFailure, nil)
	})
	if err != nil {
		return err
	}

	w := x.newWriter(archivePath, destDir)
	count := 0
	err = x.walkTar(archivePath, func(hdr *tar.Header, r io.Reader) error {
		target, _ := safeJoin(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			count++
			return w.mkdir(target)
		case tar.TypeReg:
			count++
			return w.writeFile(target, r, hdr.FileInfo().Mode().Perm())
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Debugf("Extracted %d entries (%s) from %s", count, units.HumanSize(float64(w.written)), archivePath)
	return nil
}

// walkTar calls fn for every header in the archive, with a reader for
// the entry's data.
func (x *Extractor) walkTar(archivePath string, fn func(*tar.Header, io.Reader) error) error {
	f, err := x.fs.Open(archivePath)
	if err != nil {
		return errors.NewActionError("unzip", "cannot open archive", archivePath, classify(err), err)
	}
	defer f.Close()

	var r io.Reader = f
	if isGzipName(archivePath) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.NewActionError("unzip", "unreadable archive", archivePath, errors.ArchiveCorrupt, err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err == tar.ErrInsecurePath {
			return errors.NewActionError("unzip", "entry escapes destination", archivePath, errors.TraversalViolation, err)
		}
		if err != nil {
			return errors.NewActionError("unzip", "unreadable archive", archivePath, errors.ArchiveCorrupt, err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// safeJoin joins an archive entry name onto destDir and rejects names
// that would land outside it.
func safeJoin(destDir, name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if slashed == "" {
		return "", errors.New("empty entry name")
	}
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", errors.Newf("absolute entry name %q", name)
	}
	target := filepath.Join(destDir, filepath.FromSlash(slashed))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf("entry %q resolves outside %s", name, destDir)
	}
	return target, nil
}

// entryWriter writes extracted entries and enforces the size cap across
// a whole archive.
type entryWriter struct {
	fs      afero.Fs
	archive string
	destDir string
	maxSize int64
	written int64
}

func (x *Extractor) newWriter(archivePath, destDir string) *entryWriter {
	return &entryWriter{fs: x.fs, archive: archivePath, destDir: destDir, maxSize: x.maxSize}
}

// refuseLinks fails if any existing component of p below destDir is a
// symlink, since writing through it could land outside destDir.
func (w *entryWriter) refuseLinks(p string) error {
	lst, ok := w.fs.(afero.Lstater)
	if !ok {
		return nil
	}
	rel, err := filepath.Rel(w.destDir, p)
	if err != nil {
		return errors.NewActionError("unzip", "entry escapes destination", w.archive, errors.TraversalViolation, err)
	}
	if rel == "." {
		return nil
	}
	cur := w.destDir
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, _, err := lst.LstatIfPossible(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return errors.NewActionError("unzip", "cannot check "+cur, w.archive, classify(err), err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return errors.NewActionError("unzip", "entry path goes through symlink "+cur, w.archive, errors.TraversalViolation, nil)
		}
	}
	return nil
}

func (w *entryWriter) mkdir(dir string) error {
	if err := w.refuseLinks(dir); err != nil {
		return err
	}
	if err := w.fs.MkdirAll(dir, dirPerm); err != nil {
		return errors.NewActionError("unzip", "cannot create directory "+dir, w.archive, errors.IOFailure, err)
	}
	return nil
}

func (w *entryWriter) writeFile(target string, r io.Reader, perm os.FileMode) error {
	perm &^= permMask
	if perm == 0 {
		perm = defaultFilePerm
	}
	if err := w.refuseLinks(target); err != nil {
		return err
	}
	if err := w.fs.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return errors.NewActionError("unzip", "cannot create directory "+filepath.Dir(target), w.archive, errors.IOFailure, err)
	}
	out, err := w.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return errors.NewActionError("unzip", "cannot create "+target, w.archive, errors.IOFailure, err)
	}

	src := &sourceReader{r: r}
	var in io.Reader = src
	if w.maxSize > 0 {
		in = io.LimitReader(src, w.maxSize-w.written+1)
	}
	n, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	w.written += n

	switch {
	case src.err != nil:
		return errors.NewActionError("unzip", "corrupt entry data for "+target, w.archive, errors.ArchiveCorrupt, src.err)
	case copyErr != nil:
		return errors.NewActionError("unzip", "cannot write "+target, w.archive, errors.IOFailure, copyErr)
	case closeErr != nil:
		return errors.NewActionError("unzip", "cannot write "+target, w.archive, errors.IOFailure, closeErr)
	case w.maxSize > 0 && w.written > w.maxSize:
		return errors.NewActionError("unzip", "archive exceeds size limit of "+units.HumanSize(float64(w.maxSize)), w.archive, errors.IOFailure, nil)
	}

	if err := w.fs.Chmod(target, perm); err != nil {
		return errors.NewActionError("unzip", "cannot set permissions on "+target, w.archive, errors.IOFailure, err)
	}
	return nil
}

// sourceReader remembers read errors so they can be told apart from
// write errors after io.Copy returns.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}
