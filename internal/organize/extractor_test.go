package organize

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"downsort/internal/errors"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name    string
	body    string
	mode    os.FileMode
	comment string
}

func zipBytes(t *testing.T, method uint16, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: method, Comment: e.comment}
		if e.mode != 0 {
			hdr.SetMode(e.mode)
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarBytes(t *testing.T, gzipped bool, headers ...*tar.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	var gz *gzip.Writer
	tw := tar.NewWriter(&buf)
	if gzipped {
		gz = gzip.NewWriter(&buf)
		tw = tar.NewWriter(gz)
	}
	for _, h := range headers {
		// Regular files carry their own name as content.
		if h.Typeflag == tar.TypeReg {
			h.Size = int64(len(h.Name))
		}
		require.NoError(t, tw.WriteHeader(h))
		if h.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(h.Name))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	if gz != nil {
		require.NoError(t, gz.Close())
	}
	return buf.Bytes()
}

func readString(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestExtractZip(t *testing.T) {
	fs := afero.NewMemMapFs()
	archive := zipBytes(t, zip.Deflate,
		entry{name: "docs/"},
		entry{name: "docs/readme.txt", body: "read me", comment: "top level docs"},
		entry{name: "bin/run.sh", body: "#!/bin/sh", mode: 0o755},
		entry{name: "plain.txt", body: "plain"},
	)
	require.NoError(t, afero.WriteFile(fs, "/in/bundle.zip", archive, 0o644))

	err := NewExtractor(fs, 0).Extract("/in/bundle.zip", "/out/archive-new")
	require.NoError(t, err)

	assert.Equal(t, "read me", readString(t, fs, "/out/archive-new/docs/readme.txt"))
	assert.Equal(t, "plain", readString(t, fs, "/out/archive-new/plain.txt"))

	info, err := fs.Stat("/out/archive-new/bin/run.sh")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	exists, err := afero.Exists(fs, "/in/bundle.zip")
	require.NoError(t, err)
	assert.True(t, exists, "archive is left in place")
}

func TestExtractZipTraversal(t *testing.T) {
	for _, name := range []string{"../escape.txt", "a/../../escape.txt", "/etc/escape.txt", `..\escape.txt`} {
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			archive := zipBytes(t, zip.Deflate,
				entry{name: "good.txt", body: "fine"},
				entry{name: name, body: "evil"},
			)
			require.NoError(t, afero.WriteFile(fs, "/in/evil.zip", archive, 0o644))

			err := NewExtractor(fs, 0).Extract("/in/evil.zip", "/out/dest")
			require.Error(t, err)
			assert.Equal(t, errors.TraversalViolation, errors.KindOf(err))

			for _, p := range []string{"/out/escape.txt", "/escape.txt", "/etc/escape.txt", "/out/dest/good.txt"} {
				exists, err := afero.Exists(fs, p)
				require.NoError(t, err)
				assert.False(t, exists, "%s should not be written", p)
			}
		})
	}
}

func TestExtractZipSymlinkRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	archive := zipBytes(t, zip.Store, entry{name: "link", body: "/etc/passwd", mode: os.ModeSymlink | 0o777})
	require.NoError(t, afero.WriteFile(fs, "/in/link.zip", archive, 0o644))

	err := NewExtractor(fs, 0).Extract("/in/link.zip", "/out")
	require.Error(t, err)
	assert.Equal(t, errors.TraversalViolation, errors.KindOf(err))
}

func TestExtractRefusesExistingSymlinks(t *testing.T) {
	tests := []struct {
		name    string
		archive string
		build   func(t *testing.T) []byte
	}{
		{"zip through linked dir", "bundle.zip", func(t *testing.T) []byte {
			return zipBytes(t, zip.Deflate, entry{name: "evil/pwned.txt", body: "pwned"})
		}},
		{"zip onto linked file", "bundle.zip", func(t *testing.T) []byte {
			return zipBytes(t, zip.Deflate, entry{name: "link.txt", body: "pwned"})
		}},
		{"tar through linked dir", "bundle.tar.gz", func(t *testing.T) []byte {
			return tarBytes(t, true, &tar.Header{Name: "evil/pwned.txt", Typeflag: tar.TypeReg, Mode: 0o644})
		}},
		{"tar dir inside linked dir", "bundle.tar", func(t *testing.T) []byte {
			return tarBytes(t, false, &tar.Header{Name: "evil/sub/", Typeflag: tar.TypeDir, Mode: 0o755})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			outside := filepath.Join(root, "outside")
			dest := filepath.Join(root, "dest")
			require.NoError(t, os.MkdirAll(outside, 0o755))
			require.NoError(t, os.MkdirAll(dest, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(outside, "target.txt"), []byte("keep"), 0o644))
			require.NoError(t, os.Symlink(outside, filepath.Join(dest, "evil")))
			require.NoError(t, os.Symlink(filepath.Join(outside, "target.txt"), filepath.Join(dest, "link.txt")))

			archive := filepath.Join(root, tt.archive)
			require.NoError(t, os.WriteFile(archive, tt.build(t), 0o644))

			err := NewExtractor(afero.NewOsFs(), 0).Extract(archive, dest)
			require.Error(t, err)
			assert.Equal(t, errors.TraversalViolation, errors.KindOf(err))

			assert.NoFileExists(t, filepath.Join(outside, "pwned.txt"))
			assert.NoDirExists(t, filepath.Join(outside, "sub"))
			data, err := os.ReadFile(filepath.Join(outside, "target.txt"))
			require.NoError(t, err)
			assert.Equal(t, "keep", string(data))
		})
	}
}

func TestExtractZipCorrupt(t *testing.T) {
	t.Run("not an archive", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/in/broken.zip", []byte("this is not a zip file"), 0o644))

		err := NewExtractor(fs, 0).Extract("/in/broken.zip", "/out")
		require.Error(t, err)
		assert.Equal(t, errors.ArchiveCorrupt, errors.KindOf(err))
	})

	t.Run("bad entry data", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		payload := "payload that will be damaged"
		archive := zipBytes(t, zip.Store, entry{name: "data.bin", body: payload})
		i := bytes.Index(archive, []byte(payload))
		require.GreaterOrEqual(t, i, 0)
		archive[i] ^= 0xff
		require.NoError(t, afero.WriteFile(fs, "/in/damaged.zip", archive, 0o644))

		err := NewExtractor(fs, 0).Extract("/in/damaged.zip", "/out")
		require.Error(t, err)
		assert.Equal(t, errors.ArchiveCorrupt, errors.KindOf(err))
	})
}

func TestExtractSizeLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	archive := zipBytes(t, zip.Deflate,
		entry{name: "a.txt", body: "0123456789"},
		entry{name: "b.txt", body: "0123456789"},
	)
	require.NoError(t, afero.WriteFile(fs, "/in/big.zip", archive, 0o644))

	err := NewExtractor(fs, 15).Extract("/in/big.zip", "/out")
	require.Error(t, err)
	assert.Equal(t, errors.IOFailure, errors.KindOf(err))
	assert.Contains(t, err.Error(), "size limit")

	require.NoError(t, NewExtractor(fs, 20).Extract("/in/big.zip", "/out2"))
}

func TestExtractTar(t *testing.T) {
	for _, tc := range []struct {
		name    string
		gzipped bool
	}{
		{"bundle.tar", false},
		{"bundle.tar.gz", true},
		{"bundle.tgz", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			archive := tarBytes(t, tc.gzipped,
				&tar.Header{Name: "src/", Typeflag: tar.TypeDir, Mode: 0o755},
				&tar.Header{Name: "src/main.go", Typeflag: tar.TypeReg, Mode: 0o600},
			)
			require.NoError(t, afero.WriteFile(fs, "/in/"+tc.name, archive, 0o644))

			require.NoError(t, NewExtractor(fs, 0).Extract("/in/"+tc.name, "/out"))
			assert.Equal(t, "src/main.go", readString(t, fs, "/out/src/main.go"))

			info, err := fs.Stat("/out/src/main.go")
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
		})
	}
}

func TestExtractTarRejectsBeforeWriting(t *testing.T) {
	tests := []struct {
		name string
		hdr  *tar.Header
		kind errors.ErrorKind
	}{
		{"traversal", &tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Mode: 0o644}, errors.TraversalViolation},
		{"symlink", &tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"}, errors.TraversalViolation},
		{"hardlink", &tar.Header{Name: "hard", Typeflag: tar.TypeLink, Linkname: "first.txt"}, errors.TraversalViolation},
		{"fifo", &tar.Header{Name: "pipe", Typeflag: tar.TypeFifo, Mode: 0o644}, errors.IOFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			archive := tarBytes(t, false,
				&tar.Header{Name: "first.txt", Typeflag: tar.TypeReg, Mode: 0o644},
				tt.hdr,
			)
			require.NoError(t, afero.WriteFile(fs, "/in/a.tar", archive, 0o644))

			err := NewExtractor(fs, 0).Extract("/in/a.tar", "/out/dest")
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))

			exists, err := afero.Exists(fs, "/out/dest/first.txt")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestExtractTarCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/broken.tar.gz", []byte("definitely not gzip"), 0o644))

	err := NewExtractor(fs, 0).Extract("/in/broken.tar.gz", "/out")
	require.Error(t, err)
	assert.Equal(t, errors.ArchiveCorrupt, errors.KindOf(err))
}

func TestExtractMissingArchive(t *testing.T) {
	err := NewExtractor(afero.NewMemMapFs(), 0).Extract("/in/none.zip", "/out")
	require.Error(t, err)
	assert.Equal(t, errors.FileNotFound, errors.KindOf(err))
}

func TestSafeJoin(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"a.txt", "/dest/a.txt", true},
		{"dir/sub/a.txt", "/dest/dir/sub/a.txt", true},
		{"dir/../a.txt", "/dest/a.txt", true},
		{"./a.txt", "/dest/a.txt", true},
		{"../a.txt", "", false},
		{"dir/../../a.txt", "", false},
		{"/abs.txt", "", false},
		{"..", "", false},
		{"", "", false},
		{"..foo/a.txt", "/dest/..foo/a.txt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := safeJoin("/dest", tt.name)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
