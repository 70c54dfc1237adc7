package installroot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCreatesRootSubdir(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "root"), r.Path)
	require.DirExists(t, r.Path)
}

func TestJoinRootStripsLeadingSlash(t *testing.T) {
	require.Equal(t, filepath.Join("/root", "var/log"), joinRoot("/root", "/var/log"))
	require.Equal(t, filepath.Join("/root", "var/log"), joinRoot("/root", "var/log"))
}

func TestRemoveDocsToleratesMissingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr/share/doc/foo"), 0o755))
	present := filepath.Join(root, "usr/share/doc/foo/README")
	require.NoError(t, os.WriteFile(present, []byte("docs"), 0o644))

	err := removeDocs(root, []string{"/usr/share/doc/foo/README", "/usr/share/doc/foo/MISSING"})
	require.NoError(t, err)
	require.NoFileExists(t, present)
}

func TestCleanEmptiesCacheLogAndTmpDirs(t *testing.T) {
	root := t.TempDir()
	r := &Root{Path: root}
	for _, d := range []string{"var/cache/dnf", "var/log/dnf.log", "var/tmp/leftover"} {
		full := filepath.Join(root, d)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
	require.NoError(t, r.Clean())

	for _, d := range []string{"var/cache", "var/log", "var/tmp"} {
		entries, err := os.ReadDir(filepath.Join(root, d))
		require.NoError(t, err)
		require.Empty(t, entries)
	}
}

func TestCleanRemovesDnfLockState(t *testing.T) {
	root := t.TempDir()
	r := &Root{Path: root}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/lib/dnf"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/lib/rpm"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "var/lib/rpm/.rpm.lock"), nil, 0o644))

	require.NoError(t, r.Clean())
	require.NoDirExists(t, filepath.Join(root, "var/lib/dnf"))
	require.NoFileExists(t, filepath.Join(root, "var/lib/rpm/.rpm.lock"))
}

func TestIsSQLiteFileDetectsMagicHeader(t *testing.T) {
	dir := t.TempDir()
	sqlitePath := filepath.Join(dir, "rpmdb.sqlite")
	require.NoError(t, os.WriteFile(sqlitePath, append([]byte("SQLite format 3\x00"), []byte("rest")...), 0o644))
	ok, err := isSQLiteFile(sqlitePath)
	require.NoError(t, err)
	require.True(t, ok)

	bdbPath := filepath.Join(dir, "Packages")
	require.NoError(t, os.WriteFile(bdbPath, []byte("not sqlite at all"), 0o644))
	ok, err = isSQLiteFile(bdbPath)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanonicalizeRPMDBSkipsMissingCandidates(t *testing.T) {
	root := t.TempDir()
	r := &Root{Path: root}
	require.NoError(t, r.CanonicalizeRPMDB(context.Background()))
}
