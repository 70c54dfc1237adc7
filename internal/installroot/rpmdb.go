package installroot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// rpmdbCandidates lists the locations the RPM database's SQLite backend
// may live at, across the rpm/dnf versions this tool targets: the legacy
// path and the newer sysimage path.
var rpmdbCandidates = []string{
	"var/lib/rpm/rpmdb.sqlite",
	"usr/lib/sysimage/rpm/rpmdb.sqlite",
}

// sqliteMagic is the 16-byte "SQLite format 3\000" header every SQLite
// file begins with.
var sqliteMagic = []byte("SQLite format 3\x00")

// CanonicalizeRPMDB rewrites the installroot's RPM database, if it is
// SQLite-backed, via VACUUM so that two installs of the same packages in
// the same order produce byte-identical database files. The
// canonicalization pass shells out to the system's own sqlite3 binary
// rather than duplicating VACUUM in-process.
func (r *Root) CanonicalizeRPMDB(ctx context.Context) error {
	for _, candidate := range rpmdbCandidates {
		path := joinRoot(r.Path, candidate)
		isSQLite, err := isSQLiteFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("inspecting %s: %w", path, err)
		}
		if !isSQLite {
			continue
		}
		if err := vacuum(ctx, path); err != nil {
			return fmt.Errorf("canonicalizing %s: %w", path, err)
		}
		logrus.Debugf("canonicalized RPM database at %s", path)
	}
	return nil
}

func isSQLiteFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	buf := make([]byte, len(sqliteMagic))
	if _, err := f.Read(buf); err != nil {
		return false, nil
	}
	for i, b := range sqliteMagic {
		if buf[i] != b {
			return false, nil
		}
	}
	return true, nil
}

func vacuum(ctx context.Context, path string) error {
	bin, err := exec.LookPath("sqlite3")
	if err != nil {
		return fmt.Errorf("sqlite3 not found in PATH: %w", err)
	}
	// PRAGMA journal_mode=DELETE collapses any WAL file dnf left open
	// before VACUUM zeroes out free pages, matching build.rs's fix-up
	// for the WAL/journal files dnf's sqlite backend otherwise leaves
	// sitting alongside rpmdb.sqlite.
	cmd := exec.CommandContext(ctx, bin, path, "PRAGMA journal_mode=DELETE; VACUUM;")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, out)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(path + suffix)
	}
	return nil
}
