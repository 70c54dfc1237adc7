// Package installroot prepares the fresh root directory packages are
// installed into before layering, and applies the determinism fix-ups a
// reproducible layer needs: documentation stripping, RPM-database
// canonicalization, and cache/log cleanup.
package installroot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	rpmutils "github.com/sassoftware/go-rpmutils"
	"github.com/sirupsen/logrus"

	"github.com/opencontainers/go-digest"
	"github.com/rpmoci/rpmoci/internal/resolver"
	"github.com/rpmoci/rpmoci/internal/vendorstore"
)

// cleanDirs are the package manager's own cache and log directories,
// emptied after install so they don't leak into the layer.
var cleanDirs = []string{
	"var/cache",
	"var/log",
	"var/tmp",
}

// Root is a freshly created installroot directory.
type Root struct {
	Path string
}

// New creates "<dir>/root" and returns a handle to it.
func New(dir string) (*Root, error) {
	path := filepath.Join(dir, "root")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating installroot: %w", err)
	}
	return &Root{Path: path}, nil
}

func joinRoot(root, path string) string {
	return filepath.Join(root, strings.TrimPrefix(path, "/"))
}

// Install delegates to the resolver to install exactly the resolved
// packages into the installroot.
func (r *Root) Install(ctx context.Context, rv resolver.Resolver, resolved *resolver.ResolvedSet) error {
	return rv.Install(ctx, resolved, r.Path)
}

// StripDocs deletes every path the resolved packages mark as
// documentation, reading each package's header out of the vendor store
// rather than re-querying the installed RPM database.
func (r *Root) StripDocs(store *vendorstore.Store, resolved *resolver.ResolvedSet) error {
	for _, pkg := range resolved.Packages {
		d, err := digest.Parse(pkg.Checksum.Type + ":" + pkg.Checksum.Hex)
		if err != nil {
			return fmt.Errorf("parsing checksum for %s: %w", pkg.Name, err)
		}
		f, err := os.Open(store.Path(d))
		if err != nil {
			return fmt.Errorf("opening vendored %s to strip docs: %w", pkg.Name, err)
		}
		rpm, err := rpmutils.ReadRpm(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("reading header of %s: %w", pkg.Name, err)
		}
		paths, err := docPaths(rpm)
		f.Close()
		if err != nil {
			return fmt.Errorf("reading doc list of %s: %w", pkg.Name, err)
		}
		if err := removeDocs(r.Path, paths); err != nil {
			return fmt.Errorf("removing docs of %s: %w", pkg.Name, err)
		}
	}
	return nil
}

// Clean empties the package manager's cache and log directories so they
// don't leak non-deterministic state into the layer.
func (r *Root) Clean() error {
	for _, d := range cleanDirs {
		path := joinRoot(r.Path, d)
		entries, err := os.ReadDir(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading %s: %w", path, err)
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
				return fmt.Errorf("cleaning %s: %w", path, err)
			}
		}
	}
	return r.removeDnfLockState()
}

// removeDnfLockState deletes var/lib/dnf and the RPM transaction lock
// file, both of which otherwise vary between otherwise-identical installs.
func (r *Root) removeDnfLockState() error {
	targets := []string{
		joinRoot(r.Path, "var/lib/dnf"),
		joinRoot(r.Path, "var/lib/rpm/.rpm.lock"),
	}
	for _, t := range targets {
		if err := os.RemoveAll(t); err != nil {
			return fmt.Errorf("removing %s: %w", t, err)
		}
	}
	return nil
}

// Finalize runs the full fix-up sequence: optional doc stripping,
// RPM-database canonicalization, then cache/log cleanup.
func (r *Root) Finalize(ctx context.Context, store *vendorstore.Store, resolved *resolver.ResolvedSet, stripDocs bool) error {
	if stripDocs {
		logrus.Debug("stripping documentation files from installroot")
		if err := r.StripDocs(store, resolved); err != nil {
			return err
		}
	}
	if err := r.CanonicalizeRPMDB(ctx); err != nil {
		return err
	}
	return r.Clean()
}
