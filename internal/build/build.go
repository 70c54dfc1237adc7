// Package build sequences the resolve → download → install → layer →
// OCI-layout pipeline into the three top-level operations: build,
// update, and vendor.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/rpmoci/rpmoci/internal/installroot"
	"github.com/rpmoci/rpmoci/internal/layer"
	"github.com/rpmoci/rpmoci/internal/manifest"
	"github.com/rpmoci/rpmoci/internal/ocilayout"
	"github.com/rpmoci/rpmoci/internal/repo"
	"github.com/rpmoci/rpmoci/internal/resolver"
	"github.com/rpmoci/rpmoci/internal/rpmociutil"
	"github.com/rpmoci/rpmoci/internal/vendorstore"
)

// Options carries the flags shared by build/update/vendor across the CLI
// boundary.
type Options struct {
	ManifestPath string
	LockfilePath string
	VendorDir    string
	Locked       bool
	Tag          string
}

func (o Options) manifestPath() string {
	if o.ManifestPath != "" {
		return o.ManifestPath
	}
	return "rpmoci.toml"
}

func (o Options) lockfilePath() string {
	if o.LockfilePath != "" {
		return o.LockfilePath
	}
	return "rpmoci.lock"
}

func (o Options) vendorDir() string {
	if o.VendorDir != "" {
		return o.VendorDir
	}
	return ".rpmoci/vendor"
}

// buildTimestamp returns the canonical mtime/created value every entry
// and document in the image is pinned to: SOURCE_DATE_EPOCH if set,
// otherwise now.
func buildTimestamp() time.Time {
	if v := os.Getenv("SOURCE_DATE_EPOCH"); v != "" {
		var sec int64
		if _, err := fmt.Sscanf(v, "%d", &sec); err == nil {
			return time.Unix(sec, 0).UTC()
		}
	}
	return time.Now().UTC()
}

// loadOrResolve loads the manifest, then either reuses a compatible
// on-disk lockfile or re-resolves and rewrites it.
func loadOrResolve(ctx context.Context, rv resolver.Resolver, opts Options) (*manifest.Manifest, *manifest.Lockfile, error) {
	m, err := manifest.Load(opts.manifestPath())
	if err != nil {
		return nil, nil, rpmociutil.Wrapf(rpmociutil.KindConfiguration, "loading manifest: %w", err)
	}

	existing, err := manifest.LoadLockfile(opts.lockfilePath())
	if err != nil {
		return nil, nil, rpmociutil.Wrapf(rpmociutil.KindFilesystem, "loading lockfile: %w", err)
	}

	if existing != nil && existing.CompatibleWith(m) {
		logrus.Debug("existing lockfile is compatible with the manifest")
		return m, existing, nil
	}
	if opts.Locked {
		return nil, nil, rpmociutil.Wrapf(rpmociutil.KindLockfileIncompatible,
			"lockfile %s is missing or incompatible with the manifest, and --locked was given", opts.lockfilePath())
	}

	lf, err := resolveLockfile(ctx, rv, m)
	if err != nil {
		return nil, nil, err
	}
	if err := lf.WriteFile(opts.lockfilePath()); err != nil {
		return nil, nil, rpmociutil.Wrapf(rpmociutil.KindFilesystem, "writing lockfile: %w", err)
	}
	return m, lf, nil
}

// resolveLockfile calls the resolver and translates its output into a
// manifest.Lockfile, stamping it with the manifest's compatibility
// fingerprint.
func resolveLockfile(ctx context.Context, rv resolver.Resolver, m *manifest.Manifest) (*manifest.Lockfile, error) {
	handles, err := repo.NormalizeAll(m.Contents.Repositories)
	if err != nil {
		return nil, rpmociutil.Wrapf(rpmociutil.KindConfiguration, "normalizing repositories: %w", err)
	}

	rs, err := rv.Resolve(ctx, handles, m.Contents.GPGKeys, m.Contents.Packages, resolver.Options{
		OSRelease: m.Contents.OSReleaseEnabled(),
	})
	if err != nil {
		return nil, rpmociutil.Wrapf(rpmociutil.KindResolution, "resolving packages: %w", err)
	}

	lf := &manifest.Lockfile{
		GPGKeys:     append([]string{}, m.Contents.GPGKeys...),
		Fingerprint: m.Fingerprint(),
	}
	for _, p := range rs.Packages {
		cfg := rs.RepoGPGConfig[p.RepoID]
		lf.Packages = append(lf.Packages, manifest.LockedPackage{
			Name:     p.Name,
			EVR:      p.EVR,
			Arch:     p.Arch,
			RepoID:   p.RepoID,
			URL:      p.URL,
			Checksum: p.Checksum,
			Unsigned: !cfg.GPGCheck,
		})
	}
	for _, lp := range rs.LocalPackages {
		lf.LocalPackages = append(lf.LocalPackages, manifest.LocalPackage{
			Path:     lp.Path,
			Checksum: lp.Checksum,
		})
	}
	return lf, nil
}

// toResolvedSet re-derives a resolver.ResolvedSet from a lockfile already
// on disk, so a `--locked` build never has to talk to the solver beyond
// downloading and installing exactly what's pinned.
func toResolvedSet(m *manifest.Manifest, lf *manifest.Lockfile) *resolver.ResolvedSet {
	rs := &resolver.ResolvedSet{RepoGPGConfig: map[string]resolver.RepoGPGConfig{}}
	for _, r := range m.Contents.Repositories {
		rs.RepoGPGConfig[r.ID] = resolver.RepoGPGConfig{GPGCheck: r.GPGCheckEnabled()}
	}
	for _, p := range lf.Packages {
		rs.Packages = append(rs.Packages, resolver.Package{
			Name:     p.Name,
			EVR:      p.EVR,
			Arch:     p.Arch,
			RepoID:   p.RepoID,
			URL:      p.URL,
			Checksum: p.Checksum,
			Unsigned: p.Unsigned,
		})
	}
	for _, lp := range lf.LocalPackages {
		rs.LocalPackages = append(rs.LocalPackages, resolver.LocalPackage{
			Path:     lp.Path,
			Checksum: lp.Checksum,
		})
	}
	return rs
}

// Update re-resolves the manifest unconditionally and rewrites the
// lockfile, without building an image.
func Update(ctx context.Context, rv resolver.Resolver, opts Options) error {
	m, err := manifest.Load(opts.manifestPath())
	if err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindConfiguration, "loading manifest: %w", err)
	}
	lf, err := resolveLockfile(ctx, rv, m)
	if err != nil {
		return err
	}
	if err := lf.WriteFile(opts.lockfilePath()); err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "writing lockfile: %w", err)
	}
	return nil
}

// Vendor ensures every package in the resolved set (re-resolving if no
// compatible lockfile exists and --locked wasn't given) is present in
// opts.VendorDir, named by content digest, and verified against the
// manifest's gpgkeys.
func Vendor(ctx context.Context, rv resolver.Resolver, opts Options) error {
	m, lf, err := loadOrResolve(ctx, rv, opts)
	if err != nil {
		return err
	}
	store, err := vendorstore.Open(opts.vendorDir())
	if err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "opening vendor store: %w", err)
	}
	keyring, err := buildKeyring(ctx, lf)
	if err != nil {
		return err
	}
	rs := toResolvedSet(m, lf)
	return downloadMissing(ctx, rv, store, rs, keyring)
}

// buildKeyring imports every gpgkey pinned in the lockfile into a single
// keyring, used to verify every package whose repo has gpgcheck enabled.
func buildKeyring(ctx context.Context, lf *manifest.Lockfile) (openpgp.EntityList, error) {
	keyring, err := repo.BuildKeyring(ctx, lf.GPGKeys)
	if err != nil {
		return nil, rpmociutil.Wrapf(rpmociutil.KindConfiguration, "building gpg keyring: %w", err)
	}
	return keyring, nil
}

// downloadMissing asks the resolver to download, in one bulk call, every
// resolved package not already present in the vendor store, then imports
// each downloaded file into the store under its content digest. Every freshly vendored package whose repo
// has gpgcheck enabled is verified against keyring immediately after it
// lands in the store; packages already present were verified the first
// time they were vendored, and local/Unsigned packages are never checked.
func downloadMissing(ctx context.Context, rv resolver.Resolver, store *vendorstore.Store, rs *resolver.ResolvedSet, keyring openpgp.EntityList) error {
	var missing []resolver.Package
	byDigest := make(map[digest.Digest]resolver.Package, len(rs.Packages))
	for _, p := range rs.Packages {
		d, err := checksumDigest(p.Checksum)
		if err != nil {
			return rpmociutil.Wrap(rpmociutil.KindConfiguration, err)
		}
		if !store.Has(d) {
			missing = append(missing, p)
			byDigest[d] = p
		}
	}
	if len(missing) == 0 {
		return nil
	}

	scratch, err := os.MkdirTemp("", "rpmoci-download-*")
	if err != nil {
		return rpmociutil.Wrap(rpmociutil.KindFilesystem, err)
	}
	defer os.RemoveAll(scratch)

	if err := rv.Download(ctx, &resolver.ResolvedSet{Packages: missing}, scratch); err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindResolution, "downloading packages: %w", err)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return rpmociutil.Wrap(rpmociutil.KindFilesystem, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(scratch, e.Name())
		d, err := store.Import(path, "")
		if err != nil {
			return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "importing downloaded %s into vendor store: %w", e.Name(), err)
		}
		p, ok := byDigest[d]
		if !ok || p.Unsigned {
			continue
		}
		if err := vendorstore.VerifySignature(store.Path(d), keyring); err != nil {
			return rpmociutil.Wrapf(rpmociutil.KindVerification, "%s-%s.%s: %w", p.Name, p.EVR, p.Arch, err)
		}
	}
	return nil
}

// Build loads (or creates) a lockfile, ensures every package is vendored
// and verified, has the resolver install the locked packages into a fresh
// installroot, layers it, and writes the resulting OCI image to outDir.
// The resolver installs from the enabled repositories by name-evr-arch;
// it does not install the files held in the vendor store.
func Build(ctx context.Context, rv resolver.Resolver, opts Options, outDir string) error {
	m, lf, err := loadOrResolve(ctx, rv, opts)
	if err != nil {
		return err
	}

	store, err := vendorstore.Open(opts.vendorDir())
	if err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "opening vendor store: %w", err)
	}
	keyring, err := buildKeyring(ctx, lf)
	if err != nil {
		return err
	}
	rs := toResolvedSet(m, lf)
	if err := downloadMissing(ctx, rv, store, rs, keyring); err != nil {
		return err
	}

	scratch := filepath.Join(os.TempDir(), "rpmoci-build-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "creating build scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	root, err := installroot.New(scratch)
	if err != nil {
		return rpmociutil.Wrap(rpmociutil.KindFilesystem, err)
	}
	if err := root.Install(ctx, rv, rs); err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindResolution, "installing packages: %w", err)
	}
	if err := root.Finalize(ctx, store, rs, !m.Contents.DocsEnabled()); err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "finalizing installroot: %w", err)
	}

	created := buildTimestamp()

	l, err := ocilayout.Create(outDir)
	if err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "initializing OCI layout: %w", err)
	}

	layerStage, err := l.NewBlobStaging()
	if err != nil {
		return rpmociutil.Wrap(rpmociutil.KindFilesystem, err)
	}
	result, err := layer.Write(root.Path, created, layerStage)
	if closeErr := layerStage.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(layerStage.Name())
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "building layer: %w", err)
	}
	layerDesc, err := l.CommitBlob(layerStage.Name(), "application/vnd.oci.image.layer.v1.tar+gzip", result.Digest, result.Size)
	if err != nil {
		return rpmociutil.Wrap(rpmociutil.KindFilesystem, err)
	}

	config := ocilayout.BuildConfig(m.Image, result.DiffID, created)
	configDesc, err := l.WriteJSONBlob(config, "application/vnd.oci.image.config.v1+json")
	if err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "writing config blob: %w", err)
	}

	imgManifest := ocilayout.BuildManifest(configDesc, layerDesc)
	manifestDesc, err := l.WriteJSONBlob(imgManifest, "application/vnd.oci.image.manifest.v1+json")
	if err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindFilesystem, "writing manifest blob: %w", err)
	}

	if err := l.WriteIndex(manifestDesc, opts.Tag); err != nil {
		return rpmociutil.Wrap(rpmociutil.KindFilesystem, err)
	}
	return nil
}

// checksumDigest converts a manifest.Checksum into an opencontainers
// digest, failing closed if the algorithm isn't one go-digest recognizes.
func checksumDigest(c manifest.Checksum) (digest.Digest, error) {
	return digest.Parse(c.Type + ":" + c.Hex)
}
