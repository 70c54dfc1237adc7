package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// generatedHeader is prepended to every lockfile rpmoci writes, following
// the "# This file is @generated by ..." convention used by lockfiles
// across the ecosystem. It carries no semantic weight and is excluded from
// the compatibility fingerprint.
const generatedHeader = "# This file is @generated by RPMOCI.\n# It is not intended for manual editing.\n"

// Lockfile is the pinned, totally-ordered output of dependency resolution.
type Lockfile struct {
	Packages      []LockedPackage `toml:"packages"`
	LocalPackages []LocalPackage  `toml:"local_packages"`
	GPGKeys       []string        `toml:"gpgkeys"`

	// Fingerprint is the compatibility fingerprint computed from the
	// manifest fields that affect resolution, recorded at write time so
	// compatibility checks never need to re-resolve.
	Fingerprint string `toml:"fingerprint"`
}

// LockedPackage is one resolved, remotely-fetchable RPM.
type LockedPackage struct {
	Name   string `toml:"name"`
	EVR    string `toml:"evr"`
	Arch   string `toml:"arch"`
	RepoID string `toml:"repo_id"`
	URL    string `toml:"url"`

	Checksum Checksum `toml:"checksum"`

	// Unsigned records that this package was resolved from a
	// gpgcheck=false repository and must not be required to verify
	// against an imported key.
	Unsigned bool `toml:"unsigned,omitempty"`
}

// Key returns the (name, evr, arch) tuple that uniquely identifies a
// locked package.
func (p LockedPackage) Key() string { return p.Name + "\x00" + p.EVR + "\x00" + p.Arch }

// LocalPackage pins the content of a package supplied as a local RPM file
// rather than resolved from a repository.
type LocalPackage struct {
	Path     string   `toml:"path"`
	Checksum Checksum `toml:"checksum"`
}

// Checksum identifies the hash algorithm and hex digest of a package's
// content, as reported by the resolver or computed locally.
type Checksum struct {
	Type string `toml:"type"`
	Hex  string `toml:"hex"`
}

// LoadLockfile reads and parses a lockfile. It is not an error for the
// file not to exist; callers receive (nil, nil) in that case, since an
// absent lockfile is a valid state.
func LoadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}
	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing lockfile %s: %w", path, err)
	}
	return &lf, nil
}

// WriteFile serializes the lockfile to path with stable key ordering, so
// that lockfile diffs across runs are reviewable and, when the resolved
// set hasn't changed, byte-identical.
func (lf *Lockfile) WriteFile(path string) error {
	sorted := *lf
	sorted.Packages = append([]LockedPackage(nil), lf.Packages...)
	sort.Slice(sorted.Packages, func(i, j int) bool {
		return sorted.Packages[i].Key() < sorted.Packages[j].Key()
	})
	sorted.LocalPackages = append([]LocalPackage(nil), lf.LocalPackages...)
	sort.Slice(sorted.LocalPackages, func(i, j int) bool {
		return sorted.LocalPackages[i].Path < sorted.LocalPackages[j].Path
	})
	sorted.GPGKeys = append([]string(nil), lf.GPGKeys...)
	sort.Strings(sorted.GPGKeys)

	var buf bytes.Buffer
	buf.WriteString(generatedHeader)
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(sorted); err != nil {
		return fmt.Errorf("encoding lockfile: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Fingerprint computes the compatibility fingerprint of a manifest: a
// SHA-256 hash over the subset of fields that affect dependency
// resolution.
func (m *Manifest) Fingerprint() string {
	h := sha256.New()
	write := func(s string) { fmt.Fprintf(h, "%d:%s\x00", len(s), s) }

	repos := append([]Repository(nil), m.Contents.Repositories...)
	sort.Slice(repos, func(i, j int) bool { return repoSortKey(repos[i]) < repoSortKey(repos[j]) })
	for _, r := range repos {
		write(repoSortKey(r))
		write(fmt.Sprintf("%t:%t", r.GPGCheckEnabled(), r.SSLVerifyEnabled()))
		optKeys := make([]string, 0, len(r.Options))
		for k := range r.Options {
			optKeys = append(optKeys, k)
		}
		sort.Strings(optKeys)
		for _, k := range optKeys {
			write(k + "=" + r.Options[k])
		}
	}

	keys := append([]string(nil), m.Contents.GPGKeys...)
	sort.Strings(keys)
	for _, k := range keys {
		write(k)
	}

	pkgs := append([]string(nil), m.Contents.Packages...)
	sort.Strings(pkgs)
	for _, p := range pkgs {
		write(p)
	}

	write(fmt.Sprintf("docs=%t", m.Contents.DocsEnabled()))
	write(fmt.Sprintf("os_release=%t", m.Contents.OSReleaseEnabled()))

	return hex.EncodeToString(h.Sum(nil))
}

func repoSortKey(r Repository) string {
	if r.ID != "" {
		return r.ID
	}
	return r.URL
}

// CompatibleWith reports whether a lockfile may be used to satisfy a
// build of the given manifest without re-resolving.
func (lf *Lockfile) CompatibleWith(m *Manifest) bool {
	if lf == nil {
		return false
	}
	return lf.Fingerprint == m.Fingerprint()
}
