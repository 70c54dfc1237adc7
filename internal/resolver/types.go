package resolver

import "github.com/rpmoci/rpmoci/internal/manifest"

// Package is a single resolved RPM, totally ordered the same way across
// repeated resolutions of the same inputs.
type Package struct {
	Name      string
	EVR       string
	Arch      string
	RepoID    string
	URL       string
	Checksum manifest.Checksum
	// Unsigned records that this package's repo has gpgcheck=false, so it
	// must not be required to verify against an imported key.
	Unsigned bool
}

// LocalPackage is a package resolved from a bare .rpm file path named
// directly in the manifest rather than from a repository.
type LocalPackage struct {
	Path     string
	Checksum manifest.Checksum
	Requires []string
}

// RepoGPGConfig records, per repository that contributed to a resolution,
// whether gpgcheck applies and which gpgkey references apply to it.
type RepoGPGConfig struct {
	GPGCheck bool
	Keys     []string
}

// ResolvedSet is the output of Resolve: a totally ordered package list plus
// enough repository metadata to verify signatures and write a lockfile.
type ResolvedSet struct {
	Packages      []Package
	LocalPackages []LocalPackage
	RepoGPGConfig map[string]RepoGPGConfig
}

// Options carries the manifest flags that influence resolution but aren't
// themselves packages or repositories.
type Options struct {
	// OSRelease, when true, adds a synthetic requirement on whatever
	// provides /etc/os-release before resolving.
	OSRelease bool
}
