package build

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpmoci/rpmoci/internal/manifest"
)

func TestOptionsDefaults(t *testing.T) {
	var o Options
	require.Equal(t, "rpmoci.toml", o.manifestPath())
	require.Equal(t, "rpmoci.lock", o.lockfilePath())
	require.Equal(t, ".rpmoci/vendor", o.vendorDir())
}

func TestOptionsHonorsOverrides(t *testing.T) {
	o := Options{ManifestPath: "a.toml", LockfilePath: "a.lock", VendorDir: "vendor"}
	require.Equal(t, "a.toml", o.manifestPath())
	require.Equal(t, "a.lock", o.lockfilePath())
	require.Equal(t, "vendor", o.vendorDir())
}

func TestBuildTimestampHonorsSourceDateEpoch(t *testing.T) {
	t.Setenv("SOURCE_DATE_EPOCH", "1700000000")
	got := buildTimestamp()
	require.Equal(t, int64(1700000000), got.Unix())
}

func TestToResolvedSetRoundTripsLockfile(t *testing.T) {
	m := &manifest.Manifest{
		Contents: manifest.Contents{
			Repositories: []manifest.Repository{{ID: "base"}},
		},
	}
	lf := &manifest.Lockfile{
		Packages: []manifest.LockedPackage{
			{Name: "bash", EVR: "5.2-1", Arch: "x86_64", RepoID: "base", URL: "https://example.test/bash.rpm",
				Checksum: manifest.Checksum{Type: "sha256", Hex: "abc"}},
		},
		LocalPackages: []manifest.LocalPackage{
			{Path: "/tmp/local.rpm", Checksum: manifest.Checksum{Type: "sha256", Hex: "def"}},
		},
	}

	rs := toResolvedSet(m, lf)
	require.Len(t, rs.Packages, 1)
	require.Equal(t, "bash", rs.Packages[0].Name)
	require.Len(t, rs.LocalPackages, 1)
	require.Contains(t, rs.RepoGPGConfig, "base")
}

func TestChecksumDigestParsesSHA256(t *testing.T) {
	hex := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	d, err := checksumDigest(manifest.Checksum{Type: "sha256", Hex: hex})
	require.NoError(t, err)
	require.Equal(t, "sha256", d.Algorithm().String())
}
