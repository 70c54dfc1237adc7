package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpmoci/rpmoci/internal/repo"
)

func TestRepoArgsDisablesEverythingElse(t *testing.T) {
	args := repoArgs(nil)
	require.Equal(t, []string{"--disablerepo=*"}, args)
}

func TestRepoArgsInjectsRepoFromPath(t *testing.T) {
	repos := []repo.Handle{
		{ID: "base", URL: "https://example.test/repo", GPGCheck: false, SSLVerify: true},
	}
	args := repoArgs(repos)
	require.Contains(t, args, "--repofrompath=base,https://example.test/repo")
	require.Contains(t, args, "--enablerepo=base")
	require.Contains(t, args, "--setopt=base.gpgcheck=0")
}

func TestRepoArgsEnablesBareHostRepoByID(t *testing.T) {
	repos := []repo.Handle{{ID: "rhel-baseos"}}
	args := repoArgs(repos)
	require.Contains(t, args, "--enablerepo=rhel-baseos")
	for _, a := range args {
		require.NotContains(t, a, "--repofrompath=")
	}
}

func TestRepoArgsInjectsCredentials(t *testing.T) {
	repos := []repo.Handle{
		{ID: "private", URL: "https://example.test/repo", Username: "alice", Password: "secret"},
	}
	args := repoArgs(repos)
	require.Contains(t, args, "--setopt=private.username=alice")
	require.Contains(t, args, "--setopt=private.password=secret")
}

func TestParseRepoqueryOutputSkipsRpmlibAndBlankLines(t *testing.T) {
	out := []byte("bash|5.2.15-1.fc39|x86_64|base|https://example.test/bash.rpm|sha256:abc123\n" +
		"\n" +
		"rpmlib(CompressedFileNames)|3.0.4-1|noarch|base|x|sha256:def\n")
	pkgs, err := parseRepoqueryOutput(out)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	require.Equal(t, "bash", pkgs[0].Name)
	require.Equal(t, "sha256", pkgs[0].Checksum.Type)
	require.Equal(t, "abc123", pkgs[0].Checksum.Hex)
}

func TestParseRepoqueryOutputDefaultsChecksumAlgorithm(t *testing.T) {
	out := []byte("bash|5.2.15-1.fc39|x86_64|base|https://example.test/bash.rpm|abc123\n")
	pkgs, err := parseRepoqueryOutput(out)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	require.Equal(t, "sha256", pkgs[0].Checksum.Type)
	require.Equal(t, "abc123", pkgs[0].Checksum.Hex)
}

func TestCommonInstallArgsExcludesDocsAndWeakDeps(t *testing.T) {
	args := commonInstallArgs("/tmp/root")
	require.Contains(t, args, "--installroot=/tmp/root")
	require.Contains(t, args, "--setopt=tsflags=nodocs")
	require.Contains(t, args, "--setopt=install_weak_deps=False")
}
