package repo

import (
	"testing"

	"github.com/rpmoci/rpmoci/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBareID(t *testing.T) {
	h, err := Normalize(manifest.Repository{ID: "base"})
	require.NoError(t, err)
	require.Equal(t, "base", h.ID)
	require.Equal(t, "", h.URL)
	require.True(t, h.GPGCheck)
	require.True(t, h.SSLVerify)
}

func TestNormalizeDerivesIDFromURL(t *testing.T) {
	h, err := Normalize(manifest.Repository{URL: "https://example.com/repo/x86_64"})
	require.NoError(t, err)
	require.Equal(t, "example.com_repo_x86_64", h.ID)
}

func TestNormalizeCredentialsFromEnv(t *testing.T) {
	t.Setenv("RPMOCI_BASE_HTTP_USERNAME", "alice")
	t.Setenv("RPMOCI_BASE_HTTP_PASSWORD", "secret")
	h, err := Normalize(manifest.Repository{ID: "base"})
	require.NoError(t, err)
	require.Equal(t, "alice", h.Username)
	require.Equal(t, "secret", h.Password)
}

func TestNormalizeRejectsPartialCredentials(t *testing.T) {
	t.Setenv("RPMOCI_BASE_HTTP_USERNAME", "alice")
	_, err := Normalize(manifest.Repository{ID: "base"})
	require.Error(t, err)
}

func TestEnvPrefixSanitizesID(t *testing.T) {
	require.Equal(t, "RPMOCI_MY_REPO_2_0", envPrefix("my-repo.2.0"))
}
