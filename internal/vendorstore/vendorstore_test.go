package vendorstore

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestPutNamesFileByDigest(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	content := []byte("not really an rpm")
	want := digest.Canonical.FromBytes(content)

	got, err := s.Put(bytes.NewReader(content), "")
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.True(t, s.Has(got))
	require.FileExists(t, filepath.Join(dir, got.Encoded()+".rpm"))
}

func TestPutRejectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	_, err = s.Put(bytes.NewReader([]byte("content")), digest.Digest("sha256:0000000000000000000000000000000000000000000000000000000000000"))
	require.Error(t, err)
}

func TestFetchDownloadsAndVerifies(t *testing.T) {
	content := []byte("package bytes")
	want := digest.Canonical.FromBytes(content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 0

	got, err := s.Fetch(context.Background(), client, srv.URL, want, "", "")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestImportCopiesLocalFile(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "local.rpm")
	require.NoError(t, os.WriteFile(src, []byte("local package"), 0o644))

	store, err := Open(t.TempDir())
	require.NoError(t, err)

	got, err := store.Import(src, "")
	require.NoError(t, err)
	require.True(t, store.Has(got))
}
