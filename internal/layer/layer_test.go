package layer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func buildFixture(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr/bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "usr/bin/a"), []byte("AAAA"), 0o755))
	require.NoError(t, os.Link(filepath.Join(root, "usr/bin/a"), filepath.Join(root, "usr/bin/b")))
	require.NoError(t, os.Symlink("a", filepath.Join(root, "usr/bin/a-link")))
	return root
}

func readTarEntries(t *testing.T, gzData []byte) []*tar.Header {
	gr, err := gzip.NewReader(bytes.NewReader(gzData))
	require.NoError(t, err)
	defer gr.Close()

	var headers []*tar.Header
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		headers = append(headers, hdr)
	}
	return headers
}

func TestWriteProducesStableOrderAndHardlinks(t *testing.T) {
	root := buildFixture(t)
	mtime := time.Unix(1700000000, 0)

	var buf bytes.Buffer
	result, err := Write(root, mtime, &buf)
	require.NoError(t, err)
	require.NotEmpty(t, result.DiffID)
	require.NotEmpty(t, result.Digest)

	headers := readTarEntries(t, buf.Bytes())
	var names []string
	for _, h := range headers {
		names = append(names, h.Name)
	}
	require.Equal(t, []string{"usr", "usr/bin", "usr/bin/a", "usr/bin/a-link", "usr/bin/b"}, names)

	var linkHeader *tar.Header
	for _, h := range headers {
		if h.Name == "usr/bin/b" {
			linkHeader = h
		}
	}
	require.NotNil(t, linkHeader)
	require.Equal(t, byte(tar.TypeLink), linkHeader.Typeflag)
	require.Equal(t, "usr/bin/a", linkHeader.Linkname)
	require.Zero(t, linkHeader.Size)
}

func TestWriteIsDeterministicAcrossRuns(t *testing.T) {
	root := buildFixture(t)
	mtime := time.Unix(1700000000, 0)

	var buf1, buf2 bytes.Buffer
	r1, err := Write(root, mtime, &buf1)
	require.NoError(t, err)
	r2, err := Write(root, mtime, &buf2)
	require.NoError(t, err)

	require.Equal(t, r1.DiffID, r2.DiffID)
	require.Equal(t, r1.Digest, r2.Digest)
	require.True(t, bytes.Equal(buf1.Bytes(), buf2.Bytes()))
}

func TestSplitNullTerminated(t *testing.T) {
	got := splitNullTerminated([]byte("user.foo\x00security.capability\x00"))
	require.Equal(t, []string{"user.foo", "security.capability"}, got)
}
