package digest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestTeeWriterHashesAndForwards(t *testing.T) {
	var dest bytes.Buffer
	tw := NewTeeWriter(&dest)

	n, err := tw.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)

	require.Equal(t, "hello world", dest.String())
	require.Equal(t, int64(11), tw.Size())
	require.Equal(t, digest.Canonical.FromString("hello world"), tw.Digest())
}

func TestTeeWriterAccumulatesAcrossWrites(t *testing.T) {
	var dest bytes.Buffer
	tw := NewTeeWriter(&dest)

	_, err := tw.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = tw.Write([]byte("world"))
	require.NoError(t, err)

	require.Equal(t, digest.Canonical.FromString("hello world"), tw.Digest())
	require.Equal(t, int64(11), tw.Size())
}

func TestFileWriterProducesDigestAndFlushesToDisk(t *testing.T) {
	dir := t.TempDir()
	fw, err := CreateFileWriter(dir, "test-*.tmp")
	require.NoError(t, err)

	_, err = fw.Write([]byte("package contents"))
	require.NoError(t, err)

	d, size, err := fw.Finish()
	require.NoError(t, err)
	require.Equal(t, digest.Canonical.FromString("package contents"), d)
	require.Equal(t, int64(len("package contents")), size)

	data, err := os.ReadFile(fw.Name())
	require.NoError(t, err)
	require.Equal(t, "package contents", string(data))
}

func TestSHA256FileMatchesInMemoryDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(path, []byte("blob contents"), 0o644))

	d, size, err := SHA256File(path)
	require.NoError(t, err)
	require.Equal(t, digest.Canonical.FromString("blob contents"), d)
	require.Equal(t, int64(len("blob contents")), size)
}

func TestCanonicalJSONSortsMapKeys(t *testing.T) {
	v := map[string]int{"b": 2, "a": 1, "c": 3}
	data, err := CanonicalJSON(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2,"c":3}`, string(data))
}

func TestCanonicalJSONIsDeterministic(t *testing.T) {
	type doc struct {
		Name string `json:"name"`
		Tags []string
	}
	v := doc{Name: "rpmoci", Tags: []string{"x", "y"}}

	first, err := CanonicalJSON(v)
	require.NoError(t, err)
	second, err := CanonicalJSON(v)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
