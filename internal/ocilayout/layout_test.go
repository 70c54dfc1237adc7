package ocilayout

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	"github.com/rpmoci/rpmoci/internal/manifest"
)

func TestCreateWritesPinnedLayoutMarker(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "oci-layout"))
	require.NoError(t, err)
	require.Equal(t, `{"imageLayoutVersion":"1.0.0"}`, string(data))
	require.DirExists(t, filepath.Join(dir, "blobs", "sha256"))
}

func TestCreateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir)
	require.NoError(t, err)
	_, err = Create(dir)
	require.NoError(t, err)
}

func TestWriteJSONBlobNamesFileByDigest(t *testing.T) {
	dir := t.TempDir()
	l, err := Create(dir)
	require.NoError(t, err)

	desc, err := l.WriteJSONBlob(map[string]string{"a": "b"}, ocispec.MediaTypeImageConfig)
	require.NoError(t, err)
	require.Equal(t, ocispec.MediaTypeImageConfig, desc.MediaType)
	require.FileExists(t, filepath.Join(dir, "blobs", "sha256", desc.Digest.Encoded()))
}

func TestWriteJSONBlobIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	l, err := Create(dir)
	require.NoError(t, err)

	d1, err := l.WriteJSONBlob(map[string]string{"z": "1", "a": "2"}, "application/json")
	require.NoError(t, err)
	d2, err := l.WriteJSONBlob(map[string]string{"a": "2", "z": "1"}, "application/json")
	require.NoError(t, err)
	require.Equal(t, d1.Digest, d2.Digest)
}

func TestCommitBlobDeduplicatesExistingDigest(t *testing.T) {
	dir := t.TempDir()
	l, err := Create(dir)
	require.NoError(t, err)

	content := []byte("blob content")
	d := digest.Canonical.FromBytes(content)

	f1, err := l.NewBlobStaging()
	require.NoError(t, err)
	_, err = f1.Write(content)
	require.NoError(t, err)
	require.NoError(t, f1.Close())
	_, err = l.CommitBlob(f1.Name(), "application/octet-stream", d, int64(len(content)))
	require.NoError(t, err)

	f2, err := l.NewBlobStaging()
	require.NoError(t, err)
	require.NoError(t, f2.Close())
	_, err = l.CommitBlob(f2.Name(), "application/octet-stream", d, int64(len(content)))
	require.NoError(t, err)
	require.NoFileExists(t, f2.Name())
}

func TestWriteIndexAnnotatesTag(t *testing.T) {
	dir := t.TempDir()
	l, err := Create(dir)
	require.NoError(t, err)

	desc := ocispec.Descriptor{MediaType: ocispec.MediaTypeImageManifest, Digest: digest.Canonical.FromString("m"), Size: 42}
	require.NoError(t, l.WriteIndex(desc, "latest"))

	data, err := os.ReadFile(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	var idx ocispec.Index
	require.NoError(t, json.Unmarshal(data, &idx))
	require.Len(t, idx.Manifests, 1)
	require.Equal(t, "latest", idx.Manifests[0].Annotations[ocispec.AnnotationRefName])
}

func TestBuildConfigIncludesDefaultPATH(t *testing.T) {
	img := manifest.Image{}
	cfg := BuildConfig(img, digest.Canonical.FromString("layer"), time.Unix(0, 0))
	found := false
	for _, e := range cfg.Config.Env {
		if e == "PATH="+manifest.DefaultPATH {
			found = true
		}
	}
	require.True(t, found)
}

func TestBuildConfigPreservesExplicitPATH(t *testing.T) {
	img := manifest.Image{Envs: map[string]string{"PATH": "/opt/bin"}}
	cfg := BuildConfig(img, digest.Canonical.FromString("layer"), time.Unix(0, 0))
	require.Contains(t, cfg.Config.Env, "PATH=/opt/bin")
}

func TestSortedEnvIsOrderIndependent(t *testing.T) {
	env := map[string]string{"B": "2", "A": "1"}
	require.Equal(t, []string{"A=1", "B=2"}, sortedEnv(env))
}
