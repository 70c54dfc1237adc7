// Package ocilayout writes an OCI image layout directory: oci-layout, a
// single manifest/config/layer blob set under blobs/sha256, and
// index.json.
package ocilayout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	rpmocidigest "github.com/rpmoci/rpmoci/internal/digest"
)

// imageLayoutVersion is pinned literally rather than sourced from
// ocispec's own version constant, because some consumers validate
// against exactly "1.0.0" regardless of which spec minor version the
// library in use implements.
const imageLayoutVersion = "1.0.0"

const ociLayoutFile = "oci-layout"

// Layout is an OCI image layout directory being written to.
type Layout struct {
	Dir string
}

// Create initializes dir as an OCI image layout: blobs/sha256 and the
// pinned oci-layout marker file. If dir already contains a layout with a
// compatible version, Create succeeds without overwriting it.
func Create(dir string) (*Layout, error) {
	blobsDir := filepath.Join(dir, "blobs", "sha256")
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", blobsDir, err)
	}

	layoutPath := filepath.Join(dir, ociLayoutFile)
	if existing, err := os.ReadFile(layoutPath); err == nil {
		if string(existing) != layoutMarker() {
			return nil, fmt.Errorf("%s exists with an incompatible imageLayoutVersion", layoutPath)
		}
	} else if os.IsNotExist(err) {
		if err := os.WriteFile(layoutPath, []byte(layoutMarker()), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", layoutPath, err)
		}
	} else {
		return nil, fmt.Errorf("reading %s: %w", layoutPath, err)
	}

	return &Layout{Dir: dir}, nil
}

func layoutMarker() string {
	return `{"imageLayoutVersion":"` + imageLayoutVersion + `"}`
}

func (l *Layout) blobPath(d digest.Digest) string {
	return filepath.Join(l.Dir, "blobs", "sha256", d.Encoded())
}

// NewBlobStaging creates a temporary file inside blobs/sha256 suitable as
// the destination for a streaming writer (e.g. internal/layer.Write),
// returning the open file so the caller can commit it by digest, via its
// Name, once the digest is known.
func (l *Layout) NewBlobStaging() (*os.File, error) {
	return os.CreateTemp(filepath.Join(l.Dir, "blobs", "sha256"), "blob-*.tmp")
}

// CommitBlob renames a staged file into its content-addressed location
// and returns its descriptor. It is a no-op if the destination already
// exists (two runs that produce the same digest don't need to race a
// rename).
func (l *Layout) CommitBlob(stagedPath string, mediaType string, d digest.Digest, size int64) (ocispec.Descriptor, error) {
	dest := l.blobPath(d)
	if _, err := os.Stat(dest); err == nil {
		os.Remove(stagedPath)
	} else if err := os.Rename(stagedPath, dest); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("committing blob %s: %w", d, err)
	}
	return ocispec.Descriptor{MediaType: mediaType, Digest: d, Size: size}, nil
}

// WriteJSONBlob serializes v as canonical JSON, hashes it while writing
// it to blobs/sha256, and returns its descriptor, reusing the
// tee-then-rename idiom already established in internal/digest.
func (l *Layout) WriteJSONBlob(v interface{}, mediaType string) (ocispec.Descriptor, error) {
	data, err := rpmocidigest.CanonicalJSON(v)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("marshaling %s blob: %w", mediaType, err)
	}

	fw, err := rpmocidigest.CreateFileWriter(filepath.Join(l.Dir, "blobs", "sha256"), "blob-*.tmp")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	tmpName := fw.Name()
	if _, err := fw.Write(data); err != nil {
		os.Remove(tmpName)
		return ocispec.Descriptor{}, fmt.Errorf("writing %s blob: %w", mediaType, err)
	}
	d, size, err := fw.Finish()
	if err != nil {
		os.Remove(tmpName)
		return ocispec.Descriptor{}, err
	}
	return l.CommitBlob(tmpName, mediaType, d, size)
}

// WriteIndex writes index.json with a single manifest descriptor,
// annotated with the image's reference tag.
func (l *Layout) WriteIndex(manifestDesc ocispec.Descriptor, tag string) error {
	index := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{manifestDesc},
	}
	if tag != "" {
		index.Manifests[0].Annotations = map[string]string{
			ocispec.AnnotationRefName: tag,
		}
	}
	data, err := rpmocidigest.CanonicalJSON(index)
	if err != nil {
		return fmt.Errorf("marshaling index.json: %w", err)
	}
	path := filepath.Join(l.Dir, "index.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
