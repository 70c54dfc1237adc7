// Package digest provides the SHA-256 streaming primitives shared by the
// vendor store, the layer builder, and the OCI layout writer.
package digest

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// TeeWriter hashes every byte written to it while also writing it to an
// underlying destination, so a stream only has to be read once to produce
// both its content and its digest.
type TeeWriter struct {
	dest   io.Writer
	hasher digest.Digester
	size   int64
}

// NewTeeWriter wraps dest so that writes are simultaneously hashed.
func NewTeeWriter(dest io.Writer) *TeeWriter {
	return &TeeWriter{dest: dest, hasher: digest.Canonical.Digester()}
}

func (t *TeeWriter) Write(p []byte) (int, error) {
	n, err := t.dest.Write(p)
	if n > 0 {
		if _, herr := t.hasher.Hash().Write(p[:n]); herr != nil {
			return n, herr
		}
		t.size += int64(n)
	}
	return n, err
}

// Digest returns the SHA-256 digest of everything written so far.
func (t *TeeWriter) Digest() digest.Digest { return t.hasher.Digest() }

// Size returns the number of bytes written so far.
func (t *TeeWriter) Size() int64 { return t.size }

// FileWriter is a TeeWriter backed by an on-disk file, used by the vendor
// store and the OCI blob writer: the file is written and hashed in one
// pass, then the caller renames it into place under its content address.
type FileWriter struct {
	*TeeWriter
	f *os.File
}

// CreateFileWriter creates a temporary file in dir and returns a FileWriter
// that hashes everything written to it. The caller must call Finish to
// obtain the digest and close the file, then rename it into place.
func CreateFileWriter(dir, pattern string) (*FileWriter, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &FileWriter{TeeWriter: NewTeeWriter(bufio.NewWriter(f)), f: f}, nil
}

// Name returns the path of the underlying temporary file.
func (fw *FileWriter) Name() string { return fw.f.Name() }

// Finish flushes and closes the underlying file, returning the digest and
// size of everything written to it.
func (fw *FileWriter) Finish() (digest.Digest, int64, error) {
	if bw, ok := fw.dest.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			fw.f.Close()
			return "", 0, err
		}
	}
	if err := fw.f.Close(); err != nil {
		return "", 0, err
	}
	return fw.Digest(), fw.Size(), nil
}

// SHA256File hashes an existing file on disk without loading it into
// memory, used when reconciling local packages named in the manifest
// against the checksums pinned in the lockfile.
func SHA256File(path string) (digest.Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return digest.NewDigestFromBytes(digest.SHA256, h.Sum(nil)), n, nil
}

// CanonicalJSON marshals v with sorted object keys and no trailing
// whitespace, the form required for OCI documents whose bytes must hash
// identically across runs.
func CanonicalJSON(v interface{}) ([]byte, error) {
	// encoding/json already emits maps with sorted keys and structs in
	// field-declaration order; the only normalization needed is stripping
	// the trailing newline json.Marshal never adds in the first place, so
	// this is a thin, explicitly-named wrapper other packages call instead
	// of json.Marshal directly, keeping the "canonical" requirement visible
	// at call sites.
	return json.Marshal(v)
}
