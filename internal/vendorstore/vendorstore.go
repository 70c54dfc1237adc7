// Package vendorstore implements the content-addressed RPM cache: a flat
// directory of "<sha256hex>.rpm" files that lets later builds skip the
// network.
package vendorstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/opencontainers/go-digest"
	rpmocidigest "github.com/rpmoci/rpmoci/internal/digest"
)

// Store is a content-addressed directory of RPM files.
type Store struct {
	Dir string
}

// Open ensures dir exists and returns a Store rooted at it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating vendor directory %s: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// Path returns the on-disk path an RPM with the given digest would have,
// whether or not it has been downloaded yet.
func (s *Store) Path(d digest.Digest) string {
	return filepath.Join(s.Dir, d.Encoded()+".rpm")
}

// Has reports whether an RPM with the given digest is already present.
func (s *Store) Has(d digest.Digest) bool {
	_, err := os.Stat(s.Path(d))
	return err == nil
}

// Put streams r into the store, verifying its content hashes to
// wantDigest before making it visible under its content-addressed name.
// A zero wantDigest skips verification and trusts whatever digest the
// content itself produces (used when importing files the resolver
// downloaded, whose identity is known only from their content).
func (s *Store) Put(r io.Reader, wantDigest digest.Digest) (digest.Digest, error) {
	fw, err := rpmocidigest.CreateFileWriter(s.Dir, "vendor-*.rpm.tmp")
	if err != nil {
		return "", err
	}
	tmpName := fw.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(fw, r); err != nil {
		return "", fmt.Errorf("writing vendored RPM: %w", err)
	}
	got, _, err := fw.Finish()
	if err != nil {
		return "", err
	}
	if wantDigest != "" && got != wantDigest {
		return "", fmt.Errorf("vendored RPM checksum mismatch: want %s, got %s", wantDigest, got)
	}
	dest := s.Path(got)
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("renaming vendored RPM into place: %w", err)
	}
	return got, nil
}

// Fetch downloads url into the store via an HTTP GET, verifying its
// content against wantDigest. username/password, if non-empty, are sent
// as HTTP basic auth credentials.
func (s *Store) Fetch(ctx context.Context, client *retryablehttp.Client, url string, wantDigest digest.Digest, username, password string) (digest.Digest, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	return s.Put(resp.Body, wantDigest)
}

// Import copies a local file (e.g. one named directly in the manifest's
// contents.packages) into the store, verifying its digest.
func (s *Store) Import(path string, wantDigest digest.Digest) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return s.Put(f, wantDigest)
}
