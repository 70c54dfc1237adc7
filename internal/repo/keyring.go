package repo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/hashicorp/go-retryablehttp"
)

// httpClient is used for gpgkey downloads; retryablehttp gives a
// small fixed retry budget for transient network errors without the
// system itself implementing a retry loop.
var httpClient = func() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = nil
	return c
}()

// FetchKey retrieves a GPG key named by a manifest gpgkeys entry, which is
// either an http(s) URL or a local file path.
func FetchKey(ctx context.Context, ref string) ([]byte, error) {
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, fmt.Errorf("fetching gpgkey %s: %w", ref, err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching gpgkey %s: %w", ref, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching gpgkey %s: unexpected status %s", ref, resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("reading gpgkey %s: %w", ref, err)
	}
	return data, nil
}

// BuildKeyring loads and merges a set of GPG public keys (armored or binary)
// into a single keyring usable for RPM signature verification.
func BuildKeyring(ctx context.Context, keyRefs []string) (openpgp.EntityList, error) {
	var all openpgp.EntityList
	for _, ref := range keyRefs {
		data, err := FetchKey(ctx, ref)
		if err != nil {
			return nil, err
		}
		entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("gpgkey %s: not a valid PGP key: %w", ref, err)
			}
		}
		all = append(all, entities...)
	}
	return all, nil
}
