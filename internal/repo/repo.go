// Package repo normalizes manifest repository entries into the uniform
// form the resolver adapter needs, injects HTTP basic-auth credentials
// sourced from the environment, and prepares the GPG keyring used for
// signature verification.
package repo

import (
	"fmt"
	"os"
	"strings"

	"github.com/rpmoci/rpmoci/internal/manifest"
)

// Handle is a normalized repository entry ready to be handed to the
// resolver adapter.
type Handle struct {
	ID        string
	URL       string // empty for a bare, host-configured repo
	Options   map[string]string
	GPGCheck  bool
	SSLVerify bool

	// Username/Password are injected from RPMOCI_<ID>_HTTP_USERNAME and
	// RPMOCI_<ID>_HTTP_PASSWORD.
	Username string
	Password string
}

// envPrefix builds the environment variable prefix for a repo id,
// uppercasing it and replacing characters that aren't valid in a shell
// variable name with underscores. Repo ids are often hostnames or paths
// with dashes and dots.
func envPrefix(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return "RPMOCI_" + b.String()
}

// Normalize converts a manifest.Repository into a Handle, deriving an id
// from the URL when one was not given explicitly, and injecting basic-auth
// credentials from the environment.
func Normalize(r manifest.Repository) (Handle, error) {
	h := Handle{
		ID:        r.ID,
		URL:       r.URL,
		Options:   r.Options,
		GPGCheck:  r.GPGCheckEnabled(),
		SSLVerify: r.SSLVerifyEnabled(),
	}
	if h.ID == "" {
		h.ID = deriveID(r.URL)
	}

	prefix := envPrefix(h.ID)
	user, userSet := os.LookupEnv(prefix + "_HTTP_USERNAME")
	pass, passSet := os.LookupEnv(prefix + "_HTTP_PASSWORD")
	switch {
	case userSet && passSet:
		h.Username, h.Password = user, pass
	case userSet != passSet:
		return Handle{}, fmt.Errorf("repo %s: both %s_HTTP_USERNAME and %s_HTTP_PASSWORD must be set together", h.ID, prefix, prefix)
	}
	return h, nil
}

// deriveID generates a stable repo id from a URL when the manifest didn't
// give one explicitly, following dnf config-manager's convention of
// joining the host and path with underscores.
func deriveID(rawURL string) string {
	u := rawURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	u = strings.Trim(u, "/")
	u = strings.NewReplacer("/", "_", ":", "_").Replace(u)
	if u == "" {
		u = "repo"
	}
	return u
}

// NormalizeAll normalizes every repository entry of a manifest in order.
func NormalizeAll(repos []manifest.Repository) ([]Handle, error) {
	out := make([]Handle, 0, len(repos))
	for _, r := range repos {
		h, err := Normalize(r)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
