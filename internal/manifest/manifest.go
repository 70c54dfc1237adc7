// Package manifest defines the user-facing manifest and the resolver's
// pinned lockfile, their TOML encodings, and the compatibility check
// between them.
package manifest

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// defaultPath is the manifest file name rpmoci looks for when --manifest
// is not given, mirroring dnf/yum's convention of a repo-relative config file.
const defaultPath = "rpmoci.toml"

// Manifest is the declarative description of the contents and image
// configuration of the image to be built.
type Manifest struct {
	Contents Contents `toml:"contents"`
	Image    Image    `toml:"image"`
}

// Contents names the repositories, keys, and packages that make up the
// image's root filesystem.
type Contents struct {
	Repositories []Repository `toml:"repositories"`
	GPGKeys      []string     `toml:"gpgkeys"`
	Packages     []string     `toml:"packages"`

	// Docs controls whether documentation files installed by packages are
	// kept in the layer. Defaults to false to keep images minimal.
	Docs *bool `toml:"docs"`

	// OSRelease adds a synthetic dependency on whatever package provides
	// /etc/os-release. Defaults to true so image-scanning tools can detect
	// the distro without every manifest needing to name the release
	// package explicitly.
	OSRelease *bool `toml:"os_release"`
}

// DocsEnabled returns the effective value of Contents.Docs.
func (c Contents) DocsEnabled() bool {
	return c.Docs != nil && *c.Docs
}

// OSReleaseEnabled returns the effective value of Contents.OSRelease.
func (c Contents) OSReleaseEnabled() bool {
	return c.OSRelease == nil || *c.OSRelease
}

// Repository is a single entry of contents.repositories. It unmarshals
// from either a bare string (a host-configured repo id) or a table with at
// least a url.
type Repository struct {
	ID      string            `toml:"id"`
	URL     string            `toml:"url"`
	Options map[string]string `toml:"options"`

	// GPGCheck and SSLVerify default to true; nil means "unset" so the
	// manifest codec can distinguish an explicit false from the default.
	GPGCheck  *bool `toml:"gpgcheck"`
	SSLVerify *bool `toml:"sslverify"`

	// bareID marks a repository given as a bare string rather than a
	// structured table; bare entries always refer to a host-configured
	// repo and never carry a URL or options.
	bareID bool
}

// IsBareID reports whether this repository was declared as a bare string
// identifier rather than a structured {id?, url, options?} table.
func (r Repository) IsBareID() bool { return r.bareID }

// GPGCheckEnabled returns the effective value of Repository.GPGCheck.
func (r Repository) GPGCheckEnabled() bool {
	return r.GPGCheck == nil || *r.GPGCheck
}

// SSLVerifyEnabled returns the effective value of Repository.SSLVerify.
func (r Repository) SSLVerifyEnabled() bool {
	return r.SSLVerify == nil || *r.SSLVerify
}

// UnmarshalTOML implements toml.Unmarshaler so that a repository entry may
// be either a bare string or a table, matching rpmoci's manifest grammar.
func (r *Repository) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		r.ID = v
		r.bareID = true
		return nil
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			r.ID = id
		}
		if url, ok := v["url"].(string); ok {
			r.URL = url
		}
		if opts, ok := v["options"].(map[string]interface{}); ok {
			r.Options = make(map[string]string, len(opts))
			for k, val := range opts {
				if s, ok := val.(string); ok {
					r.Options[k] = s
				}
			}
		}
		if gc, ok := v["gpgcheck"].(bool); ok {
			r.GPGCheck = &gc
		}
		if sv, ok := v["sslverify"].(bool); ok {
			r.SSLVerify = &sv
		}
		if r.ID == "" && r.URL != "" {
			// A URL-only table behaves like a bare URL repository: its id
			// is derived later by internal/repo from the URL itself.
			r.bareID = false
		}
		return nil
	default:
		return fmt.Errorf("manifest: repository entry must be a string or table, got %T", data)
	}
}

// Image is the optional OCI image-config fragment of the manifest.
type Image struct {
	Entrypoint   []string          `toml:"entrypoint"`
	Cmd          []string          `toml:"cmd"`
	ExposedPorts []string          `toml:"exposed_ports"`
	Envs         map[string]string `toml:"envs"`
	Labels       map[string]string `toml:"labels"`
	WorkingDir   string            `toml:"working_dir"`
	User         string            `toml:"user"`
	StopSignal   string            `toml:"stop_signal"`
	Author       string            `toml:"author"`
}

// DefaultPATH is used when the manifest does not set envs.PATH.
const DefaultPATH = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// EffectiveEnvs returns the image's env map with a PATH entry defaulted
// in. The manifest's own Envs map is not mutated.
func (i Image) EffectiveEnvs() map[string]string {
	envs := make(map[string]string, len(i.Envs)+1)
	for k, v := range i.Envs {
		envs[k] = v
	}
	if _, ok := envs["PATH"]; !ok {
		envs["PATH"] = DefaultPATH
	}
	return envs
}

// Load reads and parses a manifest file. An empty path falls back to
// ./rpmoci.toml.
func Load(path string) (*Manifest, error) {
	if path == "" {
		path = defaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest %s: %w", path, err)
	}
	defer f.Close()

	var m Manifest
	if _, err := toml.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the manifest for the structural errors the resolver
// cannot recover from on its own.
func (m *Manifest) Validate() error {
	if len(m.Contents.Packages) == 0 {
		return fmt.Errorf("contents.packages must name at least one package")
	}
	seen := make(map[string]bool, len(m.Contents.Repositories))
	for _, r := range m.Contents.Repositories {
		id := r.ID
		if id == "" && r.URL == "" {
			return fmt.Errorf("contents.repositories entry has neither an id nor a url")
		}
		if id != "" {
			if seen[id] {
				return fmt.Errorf("contents.repositories: duplicate repository id %q", id)
			}
			seen[id] = true
		}
	}
	return nil
}
