package ocilayout

import (
	"runtime"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/rpmoci/rpmoci/internal/manifest"
)

// BuildConfig assembles the OCI image config document from the
// manifest's [image] table and the layer's diff-id. env always contains a PATH entry, manifest override or default, by
// construction of manifest.Image.EffectiveEnvs.
func BuildConfig(img manifest.Image, diffID digest.Digest, created time.Time) ocispec.Image {
	cfg := ocispec.ImageConfig{
		User:       img.User,
		Entrypoint: img.Entrypoint,
		Cmd:        img.Cmd,
		WorkingDir: img.WorkingDir,
		Env:        sortedEnv(img.EffectiveEnvs()),
		Labels:     img.Labels,
	}
	if img.StopSignal != "" {
		cfg.StopSignal = img.StopSignal
	}
	if len(img.ExposedPorts) > 0 {
		cfg.ExposedPorts = map[string]struct{}{}
		for _, p := range img.ExposedPorts {
			cfg.ExposedPorts[p] = struct{}{}
		}
	}

	c := created
	return ocispec.Image{
		Created: &c,
		Author:  img.Author,
		Platform: ocispec.Platform{
			Architecture: runtime.GOARCH,
			OS:           "linux",
		},
		Config: cfg,
		RootFS: ocispec.RootFS{
			Type:    "layers",
			DiffIDs: []digest.Digest{diffID},
		},
	}
}

// sortedEnv renders a map of environment variables as "K=V" pairs in
// sorted key order, so the config's JSON serialization -- and therefore
// its digest -- doesn't depend on map iteration order.
func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// BuildManifest assembles the single-layer OCI image manifest referencing
// the config and layer blobs by descriptor.
func BuildManifest(configDesc, layerDesc ocispec.Descriptor) ocispec.Manifest {
	return ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []ocispec.Descriptor{layerDesc},
	}
}
