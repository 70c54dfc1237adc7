// Package resolver presents an external package solver as three
// operations: resolve, install, download. It shields callers from the
// solver's internals -- the resolver may shell out to dnf5, dnf, or in
// principle anything else that satisfies the contract.
package resolver

import (
	"context"

	"github.com/rpmoci/rpmoci/internal/repo"
)

// Resolver is the contract an external package solver must satisfy.
type Resolver interface {
	// Resolve computes a totally ordered ResolvedSet for the given inputs
	// without installing or downloading anything.
	Resolve(ctx context.Context, repos []repo.Handle, gpgKeys []string, packages []string, opts Options) (*ResolvedSet, error)

	// Install installs exactly the packages named in resolved into
	// installRoot, with no weak dependencies pulled in.
	Install(ctx context.Context, resolved *ResolvedSet, installRoot string) error

	// Download writes every package named in resolved into dir. File names
	// are the solver's own; callers identify each file by its content
	// digest.
	Download(ctx context.Context, resolved *ResolvedSet, dir string) error
}

// New returns the default Resolver, preferring dnf5 and falling back to
// dnf when dnf5 isn't on PATH.
func New() Resolver {
	return &dnfResolver{binary: findBinary()}
}
