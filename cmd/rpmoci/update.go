package main

import (
	"github.com/spf13/cobra"

	"github.com/rpmoci/rpmoci/internal/build"
	"github.com/rpmoci/rpmoci/internal/resolver"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Re-resolve the manifest and rewrite the lockfile",
	RunE:  runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	opts := build.Options{
		ManifestPath: manifestPath,
		LockfilePath: lockfilePath,
	}
	return build.Update(cmd.Context(), resolver.New(), opts)
}
