package main

import (
	"github.com/spf13/cobra"

	"github.com/rpmoci/rpmoci/internal/build"
	"github.com/rpmoci/rpmoci/internal/resolver"
)

var vendorOutDir string

var vendorCmd = &cobra.Command{
	Use:   "vendor",
	Short: "Download every resolved package into a content-addressed directory",
	RunE:  runVendor,
}

func init() {
	vendorCmd.Flags().StringVarP(&vendorOutDir, "out-dir", "o", "", "destination directory (required)")
	vendorCmd.Flags().BoolVar(&locked, "locked", false, "fail instead of re-resolving if the lockfile is missing or stale")
	_ = vendorCmd.MarkFlagRequired("out-dir")
}

func runVendor(cmd *cobra.Command, args []string) error {
	opts := build.Options{
		ManifestPath: manifestPath,
		LockfilePath: lockfilePath,
		VendorDir:    vendorOutDir,
		Locked:       locked,
	}
	return build.Vendor(cmd.Context(), resolver.New(), opts)
}
