package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rpmoci/rpmoci/internal/build"
	"github.com/rpmoci/rpmoci/internal/resolver"
	"github.com/rpmoci/rpmoci/internal/rpmociutil"
	"github.com/rpmoci/rpmoci/internal/userns"
)

var (
	manifestPath string
	lockfilePath string
	vendorDir    string
	locked       bool
	tag          string
	outDir       string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an OCI image from a manifest",
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&locked, "locked", false, "fail instead of re-resolving if the lockfile is missing or stale")
	buildCmd.Flags().StringVar(&tag, "tag", "latest", "reference name recorded in the image index")
	buildCmd.Flags().StringVarP(&outDir, "out", "o", "", "output OCI layout directory (required)")
	_ = buildCmd.MarkFlagRequired("out")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if userns.NeedsBootstrap() {
		logrus.Debug("re-executing inside a dedicated user namespace")
		code, err := userns.Bootstrap(cmd.Context(), os.Args)
		if err != nil {
			return rpmociutil.Wrapf(rpmociutil.KindNamespaceSetup, "bootstrapping user namespace: %w", err)
		}
		os.Exit(code)
	}

	opts := build.Options{
		ManifestPath: manifestPath,
		LockfilePath: lockfilePath,
		VendorDir:    vendorDir,
		Locked:       locked,
		Tag:          tag,
	}
	return build.Build(cmd.Context(), resolver.New(), opts, outDir)
}
