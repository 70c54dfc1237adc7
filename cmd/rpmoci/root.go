package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rpmoci/rpmoci/internal/rpmociutil"
)

// usageTemplate blocks the global options from showing up under every
// subcommand's own help: persistent flags belong on the root command's
// own --help.
const usageTemplate = `Usage:{{if (and .Runnable (not .HasAvailableSubCommands))}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.UseLine}} [command]{{end}}{{if .HasAvailableLocalFlags}}

Options:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}
`

var logLevel string

var rootCmd = &cobra.Command{
	Use:               "rpmoci",
	Short:             "Build OCI container images from RPM packages",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: persistentPreRunE,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "path to the manifest (default rpmoci.toml)")
	rootCmd.PersistentFlags().StringVar(&lockfilePath, "lockfile", "", "path to the lockfile (default rpmoci.lock)")
	rootCmd.PersistentFlags().StringVar(&vendorDir, "vendor-dir", "", "vendor store directory (default .rpmoci/vendor)")

	rootCmd.AddCommand(buildCmd, updateCmd, vendorCmd)
	rootCmd.SetUsageTemplate(usageTemplate)
}

func persistentPreRunE(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return rpmociutil.Wrapf(rpmociutil.KindConfiguration, "invalid --log-level %q: %w", logLevel, err)
	}
	logrus.SetLevel(level)
	return nil
}

// Execute runs the root command, rendering errors as a plain one-line
// message unless debug logging is enabled. The exit code is the one
// reserved for the error's rpmociutil.Kind if it carries one, else a
// wrapped subprocess's exit status when one is available, else 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		outputError(err)
		os.Exit(exitCode(err))
	}
}

func outputError(err error) {
	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.Error(err)
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
}

func exitCode(err error) int {
	var kerr *rpmociutil.Error
	if errors.As(err, &kerr) {
		return kerr.Kind.ExitCode()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return 1
}
