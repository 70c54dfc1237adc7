package resolver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	rpmocidigest "github.com/rpmoci/rpmoci/internal/digest"
	"github.com/rpmoci/rpmoci/internal/manifest"
	"github.com/rpmoci/rpmoci/internal/repo"
)

// osReleaseRequirement is the synthetic requirement the adapter adds when
// contents.os_release is true, ahead of resolving.
const osReleaseRequirement = "/etc/os-release"

// queryFormat extracts exactly the fields a Package needs, one resolved
// package per line, pipe-delimited so values containing dnf's default
// whitespace separators don't get split incorrectly.
const queryFormat = `%{name}|%{evr}|%{arch}|%{reponame}|%{location}|%{chksum}\n`

// findBinary locates dnf5, falling back to dnf: dnf5 is the drop-in
// CLI-compatible successor shipped by newer Fedora/RHEL releases.
func findBinary() string {
	if p, err := exec.LookPath("dnf5"); err == nil {
		return p
	}
	if p, err := exec.LookPath("dnf"); err == nil {
		return p
	}
	return "dnf"
}

// dnfResolver implements Resolver by shelling out to dnf5/dnf: the rest
// of the system only ever sees Resolve/Install/Download.
type dnfResolver struct {
	binary string
}

// repoArgs builds the --disablerepo=* / --repofrompath / --setopt flags
// that restrict dnf to exactly the manifest's named repositories; only
// explicitly named system repos are ever honored.
func repoArgs(repos []repo.Handle) []string {
	args := []string{"--disablerepo=*"}
	for _, r := range repos {
		if r.URL == "" {
			// A bare repo id with no URL refers to a host-configured repo;
			// enable it by id instead of injecting a path.
			args = append(args, "--enablerepo="+r.ID)
			continue
		}
		args = append(args, fmt.Sprintf("--repofrompath=%s,%s", r.ID, r.URL))
		args = append(args, "--enablerepo="+r.ID)
		if !r.GPGCheck {
			args = append(args, fmt.Sprintf("--setopt=%s.gpgcheck=0", r.ID))
		}
		if !r.SSLVerify {
			args = append(args, fmt.Sprintf("--setopt=%s.sslverify=0", r.ID))
		}
		if r.Username != "" {
			args = append(args, fmt.Sprintf("--setopt=%s.username=%s", r.ID, r.Username))
			args = append(args, fmt.Sprintf("--setopt=%s.password=%s", r.ID, r.Password))
		}
		for k, v := range r.Options {
			args = append(args, fmt.Sprintf("--setopt=%s.%s=%s", r.ID, k, v))
		}
	}
	return args
}

// commonInstallArgs are the flags common to Install and Download that keep
// the installroot minimal and reproducible.
func commonInstallArgs(installRoot string) []string {
	return []string{
		"--assumeyes",
		"--installroot=" + installRoot,
		"--setopt=install_weak_deps=False",
		"--setopt=tsflags=nodocs",
	}
}

func (d *dnfResolver) run(ctx context.Context, args ...string) ([]byte, error) {
	logrus.Debugf("running %s %s", d.binary, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.Stderr = os.Stderr
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w", d.binary, strings.Join(args, " "), err)
	}
	return out.Bytes(), nil
}

// Resolve asks dnf to repoquery the fully recursive dependency closure of
// packages against exactly the named repositories, and parses the result
// into a ResolvedSet. Local *.rpm file specs are resolved separately since
// repoquery only targets repository content.
func (d *dnfResolver) Resolve(ctx context.Context, repos []repo.Handle, gpgKeys []string, packages []string, opts Options) (*ResolvedSet, error) {
	var remotePkgs, localPaths []string
	for _, p := range packages {
		if strings.HasSuffix(p, ".rpm") {
			localPaths = append(localPaths, p)
		} else {
			remotePkgs = append(remotePkgs, p)
		}
	}
	if opts.OSRelease {
		remotePkgs = append(remotePkgs, osReleaseRequirement)
	}

	rs := &ResolvedSet{RepoGPGConfig: map[string]RepoGPGConfig{}}
	for _, r := range repos {
		rs.RepoGPGConfig[r.ID] = RepoGPGConfig{GPGCheck: r.GPGCheck, Keys: gpgKeys}
	}

	if len(remotePkgs) > 0 {
		args := []string{"repoquery", "--requires", "--resolve", "--recursive",
			"--queryformat", queryFormat}
		args = append(args, repoArgs(repos)...)
		args = append(args, remotePkgs...)
		out, err := d.run(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("resolving packages: %w", err)
		}
		pkgs, err := parseRepoqueryOutput(out)
		if err != nil {
			return nil, err
		}
		rs.Packages = pkgs
	}

	for _, path := range localPaths {
		sum, err := localChecksum(path)
		if err != nil {
			return nil, err
		}
		rs.LocalPackages = append(rs.LocalPackages, LocalPackage{Path: path, Checksum: sum})
	}

	return rs, nil
}

// parseRepoqueryOutput parses queryFormat's pipe-delimited lines into
// Packages, skipping the synthetic "rpmlib(...)" dependency lines dnf
// sometimes echoes during recursive resolution.
func parseRepoqueryOutput(out []byte) ([]Package, error) {
	var pkgs []Package
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "rpmlib(") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != 6 {
			continue
		}
		algo, hex, ok := strings.Cut(fields[5], ":")
		if !ok {
			algo, hex = "sha256", fields[5]
		}
		pkgs = append(pkgs, Package{
			Name:   fields[0],
			EVR:    fields[1],
			Arch:   fields[2],
			RepoID: fields[3],
			URL:    fields[4],
			Checksum: manifest.Checksum{
				Type: algo,
				Hex:  hex,
			},
		})
	}
	return pkgs, scanner.Err()
}

// localChecksum hashes a local *.rpm file path named directly in the
// manifest, so it can be recorded in the lockfile's local_packages set.
func localChecksum(path string) (manifest.Checksum, error) {
	d, _, err := rpmocidigest.SHA256File(path)
	if err != nil {
		return manifest.Checksum{}, err
	}
	return manifest.Checksum{Type: "sha256", Hex: d.Encoded()}, nil
}

// Install installs exactly the resolved packages into installRoot. Package
// identity is pinned by name-evr-arch (or, for local packages, by path and
// locked checksum) so dnf can't silently substitute a newer build.
func (d *dnfResolver) Install(ctx context.Context, resolved *ResolvedSet, installRoot string) error {
	args := []string{"install"}
	args = append(args, commonInstallArgs(installRoot)...)
	for _, p := range resolved.Packages {
		args = append(args, fmt.Sprintf("%s-%s.%s", p.Name, p.EVR, p.Arch))
	}
	for _, lp := range resolved.LocalPackages {
		sum, err := localChecksum(lp.Path)
		if err != nil {
			return err
		}
		if sum != lp.Checksum {
			return fmt.Errorf("local package %s no longer matches its locked checksum %s:%s", lp.Path, lp.Checksum.Type, lp.Checksum.Hex)
		}
		args = append(args, lp.Path)
	}
	if len(resolved.Packages)+len(resolved.LocalPackages) == 0 {
		return nil
	}
	_, err := d.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("installing resolved packages: %w", err)
	}
	return nil
}

// Download writes every resolved package's RPM file into dir. The
// vendorstore package does the actual content-addressed rename; Download
// here is responsible only for getting dnf to produce the bytes.
func (d *dnfResolver) Download(ctx context.Context, resolved *ResolvedSet, dir string) error {
	if len(resolved.Packages) == 0 {
		return nil
	}
	args := []string{"download", "--destdir=" + dir, "--resolve"}
	args = append(args, commonInstallArgs(dir)...)
	for _, p := range resolved.Packages {
		args = append(args, fmt.Sprintf("%s-%s.%s", p.Name, p.EVR, p.Arch))
	}
	_, err := d.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("downloading resolved packages: %w", err)
	}
	return nil
}
