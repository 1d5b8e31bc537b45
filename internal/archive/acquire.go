package archive

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Acquirer fetches the .deb archive for an installed package into dir and
// returns its path. Acquisition is deliberately opaque to the fetcher
// stage: how the bytes are obtained (local apt cache, a download, a
// mirror) is this interface's concern alone.
type Acquirer interface {
	Acquire(ctx context.Context, dir, pkg, version string) (debPath string, err error)
}

// AptGetAcquirer acquires archives via "apt-get download", the same tool
// the package manager itself uses to populate /var/cache/apt/archives.
// AptOptions are passed through as repeated "-o key=value" arguments
// (§6 --apt-option), letting a caller point at a non-default sources list
// or cache directory the way the CLI does.
type AptGetAcquirer struct {
	AptOptions map[string]string
}

// Acquire shells out to "apt-get download <pkg>=<version>" with dir as the
// working directory, then locates the resulting .deb by name prefix (apt
// names it "<pkg>_<version-with-colons-and-slashes-replaced>_<arch>.deb").
// version is resolved from the currently installed package if the caller
// passes "": the whole point of apt-diff is comparing against what's
// actually installed, not whatever happens to be newest in the cache.
func (a AptGetAcquirer) Acquire(ctx context.Context, dir, pkg, version string) (string, error) {
	if version == "" {
		v, err := installedVersion(ctx, pkg)
		if err != nil {
			return "", err
		}
		version = v
	}

	args := []string{"download"}
	for k, v := range a.AptOptions {
		args = append(args, "-o", k+"="+v)
	}
	target := pkg
	if version != "" {
		target = pkg + "=" + version
	}
	args = append(args, target)

	cmd := exec.CommandContext(ctx, "apt-get", args...)
	cmd.Dir = dir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("apt-get download %s: %w: %s", target, err, strings.TrimSpace(stderr.String()))
	}

	debPath, err := findDownloadedDeb(dir, pkg)
	if err != nil {
		return "", err
	}
	if err := confirmPackageName(debPath, pkg); err != nil {
		return "", err
	}
	return debPath, nil
}

// confirmPackageName cross-checks the downloaded archive's own control
// file against the package that was asked for, catching a stale .deb left
// in the download directory by an earlier run for a different package
// whose name happens to share a prefix.
func confirmPackageName(debPath, pkg string) error {
	name, _, _ := strings.Cut(pkg, ":")
	f, err := os.Open(debPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", debPath, err)
	}
	defer f.Close()
	got, err := ControlField(f, "Package")
	if err != nil {
		return fmt.Errorf("reading control file of %s: %w", debPath, err)
	}
	if got != name {
		return fmt.Errorf("%s contains package %q, expected %q", debPath, got, name)
	}
	return nil
}

func installedVersion(ctx context.Context, pkg string) (string, error) {
	cmd := exec.CommandContext(ctx, "dpkg-query", "--show", "-f", "${Version}", pkg)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("dpkg-query --show %s: %w", pkg, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// findDownloadedDeb finds the .deb apt-get download dropped into dir for
// pkg. Archives are named "<name>_<version>_<arch>.deb", so an
// arch-qualified package ("name:arch") matches on the bare name and then
// narrows to the archive whose trailing component is that architecture.
// When multiple architectures remain for an unqualified name (a
// multi-arch system downloading a package installed for several
// architectures at once), the lexicographically first match wins.
func findDownloadedDeb(dir, pkg string) (string, error) {
	name, arch, _ := strings.Cut(pkg, ":")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", dir, err)
	}
	var match string
	for _, e := range entries {
		n := e.Name()
		if !strings.HasPrefix(n, name+"_") || !strings.HasSuffix(n, ".deb") {
			continue
		}
		if arch != "" && !strings.HasSuffix(n, "_"+arch+".deb") {
			continue
		}
		if match == "" || n < match {
			match = n
		}
	}
	if match == "" {
		return "", fmt.Errorf("apt-get download for %s produced no .deb file in %s", pkg, dir)
	}
	return filepath.Join(dir, match), nil
}
