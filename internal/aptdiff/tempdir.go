package aptdiff

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apt-diff/apt-diff/internal/report"
)

// defaultTempDir returns $TMPDIR/apt-diff_<uid>, creating it if needed.
// 0700 is enforced even when the directory already exists: it will hold
// extracted package content and a private apt cache, neither of which
// other users on the machine have any business reading.
func defaultTempDir() (string, error) {
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("apt-diff_%d", os.Getuid()))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func removeAll(dir string, logger *report.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		logger.SystemError("removing %s: %v", dir, err)
	}
}

// cacheOptions returns the apt-get options used to keep apt-get download
// from touching the system's shared cache, unless the caller opted out
// with --no-override-cache or is root (who can write the real cache and
// benefits from its contents). A caller-supplied Dir::Cache always wins.
// Redirecting Dir::Cache to the temp root puts apt's archives/ and
// archives/partial/ directories under it, alongside extracted/.
func cacheOptions(noOverride bool, tempDir string, existing map[string]string) map[string]string {
	if noOverride || os.Getuid() == 0 {
		return existing
	}
	if _, ok := existing["Dir::Cache"]; ok {
		return existing
	}
	merged := make(map[string]string, len(existing)+1)
	for k, v := range existing {
		merged[k] = v
	}
	merged["Dir::Cache"] = tempDir
	return merged
}
