package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/apt-diff/apt-diff/internal/archive"
	"github.com/apt-diff/apt-diff/internal/report"
)

// Differ is the pipeline's terminal stage (§4.5): for every FetchedRecord
// it extracts the expected file's content out of the package's archive
// and runs an external diff against what's actually on disk, printing and
// counting a discrepancy for every path that differs.
//
// A package's archive is extracted at most once (§3, §8: "at most one
// extraction per package"): the first record for a package unpacks its
// data.tar into TempDir/extracted/<pkg>, and every subsequent record for
// that package reads straight out of that directory rather than reopening
// the .deb.
type Differ struct {
	Logger  *report.Logger
	TempDir string

	mu            sync.Mutex
	discrepancies int
	extracted     map[string]string // package -> extraction directory
}

// Run drains in until it's closed, reporting through Logger as it goes.
// It returns the total discrepancy count once the channel is drained;
// callers fold this into the overall summary (§6: "reported back over its
// output channel at EOF").
func (d *Differ) Run(ctx context.Context, in <-chan FetchedRecord) (int, error) {
	for {
		select {
		case rec, ok := <-in:
			if !ok {
				return d.discrepancies, nil
			}
			d.process(rec)
		case <-ctx.Done():
			return d.discrepancies, ctx.Err()
		}
	}
}

func (d *Differ) process(rec FetchedRecord) {
	if !rec.Acquired {
		d.Logger.SystemError("skipping %s (owned by %s): archive unavailable", rec.Path, rec.Package)
		return
	}

	dir, err := d.extractionDir(rec)
	if err != nil {
		d.Logger.SystemError("extracting %s for %s: %v", rec.DebPath, rec.Package, err)
		return
	}

	extractedPath := filepath.Join(dir, rec.Path)
	if _, err := os.Stat(extractedPath); err != nil {
		if os.IsNotExist(err) {
			d.mu.Lock()
			d.discrepancies++
			d.mu.Unlock()
			d.Logger.Finding("%s (owned by %s) is missing from the package archive", rec.Path, rec.Package)
			return
		}
		d.Logger.SystemError("reading %s from extracted %s: %v", rec.Path, rec.Package, err)
		return
	}

	changed, diffText, err := runDiff(extractedPath, rec.FilePath)
	if err != nil {
		d.Logger.SystemError("diffing %s: %v", rec.Path, err)
		return
	}
	if !changed {
		// The md5sum mismatch didn't survive a byte-for-byte comparison
		// against the archive (e.g. a stale/incorrect md5sums entry);
		// nothing to report.
		return
	}

	d.mu.Lock()
	d.discrepancies++
	d.mu.Unlock()
	d.Logger.Finding("%s (owned by %s) differs from the package archive:\n%s", rec.Path, rec.Package, diffText)
}

// extractionDir returns the directory holding rec.Package's already
// unpacked archive content, extracting it from rec.DebPath the first time
// the package is seen. Run drains its input channel from a single
// goroutine, so this doesn't need to guard against concurrent extraction
// of the same package, only against racing with Run over d.extracted and
// d.discrepancies.
func (d *Differ) extractionDir(rec FetchedRecord) (string, error) {
	d.mu.Lock()
	if dir, ok := d.extracted[rec.Package]; ok {
		d.mu.Unlock()
		return dir, nil
	}
	d.mu.Unlock()

	dir := filepath.Join(d.TempDir, "extracted", rec.Package)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	deb, err := os.Open(rec.DebPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", rec.DebPath, err)
	}
	defer deb.Close()

	if err := archive.ExtractAll(deb, dir); err != nil {
		return "", fmt.Errorf("extracting %s: %w", rec.DebPath, err)
	}

	d.mu.Lock()
	if d.extracted == nil {
		d.extracted = make(map[string]string)
	}
	d.extracted[rec.Package] = dir
	d.mu.Unlock()
	return dir, nil
}

// runDiff runs "diff -u" with the extracted archive copy as the old file
// and the on-disk file as the new one, returning whether they differ and
// the unified output. diff exiting 1 means "files differ"; anything above
// that is a real failure.
func runDiff(extractedPath, diskPath string) (bool, string, error) {
	cmd := exec.Command("diff", "-u", extractedPath, diskPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()
	if err == nil {
		return false, "", nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return true, out.String(), nil
	}
	return false, "", fmt.Errorf("running diff: %w", err)
}
