package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/apt-diff/apt-diff/internal/archive"
	"github.com/apt-diff/apt-diff/internal/report"
)

// FetchedRecord is a Mismatch tagged with the package's acquired archive,
// ready for the differ. First marks the record whose package wasn't seen
// before in this run. The differ does not consult it: it decides when to
// extract from its own per-package cache of extraction directories.
type FetchedRecord struct {
	Mismatch
	First    bool
	DebPath  string // "" if acquisition failed; the differ then reports an error and skips the record
	Acquired bool
}

// Fetcher serializes archive acquisition: the first mismatch seen for a
// package triggers exactly one Acquirer.Acquire call, every subsequent
// mismatch for that package reuses the same .deb (§4.4, §8 "at-most-one
// archive acquisition per package").
type Fetcher struct {
	Acquirer archive.Acquirer
	TempDir  string
	Logger   *report.Logger

	acquired map[string]string // package -> deb path, once resolved
}

// Run reads mismatches from in in order and writes a FetchedRecord for
// each to out, then closes out. Acquisition happens synchronously on this
// single goroutine, which is what gives the "exactly once per package"
// guarantee: there is no concurrent acquisition to race.
func (f *Fetcher) Run(ctx context.Context, in <-chan Mismatch, out chan<- FetchedRecord) error {
	f.acquired = make(map[string]string)
	defer close(out)

	for {
		select {
		case m, ok := <-in:
			if !ok {
				return nil
			}
			rec := f.fetch(ctx, m)
			select {
			case out <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Fetcher) fetch(ctx context.Context, m Mismatch) FetchedRecord {
	debPath, first, ok := f.acquirePackage(ctx, m.Package)
	return FetchedRecord{Mismatch: m, First: first, DebPath: debPath, Acquired: ok}
}

func (f *Fetcher) acquirePackage(ctx context.Context, pkg string) (debPath string, first bool, ok bool) {
	if path, seen := f.acquired[pkg]; seen {
		return path, false, path != ""
	}

	// Downloads all land in the same archives/ directory; per-package
	// trees only exist under extracted/, on the differ's side.
	dir := filepath.Join(f.TempDir, "archives")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.Logger.SystemError("creating archive directory for %s: %v", pkg, err)
		f.acquired[pkg] = ""
		return "", true, false
	}

	path, err := f.Acquirer.Acquire(ctx, dir, pkg, "")
	if err != nil {
		f.Logger.SystemError("acquiring archive for %s: %v", pkg, err)
		f.acquired[pkg] = ""
		return "", true, false
	}

	f.acquired[pkg] = path
	return path, true, true
}
