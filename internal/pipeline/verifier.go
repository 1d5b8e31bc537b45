// Package pipeline is the verification pipeline (§4.3-§4.6): a bounded
// pool of hash verifiers feeding a fetcher, which serializes archive
// acquisition per package, feeding a differ, which extracts and diffs.
//
// The original implementation wired these as OS processes connected by
// pipes; §9 of the specification explicitly sanctions collapsing that
// into goroutines and channels on a single-process runtime as long as the
// same ordering guarantees hold. That's what Supervisor does here, using
// the same bounded-fan-out idiom (errgroup.SetLimit) the rest of the
// example pack uses for worker pools.
package pipeline

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"

	"github.com/apt-diff/apt-diff/internal/dpkg"
	"github.com/apt-diff/apt-diff/internal/report"
	"github.com/edsrzf/mmap-go"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the hash verifier pool size used when Config.Workers
// is zero (§6 default for the pipeline's concurrency knob).
const DefaultWorkers = 5

// VerifyRequest asks the pool to compare the file at FilePath's content
// against Expected. Path and Package identify the finding for reporting
// downstream; FilePath is almost always Path itself, kept distinct in
// case a future caller needs to hash through a different view of the
// same file.
type VerifyRequest struct {
	Path     string
	Package  string
	FilePath string
	Expected dpkg.Hash
}

// Mismatch is emitted for every VerifyRequest whose actual content hash
// differs from Expected.
type Mismatch struct {
	Path     string // the path as dpkg recorded it, used as the archive member name
	FilePath string // the filesystem path actually hashed
	Package  string
	Expected dpkg.Hash
	Actual   dpkg.Hash
}

// HashVerifierPool computes MD5 digests for incoming requests with a
// bounded number of concurrent workers and forwards mismatches on out.
// Matching files are silently dropped: the pipeline only ever reports
// discrepancies.
type HashVerifierPool struct {
	Workers int
	Logger  *report.Logger
}

// Run drains in until it's closed, computing digests concurrently up to
// Workers at a time, then closes out. The returned error is non-nil only
// if ctx is canceled; per-file hashing failures are reported through
// Logger and do not abort the pool.
func (p *HashVerifierPool) Run(ctx context.Context, in <-chan VerifyRequest, out chan<- Mismatch) error {
	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

loop:
	for {
		select {
		case req, ok := <-in:
			if !ok {
				break loop
			}
			g.Go(func() error {
				p.verify(gctx, req, out)
				return nil
			})
		case <-gctx.Done():
			break loop
		}
	}

	err := g.Wait()
	close(out)
	return err
}

func (p *HashVerifierPool) verify(ctx context.Context, req VerifyRequest, out chan<- Mismatch) {
	actual, err := hashFile(req.FilePath)
	if err != nil {
		p.Logger.SystemError("reading %s (owned by %s): %v", req.Path, req.Package, err)
		return
	}
	if actual == req.Expected {
		return
	}
	select {
	case out <- Mismatch{Path: req.Path, FilePath: req.FilePath, Package: req.Package, Expected: req.Expected, Actual: actual}:
	case <-ctx.Done():
	}
}

// hashFile computes the MD5 digest of path, memory-mapping the file when
// possible and falling back to a streaming read otherwise (zero-length
// files can't be mapped, and some filesystems/special files reject mmap
// outright) -- mirroring the mmap-first, read()-fallback strategy the
// original implementation used for the same reason: avoid a full buffer
// copy for the common case of large regular files.
func hashFile(path string) (dpkg.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	h := md5.New()
	if info.Size() > 0 {
		if m, err := mmap.Map(f, mmap.RDONLY, 0); err == nil {
			_, werr := h.Write(m)
			unmapErr := m.Unmap()
			if werr == nil && unmapErr == nil {
				return dpkg.Hash(fmt.Sprintf("%x", h.Sum(nil))), nil
			}
			// mmap succeeded but hashing/unmapping didn't: fall through
			// to the streaming path with a fresh hash and fresh offset.
			h = md5.New()
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return "", err
			}
		}
	}

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return dpkg.Hash(fmt.Sprintf("%x", h.Sum(nil))), nil
}
