package pipeline

import (
	"context"

	"github.com/apt-diff/apt-diff/internal/archive"
	"github.com/apt-diff/apt-diff/internal/report"
	"golang.org/x/sync/errgroup"
)

// Config wires a Supervisor's three stages (§4.6).
type Config struct {
	Workers  int // hash verifier pool size, DefaultWorkers if zero
	Acquirer archive.Acquirer
	TempDir  string
	Logger   *report.Logger
}

// Supervisor starts the hash verifier pool, fetcher, and differ as
// goroutines connected by channels, and exposes the pool's input channel
// for the traversal driver to submit VerifyRequests on.
//
// This is the Go-native replacement for the original's process pipeline:
// one errgroup instead of forked processes and pipes, per §9's explicit
// sanction for this redesign as long as ordering guarantees hold. They
// do: the fetcher is a single goroutine (serializing acquisition), and
// the differ is a single goroutine (serializing extraction/reporting),
// exactly as required by §8.
type Supervisor struct {
	requests chan VerifyRequest
	noHash   chan Mismatch

	g       *errgroup.Group
	differ  *Differ
	discRes chan int
}

// NewSupervisor builds and starts a Supervisor. Submit requests on the
// returned value, then call Close followed by Wait once the traversal
// driver has submitted everything.
func NewSupervisor(ctx context.Context, cfg Config) *Supervisor {
	requests := make(chan VerifyRequest, 64)
	noHash := make(chan Mismatch, 64)
	mismatches := make(chan Mismatch, 64)
	merged := make(chan Mismatch, 64)
	fetched := make(chan FetchedRecord, 64)

	pool := &HashVerifierPool{Workers: cfg.Workers, Logger: cfg.Logger}
	fetcher := &Fetcher{
		Acquirer: cfg.Acquirer,
		TempDir:  cfg.TempDir,
		Logger:   cfg.Logger,
	}
	differ := &Differ{
		Logger:  cfg.Logger,
		TempDir: cfg.TempDir,
	}

	g, gctx := errgroup.WithContext(ctx)
	discRes := make(chan int, 1)

	g.Go(func() error {
		return pool.Run(gctx, requests, mismatches)
	})
	// mergeMismatches is the fetcher's two-source reactor (§4.4): it reads
	// both the hash verifier's mismatches and the bypass stream of no-hash
	// records concurrently, preserving each stream's own order, and closes
	// the merged channel once both sources are drained.
	g.Go(func() error {
		return mergeMismatches(gctx, mismatches, noHash, merged)
	})
	g.Go(func() error {
		return fetcher.Run(gctx, merged, fetched)
	})
	g.Go(func() error {
		n, err := differ.Run(gctx, fetched)
		discRes <- n
		return err
	})

	return &Supervisor{requests: requests, noHash: noHash, g: g, differ: differ, discRes: discRes}
}

// Submit enqueues a verification request. It must not be called after
// Close.
func (s *Supervisor) Submit(req VerifyRequest) {
	s.requests <- req
}

// SubmitNoHash enqueues a record for a path dpkg owns but carries no usable
// hash for, bypassing the hash verifier entirely and going straight to the
// fetcher (§4.2 "no-hash file check", §4.4 bypass stream).
func (s *Supervisor) SubmitNoHash(pkg, path string) {
	s.noHash <- Mismatch{Path: path, FilePath: path, Package: pkg}
}

// Close signals that no more requests will be submitted. The pipeline
// drains the requests already queued before shutting down.
func (s *Supervisor) Close() {
	close(s.requests)
	close(s.noHash)
}

// mergeMismatches fans two Mismatch streams into one, preserving each
// source's relative order (the combined order across sources is
// unspecified, per §5 "mismatch outputs may be reordered ... this is
// acceptable because every record carries its pkg and path"). It returns
// once both inputs are closed, having closed out.
func mergeMismatches(ctx context.Context, a, b <-chan Mismatch, out chan<- Mismatch) error {
	defer close(out)
	for a != nil || b != nil {
		select {
		case m, ok := <-a:
			if !ok {
				a = nil
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		case m, ok := <-b:
			if !ok {
				b = nil
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Wait blocks until every stage has drained and returns the total
// discrepancy count the differ tallied, along with any pipeline error
// (context cancellation, a stage's own unrecoverable failure).
func (s *Supervisor) Wait() (int, error) {
	err := s.g.Wait()
	discrepancies := <-s.discRes
	return discrepancies, err
}
