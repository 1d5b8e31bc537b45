package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/apt-diff/apt-diff/internal/dpkg"
	"github.com/apt-diff/apt-diff/internal/report"
)

type countingAcquirer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (c *countingAcquirer) Acquire(ctx context.Context, dir, pkg, version string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[pkg]++
	if c.fail[pkg] {
		return "", fmt.Errorf("simulated acquisition failure for %s", pkg)
	}
	return dir + "/" + pkg + ".deb", nil
}

func TestFetcherAcquiresOncePerPackage(t *testing.T) {
	acq := &countingAcquirer{}
	logger := &report.Logger{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}}
	f := &Fetcher{Acquirer: acq, TempDir: t.TempDir(), Logger: logger}

	in := make(chan Mismatch, 3)
	out := make(chan FetchedRecord, 3)
	in <- Mismatch{Path: "/a", Package: "pkg", Expected: dpkg.Hash("x"), Actual: dpkg.Hash("y")}
	in <- Mismatch{Path: "/b", Package: "pkg", Expected: dpkg.Hash("x"), Actual: dpkg.Hash("y")}
	in <- Mismatch{Path: "/c", Package: "other", Expected: dpkg.Hash("x"), Actual: dpkg.Hash("y")}
	close(in)

	if err := f.Run(context.Background(), in, out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var records []FetchedRecord
	for r := range out {
		records = append(records, r)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].First || records[1].First || !records[2].First {
		t.Errorf("expected First to flag only the first record per package, got %+v", records)
	}
	if acq.calls["pkg"] != 1 {
		t.Errorf("expected exactly one Acquire call for pkg, got %d", acq.calls["pkg"])
	}
	if acq.calls["other"] != 1 {
		t.Errorf("expected exactly one Acquire call for other, got %d", acq.calls["other"])
	}
}

func TestFetcherAcquisitionFailureIsSticky(t *testing.T) {
	acq := &countingAcquirer{fail: map[string]bool{"broken": true}}
	logger := &report.Logger{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}}
	f := &Fetcher{Acquirer: acq, TempDir: t.TempDir(), Logger: logger}

	in := make(chan Mismatch, 2)
	out := make(chan FetchedRecord, 2)
	in <- Mismatch{Path: "/a", Package: "broken"}
	in <- Mismatch{Path: "/b", Package: "broken"}
	close(in)

	if err := f.Run(context.Background(), in, out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var records []FetchedRecord
	for r := range out {
		records = append(records, r)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Acquired {
			t.Errorf("expected Acquired=false after a failed acquisition, got %+v", r)
		}
	}
	if acq.calls["broken"] != 1 {
		t.Errorf("expected the failed acquisition to be attempted only once, got %d", acq.calls["broken"])
	}
	if logger.Snapshot().Errors != 1 {
		t.Errorf("expected one reported error, got %d", logger.Snapshot().Errors)
	}
}
