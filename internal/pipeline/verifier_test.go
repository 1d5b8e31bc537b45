package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/apt-diff/apt-diff/internal/dpkg"
	"github.com/apt-diff/apt-diff/internal/report"
)

func md5Hex(b []byte) dpkg.Hash {
	sum := md5.Sum(b)
	return dpkg.Hash(fmt.Sprintf("%x", sum))
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello, apt-diff")
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile: %v", err)
	}
	if got != md5Hex(content) {
		t.Errorf("hashFile = %q, want %q", got, md5Hex(content))
	}
}

func TestHashFileEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile: %v", err)
	}
	if got != md5Hex(nil) {
		t.Errorf("hashFile(empty) = %q, want %q", got, md5Hex(nil))
	}
}

func TestHashVerifierPoolReportsMismatchesOnly(t *testing.T) {
	dir := t.TempDir()
	matchPath := filepath.Join(dir, "match")
	mismatchPath := filepath.Join(dir, "mismatch")
	if err := os.WriteFile(matchPath, []byte("same"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(mismatchPath, []byte("actual"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var stderr bytes.Buffer
	logger := &report.Logger{Out: &bytes.Buffer{}, Err: &stderr}
	pool := &HashVerifierPool{Workers: 2, Logger: logger}

	in := make(chan VerifyRequest, 2)
	out := make(chan Mismatch, 2)
	in <- VerifyRequest{Path: "/match", Package: "pkg", FilePath: matchPath, Expected: md5Hex([]byte("same"))}
	in <- VerifyRequest{Path: "/mismatch", Package: "pkg", FilePath: mismatchPath, Expected: md5Hex([]byte("expected"))}
	close(in)

	if err := pool.Run(context.Background(), in, out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var mismatches []Mismatch
	for m := range out {
		mismatches = append(mismatches, m)
	}
	if len(mismatches) != 1 {
		t.Fatalf("expected exactly one mismatch, got %d: %v", len(mismatches), mismatches)
	}
	if mismatches[0].Path != "/mismatch" {
		t.Errorf("unexpected mismatch path %q", mismatches[0].Path)
	}
}

func TestHashVerifierPoolReportsIOErrors(t *testing.T) {
	logger := &report.Logger{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}}
	pool := &HashVerifierPool{Workers: 1, Logger: logger}

	in := make(chan VerifyRequest, 1)
	out := make(chan Mismatch, 1)
	in <- VerifyRequest{Path: "/gone", Package: "pkg", FilePath: filepath.Join(t.TempDir(), "does-not-exist")}
	close(in)

	if err := pool.Run(context.Background(), in, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if logger.Snapshot().Errors != 1 {
		t.Errorf("expected one reported error, got %d", logger.Snapshot().Errors)
	}
}
