package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureRun(t *testing.T, args []string) (stdout, stderr string, code int) {
	t.Helper()
	dir := t.TempDir()
	outFile, err := os.Create(filepath.Join(dir, "stdout"))
	if err != nil {
		t.Fatalf("creating stdout capture file: %v", err)
	}
	defer outFile.Close()
	errFile, err := os.Create(filepath.Join(dir, "stderr"))
	if err != nil {
		t.Fatalf("creating stderr capture file: %v", err)
	}
	defer errFile.Close()

	code = run(args, outFile, errFile)

	outBytes, err := os.ReadFile(outFile.Name())
	if err != nil {
		t.Fatalf("reading stdout capture: %v", err)
	}
	errBytes, err := os.ReadFile(errFile.Name())
	if err != nil {
		t.Fatalf("reading stderr capture: %v", err)
	}
	return string(outBytes), string(errBytes), code
}

func TestRunVersion(t *testing.T) {
	stdout, _, code := captureRun(t, []string{"--version"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stdout, version) {
		t.Errorf("expected version string in output, got %q", stdout)
	}
}

func TestRunHelp(t *testing.T) {
	stdout, _, code := captureRun(t, []string{"--help"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stdout, "Usage: apt-diff") {
		t.Errorf("expected usage text, got %q", stdout)
	}
}

func TestRunNoActions(t *testing.T) {
	stdout, _, code := captureRun(t, []string{})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stdout, "no action specified") {
		t.Errorf("expected a no-action warning, got %q", stdout)
	}
}

func TestRunRejectsUnclassifiableArgument(t *testing.T) {
	_, stderr, code := captureRun(t, []string{"--", "-neither-path-nor-package"})
	if code != 2 {
		t.Fatalf("expected exit code 2 for an unclassifiable argument, got %d", code)
	}
	if !strings.Contains(stderr, "cannot classify") {
		t.Errorf("expected a classification error on stderr, got %q", stderr)
	}
}

func TestRunBadFlag(t *testing.T) {
	_, stderr, code := captureRun(t, []string{"--not-a-real-flag"})
	if code != 2 {
		t.Fatalf("expected exit code 2 for a bad flag, got %d", code)
	}
	if stderr == "" {
		t.Errorf("expected a usage error on stderr")
	}
}
