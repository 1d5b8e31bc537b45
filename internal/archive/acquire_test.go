package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFakeDebs(t *testing.T, dir string, names []string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", n, err)
		}
	}
}

func TestFindDownloadedDeb(t *testing.T) {
	dir := t.TempDir()
	writeFakeDebs(t, dir, []string{
		"libfoo_1.2-3_amd64.deb",
		"libfoo_1.2-3_i386.deb",
		"libfoo-dev_1.2-3_amd64.deb",
	})

	// An arch-qualified name must pick exactly that architecture's archive.
	got, err := findDownloadedDeb(dir, "libfoo:i386")
	if err != nil {
		t.Fatalf("findDownloadedDeb: %v", err)
	}
	if filepath.Base(got) != "libfoo_1.2-3_i386.deb" {
		t.Errorf("libfoo:i386 matched %s", got)
	}

	// An unqualified name must not leak into libfoo-dev's archives.
	got, err = findDownloadedDeb(dir, "libfoo")
	if err != nil {
		t.Fatalf("findDownloadedDeb: %v", err)
	}
	if filepath.Base(got) != "libfoo_1.2-3_amd64.deb" {
		t.Errorf("libfoo matched %s", got)
	}

	if _, err := findDownloadedDeb(dir, "libbar"); err == nil {
		t.Errorf("expected an error for a package with no downloaded archive")
	}
	if _, err := findDownloadedDeb(dir, "libfoo:armhf"); err == nil {
		t.Errorf("expected an error for an architecture with no downloaded archive")
	}
}

func TestConfirmPackageName(t *testing.T) {
	dir := t.TempDir()
	deb := buildDeb(t, "Package: bash\nVersion: 5.2-1\n", map[string]string{
		"./bin/bash": "binary content",
	})
	debPath := filepath.Join(dir, "bash_5.2-1_amd64.deb")
	if err := os.WriteFile(debPath, deb, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := confirmPackageName(debPath, "bash"); err != nil {
		t.Errorf("expected bash to confirm, got %v", err)
	}
	if err := confirmPackageName(debPath, "bash:amd64"); err != nil {
		t.Errorf("expected the arch-qualified name to confirm, got %v", err)
	}
	if err := confirmPackageName(debPath, "dash"); err == nil {
		t.Errorf("expected a mismatched package name to be rejected")
	}
}
