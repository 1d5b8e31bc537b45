package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/blakesmith/ar"
)

func buildDeb(t *testing.T, control string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		t.Fatalf("WriteGlobalHeader: %v", err)
	}

	writeMember := func(name string, body []byte) {
		if err := w.WriteHeader(&ar.Header{Name: name, Size: int64(len(body)), Mode: 0o644}); err != nil {
			t.Fatalf("WriteHeader %s: %v", name, err)
		}
		if _, err := w.Write(body); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}

	writeMember("debian-binary", []byte("2.0\n"))

	var controlTar bytes.Buffer
	controlGz := gzip.NewWriter(&controlTar)
	ctrlTarW := tar.NewWriter(controlGz)
	ctrlBody := []byte(control)
	if err := ctrlTarW.WriteHeader(&tar.Header{Name: "./control", Mode: 0o644, Size: int64(len(ctrlBody)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("control tar header: %v", err)
	}
	if _, err := ctrlTarW.Write(ctrlBody); err != nil {
		t.Fatalf("control tar write: %v", err)
	}
	ctrlTarW.Close()
	controlGz.Close()
	writeMember("control.tar.gz", controlTar.Bytes())

	var dataTar bytes.Buffer
	dataGz := gzip.NewWriter(&dataTar)
	dataTarW := tar.NewWriter(dataGz)
	for name, content := range files {
		if err := dataTarW.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("data tar header %s: %v", name, err)
		}
		if _, err := dataTarW.Write([]byte(content)); err != nil {
			t.Fatalf("data tar write %s: %v", name, err)
		}
	}
	dataTarW.Close()
	dataGz.Close()
	writeMember("data.tar.gz", dataTar.Bytes())

	return buf.Bytes()
}

func TestExtractAll(t *testing.T) {
	deb := buildDeb(t, "Package: bash\nVersion: 1.0\n", map[string]string{
		"./bin/bash":        "binary content",
		"./etc/bash.bashrc": "rc content",
	})

	dest := t.TempDir()
	if err := ExtractAll(bytes.NewReader(deb), dest); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "bin", "bash"))
	if err != nil {
		t.Fatalf("reading extracted /bin/bash: %v", err)
	}
	if string(got) != "binary content" {
		t.Errorf("unexpected content for /bin/bash: %q", got)
	}

	got, err = os.ReadFile(filepath.Join(dest, "etc", "bash.bashrc"))
	if err != nil {
		t.Fatalf("reading extracted /etc/bash.bashrc: %v", err)
	}
	if string(got) != "rc content" {
		t.Errorf("unexpected content for /etc/bash.bashrc: %q", got)
	}
}

func TestControlField(t *testing.T) {
	deb := buildDeb(t, "Package: bash\nVersion: 1.0\nArchitecture: amd64\n", nil)

	pkg, err := ControlField(bytes.NewReader(deb), "Package")
	if err != nil {
		t.Fatalf("ControlField: %v", err)
	}
	if pkg != "bash" {
		t.Errorf("ControlField(Package) = %q, want bash", pkg)
	}

	missing, err := ControlField(bytes.NewReader(deb), "Essential")
	if err != nil {
		t.Fatalf("ControlField: %v", err)
	}
	if missing != "" {
		t.Errorf("expected empty string for absent field, got %q", missing)
	}
}
