package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/solus-project/eopkg-core/internal/model"
)

func writeTestPayload(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "usr", "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "usr", "bin", "hello"), []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}
}

func testPackage() model.PackageRecord {
	return model.PackageRecord{
		Name:         "hello",
		Version:      "1.0",
		Release:      1,
		Distribution: "Solus",
		Architecture: "x86_64",
		Summary:      "greets the user",
		Runtime: []model.Relation{
			{Package: "glibc"},
		},
	}
}

func TestWriteAndExtractMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload")
	writeTestPayload(t, payload)

	files := []model.FileEntry{
		{Path: "/usr/bin/hello", Type: model.FileTypeExecutable, Mode: 0755},
	}

	archivePath := filepath.Join(dir, "hello-1.0-1-x86_64.eopkg")
	if err := Write(archivePath, testPackage(), files, WriteOptions{PayloadDir: payload, Reproducible: true}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	pkg, entries, err := ExtractMetadataOnly(archivePath)
	if err != nil {
		t.Fatalf("ExtractMetadataOnly failed: %v", err)
	}
	if pkg.Name != "hello" || pkg.Version != "1.0" || pkg.Release != 1 {
		t.Errorf("unexpected package record: %+v", pkg)
	}
	if len(pkg.Runtime) != 1 || pkg.Runtime[0].Package != "glibc" {
		t.Errorf("unexpected runtime deps: %+v", pkg.Runtime)
	}
	if len(entries) != 1 || entries[0].Path != "/usr/bin/hello" {
		t.Errorf("unexpected files: %+v", entries)
	}
}

func TestWriteDeterministic(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload")
	writeTestPayload(t, payload)
	files := []model.FileEntry{{Path: "/usr/bin/hello", Type: model.FileTypeExecutable}}

	p1 := filepath.Join(dir, "a.eopkg")
	p2 := filepath.Join(dir, "b.eopkg")
	opts := WriteOptions{PayloadDir: payload, Reproducible: true}
	if err := Write(p1, testPackage(), files, opts); err != nil {
		t.Fatal(err)
	}
	if err := Write(p2, testPackage(), files, opts); err != nil {
		t.Fatal(err)
	}

	h1, err := SHA1File(p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := SHA1File(p2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("expected reproducible builds to match: %s != %s", h1, h2)
	}
}

func TestExtractFullUnpacksPayload(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload")
	writeTestPayload(t, payload)
	files := []model.FileEntry{{Path: "/usr/bin/hello", Type: model.FileTypeExecutable}}

	archivePath := filepath.Join(dir, "hello-1.0-1-x86_64.eopkg")
	if err := Write(archivePath, testPackage(), files, WriteOptions{PayloadDir: payload}); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "dest")
	pkg, entries, err := ExtractFull(archivePath, dest)
	if err != nil {
		t.Fatalf("ExtractFull failed: %v", err)
	}
	if pkg.Name != "hello" {
		t.Errorf("unexpected package: %+v", pkg)
	}
	if len(entries) != 1 {
		t.Errorf("unexpected entries: %+v", entries)
	}
	got, err := os.ReadFile(filepath.Join(dest, "usr", "bin", "hello"))
	if err != nil {
		t.Fatalf("expected extracted payload file: %v", err)
	}
	if string(got) != "#!/bin/sh\necho hi\n" {
		t.Errorf("unexpected payload content: %q", got)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload")
	writeTestPayload(t, payload)
	archivePath := filepath.Join(dir, "hello-1.0-1-x86_64.eopkg")
	if err := Write(archivePath, testPackage(), nil, WriteOptions{PayloadDir: payload}); err != nil {
		t.Fatal(err)
	}

	sum, err := SHA1File(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(archivePath, sum); err != nil {
		t.Errorf("expected verify to succeed, got %v", err)
	}
	if err := Verify(archivePath, "deadbeef"); err == nil {
		t.Errorf("expected verify to fail on mismatched hash")
	}
}

func TestDeltaApplicable(t *testing.T) {
	delta := model.DeltaEntry{SourceRelease: 3}
	if !DeltaApplicable(delta, 3, "Solus", "x86_64", "Solus", "x86_64") {
		t.Errorf("expected delta to be applicable")
	}
	if DeltaApplicable(delta, 2, "Solus", "x86_64", "Solus", "x86_64") {
		t.Errorf("expected delta to be inapplicable on release mismatch")
	}
	if DeltaApplicable(delta, 3, "Solus", "aarch64", "Solus", "x86_64") {
		t.Errorf("expected delta to be inapplicable on arch mismatch")
	}
}

func TestDeltaFileName(t *testing.T) {
	got := DeltaFileName("hello", 1, 2, "Solus", "x86_64")
	want := "hello-1-2-Solus-x86_64.delta.eopkg"
	if got != want {
		t.Errorf("DeltaFileName() = %q, want %q", got, want)
	}
}
