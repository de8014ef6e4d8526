package filesdb

import (
	"path/filepath"
	"testing"

	"github.com/solus-project/eopkg-core/internal/model"
)

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "files.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestAddHasGetRemove(t *testing.T) {
	db, _ := newTestDB(t)
	files := []model.FileEntry{
		{Path: "/usr/bin/nano"},
		{Path: "/usr/share/man/man1/nano.1"},
	}
	if err := db.AddFiles("nano", files); err != nil {
		t.Fatalf("AddFiles failed: %v", err)
	}

	if !db.HasFile("/usr/bin/nano") {
		t.Errorf("expected /usr/bin/nano to be owned")
	}
	pkg, ok, err := db.GetFile("/usr/bin/nano")
	if err != nil || !ok || pkg != "nano" {
		t.Errorf("GetFile() = %q, %v, %v", pkg, ok, err)
	}

	owned, err := db.FilesOwnedBy("nano")
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 2 {
		t.Errorf("expected 2 owned files, got %v", owned)
	}

	if err := db.RemoveFiles(files); err != nil {
		t.Fatalf("RemoveFiles failed: %v", err)
	}
	if db.HasFile("/usr/bin/nano") {
		t.Errorf("expected /usr/bin/nano to be unregistered")
	}
}

func TestAddFilesOverwritesOwner(t *testing.T) {
	db, _ := newTestDB(t)
	f := []model.FileEntry{{Path: "/usr/bin/tool"}}
	if err := db.AddFiles("old", f); err != nil {
		t.Fatal(err)
	}
	if err := db.AddFiles("new", f); err != nil {
		t.Fatal(err)
	}
	pkg, ok, err := db.GetFile("/usr/bin/tool")
	if err != nil || !ok || pkg != "new" {
		t.Errorf("expected owner to be updated to 'new', got %q %v %v", pkg, ok, err)
	}
}

func TestPkgconfigProviderSearchesKnownDirs(t *testing.T) {
	db, _ := newTestDB(t)
	if err := db.AddFiles("zlib", []model.FileEntry{{Path: "/usr/share/pkgconfig/zlib.pc"}}); err != nil {
		t.Fatal(err)
	}
	pkg, path, ok, err := db.GetPkgconfigProvider("zlib")
	if err != nil || !ok {
		t.Fatalf("expected provider found, got ok=%v err=%v", ok, err)
	}
	if pkg != "zlib" || path != "/usr/share/pkgconfig/zlib.pc" {
		t.Errorf("unexpected provider: %q %q", pkg, path)
	}

	if _, _, ok, _ := db.GetPkgconfigProvider("nonexistent"); ok {
		t.Errorf("expected no provider for nonexistent.pc")
	}
}

func TestPkgconfig32Provider(t *testing.T) {
	db, _ := newTestDB(t)
	if err := db.AddFiles("zlib-32bit", []model.FileEntry{{Path: "/usr/lib32/pkgconfig/zlib.pc"}}); err != nil {
		t.Fatal(err)
	}
	pkg, _, ok, err := db.GetPkgconfig32Provider("zlib")
	if err != nil || !ok || pkg != "zlib-32bit" {
		t.Errorf("unexpected result: %q %v %v", pkg, ok, err)
	}
}

func TestOpenRejectsMismatchedSchemaVersion(t *testing.T) {
	_, path := newTestDB(t)

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with matching schema should succeed: %v", err)
	}
	if _, err := db2.sql.Exec(`UPDATE meta SET value = '999' WHERE key = 'schema_version'`); err != nil {
		t.Fatal(err)
	}
	db2.Close()

	_, err = Open(path)
	var needsRebuild *model.FilesDBNeedsRebuildError
	if err == nil {
		t.Fatalf("expected FilesDBNeedsRebuildError on schema mismatch")
	}
	if !isFilesDBNeedsRebuild(err, &needsRebuild) {
		t.Errorf("expected FilesDBNeedsRebuildError, got %v", err)
	}
}

func isFilesDBNeedsRebuild(err error, target **model.FilesDBNeedsRebuildError) bool {
	e, ok := err.(*model.FilesDBNeedsRebuildError)
	if ok {
		*target = e
	}
	return ok
}

func TestRebuildReplaysInstalledFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.db")
	installed := map[string][]model.FileEntry{
		"nano": {{Path: "/usr/bin/nano"}},
		"vim":  {{Path: "/usr/bin/vim"}},
	}
	db, err := Rebuild(path, installed)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	defer db.Close()

	if !db.HasFile("/usr/bin/nano") || !db.HasFile("/usr/bin/vim") {
		t.Errorf("expected rebuilt db to contain replayed files")
	}
}
