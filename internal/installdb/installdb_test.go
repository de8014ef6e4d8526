package installdb

import (
	"path/filepath"
	"testing"

	"github.com/solus-project/eopkg-core/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return db
}

func TestPutGetDelete(t *testing.T) {
	db := newTestDB(t)
	rec := model.InstalledRecord{
		PackageRecord: model.PackageRecord{Name: "nano", Version: "6.0", Release: 2},
		Reason:        model.ReasonExplicit,
	}
	if err := db.Put(rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !db.Has("nano") {
		t.Errorf("expected nano to be installed")
	}
	got, err := db.Get("nano")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != "6.0" {
		t.Errorf("unexpected version: %q", got.Version)
	}

	if err := db.Delete("nano"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if db.Has("nano") {
		t.Errorf("expected nano to be gone")
	}
	if _, err := db.Get("nano"); err == nil {
		t.Errorf("expected UnknownPackageError")
	}
}

func TestPersistenceAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	rec := model.InstalledRecord{PackageRecord: model.PackageRecord{Name: "nano", Version: "6.0"}}
	if err := db.Put(rec); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.Has("nano") {
		t.Errorf("expected record to survive reopen")
	}
}

func TestRevDeps(t *testing.T) {
	db := newTestDB(t)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(db.Put(model.InstalledRecord{PackageRecord: model.PackageRecord{Name: "glibc"}}))
	must(db.Put(model.InstalledRecord{
		PackageRecord: model.PackageRecord{
			Name:    "nano",
			Runtime: []model.Relation{{Package: "glibc"}, {Package: "ncurses"}},
		},
	}))
	must(db.Put(model.InstalledRecord{
		PackageRecord: model.PackageRecord{
			Name:    "vim",
			Runtime: []model.Relation{{Package: "glibc"}},
		},
	}))

	deps := db.RevDeps("glibc")
	if len(deps) != 2 {
		t.Fatalf("expected 2 revdeps of glibc, got %v", deps)
	}

	must(db.Delete("vim"))
	deps = db.RevDeps("glibc")
	if len(deps) != 1 || deps[0].Package != "nano" {
		t.Errorf("expected revdep index to update after delete, got %v", deps)
	}
}

func TestSetReason(t *testing.T) {
	db := newTestDB(t)
	if err := db.Put(model.InstalledRecord{
		PackageRecord: model.PackageRecord{Name: "nano"},
		Reason:        model.ReasonExplicit,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetReason("nano", model.ReasonAutomatic); err != nil {
		t.Fatalf("SetReason failed: %v", err)
	}
	rec, err := db.Get("nano")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Reason != model.ReasonAutomatic {
		t.Errorf("expected reason automatic, got %v", rec.Reason)
	}

	names := db.ListByReason(model.ReasonAutomatic)
	if len(names) != 1 || names[0] != "nano" {
		t.Errorf("unexpected ListByReason result: %v", names)
	}
}

func TestRecordPathUsesPackageName(t *testing.T) {
	db := newTestDB(t)
	if got, want := db.recordPath("nano"), filepath.Join(db.root, "nano.json"); got != want {
		t.Errorf("recordPath() = %q, want %q", got, want)
	}
}
