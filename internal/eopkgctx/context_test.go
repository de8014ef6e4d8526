package eopkgctx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/solus-project/eopkg-core/internal/config"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Directories: config.Directories{
			LibDir:    filepath.Join(dir, "lib"),
			CacheDir:  filepath.Join(dir, "cache"),
			ConfigDir: filepath.Join(dir, "etc"),
		},
	}
}

func TestOpenCreatesWorkingContext(t *testing.T) {
	cfg := testConfig(t)
	ctx, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ctx.Close()

	if ctx.Repos == nil || ctx.Install == nil || ctx.Files == nil || ctx.History == nil {
		t.Fatalf("expected all collaborators populated: %+v", ctx)
	}
}

func TestEnsureDirsCreatesLayout(t *testing.T) {
	cfg := testConfig(t)
	ctx, err := Open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	if err := ctx.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}
	for _, d := range []string{
		filepath.Join(cfg.Directories.LibDir, "package"),
		filepath.Join(cfg.Directories.CacheDir, "packages"),
	} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("expected directory %q to exist", d)
		}
	}
}

func TestLockUnlockRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	ctx, err := Open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()
	if err := ctx.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	if err := ctx.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := ctx.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	// Unlock without a held lock is a no-op, not an error.
	if err := ctx.Unlock(); err != nil {
		t.Fatalf("second Unlock should be a no-op, got %v", err)
	}
}
