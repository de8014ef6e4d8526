package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.Distribution != "Solus" {
		t.Errorf("expected default distribution Solus, got %q", cfg.General.Distribution)
	}
	if cfg.General.RetryAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.General.RetryAttempts)
	}
	if cfg.Directories.LibDir != "/var/lib/eopkg" {
		t.Errorf("expected default lib dir, got %q", cfg.Directories.LibDir)
	}
}

func TestLoadParsesIniFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eopkg.conf")
	content := "[general]\ndistribution = Testium\nretry_attempts = 7\nignore_safety = true\n\n[directories]\nlib_dir = /custom/lib\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.Distribution != "Testium" {
		t.Errorf("expected Testium, got %q", cfg.General.Distribution)
	}
	if cfg.General.RetryAttempts != 7 {
		t.Errorf("expected 7 retry attempts, got %d", cfg.General.RetryAttempts)
	}
	if !cfg.General.IgnoreSafety {
		t.Errorf("expected ignore_safety true")
	}
	if cfg.Directories.LibDir != "/custom/lib" {
		t.Errorf("expected custom lib dir, got %q", cfg.Directories.LibDir)
	}
}

func TestEnvironmentOverridesProxy(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://proxy.example:8080")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.HTTPProxy != "http://proxy.example:8080" {
		t.Errorf("expected env-overridden proxy, got %q", cfg.General.HTTPProxy)
	}
	if cfg.ProxyFor("http") != "http://proxy.example:8080" {
		t.Errorf("ProxyFor(http) mismatch: %q", cfg.ProxyFor("http"))
	}
	if cfg.ProxyFor("ftp") != "" {
		t.Errorf("expected empty ftp proxy, got %q", cfg.ProxyFor("ftp"))
	}
}
