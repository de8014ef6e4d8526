// Package eopkgctx bundles the process-wide collaborators every planner
// and apply-engine call needs — configuration, logger, database
// handles, and the global lock — into one value constructed once at the
// CLI entry point, rather than a scatter of process-wide singletons.
package eopkgctx

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/solus-project/eopkg-core/internal/config"
	"github.com/solus-project/eopkg-core/internal/filesdb"
	"github.com/solus-project/eopkg-core/internal/history"
	"github.com/solus-project/eopkg-core/internal/installdb"
	"github.com/solus-project/eopkg-core/internal/lockfile"
	"github.com/solus-project/eopkg-core/internal/model"
	"github.com/solus-project/eopkg-core/internal/reposdb"
)

// Context is the value threaded through the planner and apply engine.
type Context struct {
	Config Config
	Log    *slog.Logger

	Repos   *reposdb.DB
	Install *installdb.DB
	Files   *filesdb.DB
	History *history.Log

	lock *lockfile.Lock
}

// Config re-exports internal/config.Config so callers importing
// eopkgctx don't also need to import config directly.
type Config = config.Config

// Open constructs a Context rooted at cfg's configured directories:
// loads the repository list, installed-package set and history log,
// opens the files DB (auto-rebuilding on a detected schema mismatch, per
// FilesDBNeedsRebuildError's propagation policy), and attaches log
// as the structured logger (or slog.Default() if nil).
func Open(cfg Config, log *slog.Logger) (*Context, error) {
	if log == nil {
		log = slog.Default()
	}

	libDir := cfg.Directories.LibDir
	packageDir := filepath.Join(libDir, "package")
	indexDir := filepath.Join(libDir, "index")
	filesDBPath := filepath.Join(libDir, "info", "files.db")
	historyDir := filepath.Join(libDir, "history")

	repos, err := reposdb.Open(filepath.Join(libDir, "repos.xml"), indexDir)
	if err != nil {
		return nil, err
	}
	installDB, err := installdb.Open(packageDir)
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(historyDir)
	if err != nil {
		return nil, err
	}

	filesDB, err := filesdb.Open(filesDBPath)
	if needsRebuild, ok := err.(*model.FilesDBNeedsRebuildError); ok {
		log.Warn("files database schema mismatch, rebuilding", "error", needsRebuild)
		installed := map[string][]model.FileEntry{}
		for _, name := range installDB.List() {
			rec, gerr := installDB.Get(name)
			if gerr != nil {
				return nil, gerr
			}
			installed[name] = rec.Files
		}
		filesDB, err = filesdb.Rebuild(filesDBPath, installed)
	}
	if err != nil {
		return nil, err
	}

	return &Context{
		Config:  cfg,
		Log:     log,
		Repos:   repos,
		Install: installDB,
		Files:   filesDB,
		History: hist,
	}, nil
}

// Lock acquires the global, non-blocking advisory lock under the
// configured lib directory. Read-only operations should not call this.
func (c *Context) Lock() error {
	l, err := lockfile.Acquire(filepath.Join(c.Config.Directories.LibDir, "eopkg.lock"))
	if err != nil {
		return err
	}
	c.lock = l
	return nil
}

// Unlock releases a previously acquired global lock. Safe to call when
// no lock is held.
func (c *Context) Unlock() error {
	if c.lock == nil {
		return nil
	}
	err := c.lock.Release()
	c.lock = nil
	return err
}

// Close releases the files DB handle. The lock, if held, must be
// released separately via Unlock before Close.
func (c *Context) Close() error {
	if c.Files != nil {
		return c.Files.Close()
	}
	return nil
}

// EnsureDirs creates the configured lib/cache directory tree if absent.
func (c *Context) EnsureDirs() error {
	dirs := []string{
		c.Config.Directories.LibDir,
		filepath.Join(c.Config.Directories.LibDir, "package"),
		filepath.Join(c.Config.Directories.LibDir, "index"),
		filepath.Join(c.Config.Directories.LibDir, "info"),
		filepath.Join(c.Config.Directories.LibDir, "history"),
		c.Config.Directories.CacheDir,
		filepath.Join(c.Config.Directories.CacheDir, "archives"),
		filepath.Join(c.Config.Directories.CacheDir, "packages"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
