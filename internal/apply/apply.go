// Package apply implements the single-package state machine that turns
// a staged archive into an installed package, or an installed package
// into a removal: idle -> fetched -> staged -> installed for
// install/upgrade, and a separate idle -> marked -> cleared path for
// remove. Grounded on pisi's atomicoperations.install/remove_single call
// sites.
package apply

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/solus-project/eopkg-core/internal/archive"
	"github.com/solus-project/eopkg-core/internal/filesdb"
	"github.com/solus-project/eopkg-core/internal/history"
	"github.com/solus-project/eopkg-core/internal/installdb"
	"github.com/solus-project/eopkg-core/internal/model"
)

// Options configures one apply step.
type Options struct {
	IgnoreCheck          bool // skip distro/arch precondition check
	IgnoreFileConflicts  bool // warn instead of failing on file conflicts
	Purge                bool // remove modified config files too
	StagingRoot          string
	DestRoot             string
	// InTransactionUpgrade maps a package name also being installed or
	// upgraded in this transaction to its new file list, so the
	// file-conflict scan can tell "claimed by a package being replaced,
	// and the path is absent from its new list" from "owned by an
	// unrelated package".
	InTransactionUpgrade map[string][]model.FileEntry
}

// Engine applies one package at a time against the install DB and
// files DB, appending a history entry for every completed step.
type Engine struct {
	InstallDB *installdb.DB
	Files     *filesdb.DB
	History   *history.Log
	Log       *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// InstallResult reports what Install did, for the planner's summary output.
type InstallResult struct {
	Operation string // install | upgrade | reinstall | downgrade
	Released  map[string]string // path -> package that released it this transaction
}

// Install stages archivePath, resolves file conflicts against the files
// DB, preserves modified config files, moves the payload into place and
// updates the install/files DB indices. reason controls the install
// record's automatic/explicit flag; a reinstall (previous == current
// version+release) preserves the existing reason regardless of reason,
// and an upgrade or downgrade called with ReasonAutomatic keeps the
// existing reason as well.
func (e *Engine) Install(archivePath string, reason model.InstallReason, opts Options, nowDate, nowTime string) (InstallResult, error) {
	rec, files, err := archive.ExtractMetadataOnly(archivePath)
	if err != nil {
		return InstallResult{}, err
	}

	if !opts.IgnoreCheck {
		if err := e.checkPrecondition(archivePath, rec); err != nil {
			return InstallResult{}, err
		}
	}

	// A uuid-suffixed directory, rather than the bare package name, lets
	// two Install calls for the same package (a retry racing a prior
	// attempt's leftover staging directory) never collide.
	stageDir := filepath.Join(opts.StagingRoot, rec.Name+"-"+uuid.NewString())
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return InstallResult{}, &model.StagingFailedError{Path: stageDir}
	}
	if _, _, err := archive.ExtractFull(archivePath, stageDir); err != nil {
		return InstallResult{}, &model.StagingFailedError{Path: archivePath}
	}

	previous, hadPrevious, err := e.lookupPrevious(rec.Name)
	if err != nil {
		return InstallResult{}, err
	}

	released, err := e.scanFileConflicts(rec, files, opts)
	if err != nil {
		return InstallResult{}, err
	}

	destDir := opts.DestRoot
	if err := e.applyConfigPreservation(stageDir, destDir, previous, files); err != nil {
		return InstallResult{}, err
	}
	if err := movePayload(stageDir, destDir); err != nil {
		return InstallResult{}, err
	}

	if err := e.updateIndices(rec, files, previous, hadPrevious); err != nil {
		return InstallResult{}, err
	}

	effectiveReason := reason
	op := "install"
	if hadPrevious {
		op = classifyUpgrade(previous.PackageRecord, rec)
		if op == "reinstall" || reason == model.ReasonAutomatic {
			effectiveReason = previous.Reason
		}
	}

	if err := e.InstallDB.Put(model.InstalledRecord{
		PackageRecord: rec,
		Reason:        effectiveReason,
		Files:         files,
	}); err != nil {
		return InstallResult{}, err
	}

	e.appendInstallHistory(op, rec, previous, hadPrevious, nowDate, nowTime)

	e.logger().Info("package applied", "package", rec.Name, "operation", op, "version", rec.Version, "release", rec.Release)
	return InstallResult{Operation: op, Released: released}, nil
}

func classifyUpgrade(before, after model.PackageRecord) string {
	if before.Version == after.Version && before.Release == after.Release {
		return "reinstall"
	}
	if after.Release < before.Release {
		return "downgrade"
	}
	return "upgrade"
}

func (e *Engine) checkPrecondition(archivePath string, rec model.PackageRecord) error {
	if rec.PackageHash == "" {
		return nil
	}
	got, err := archive.SHA1File(archivePath)
	if err != nil {
		return err
	}
	if got != rec.PackageHash {
		return &model.HashMismatchError{Path: archivePath, Expected: rec.PackageHash, Got: got}
	}
	return nil
}

func (e *Engine) lookupPrevious(name string) (model.InstalledRecord, bool, error) {
	if !e.InstallDB.Has(name) {
		return model.InstalledRecord{}, false, nil
	}
	rec, err := e.InstallDB.Get(name)
	if err != nil {
		return model.InstalledRecord{}, false, err
	}
	return rec, true, nil
}

// scanFileConflicts implements: a target path already
// owned by another package q is a conflict unless q is being
// upgraded/replaced in this transaction and the path is absent from q's
// new file list (in which case q releases it and p claims it).
func (e *Engine) scanFileConflicts(rec model.PackageRecord, files []model.FileEntry, opts Options) (map[string]string, error) {
	released := map[string]string{}
	for _, f := range files {
		owner, ok, err := e.Files.GetFile(f.Path)
		if err != nil {
			return nil, err
		}
		if !ok || owner == rec.Name {
			continue
		}
		if newFiles, inTxn := opts.InTransactionUpgrade[owner]; inTxn && !containsPath(newFiles, f.Path) {
			released[f.Path] = owner
			continue
		}
		if opts.IgnoreFileConflicts {
			e.logger().Warn("ignoring file conflict", "path", f.Path, "new_owner", rec.Name, "old_owner", owner)
			continue
		}
		return nil, &model.FileConflictError{Path: f.Path, NewOwner: rec.Name, OldOwner: owner}
	}
	return released, nil
}

func containsPath(files []model.FileEntry, path string) bool {
	for _, f := range files {
		if f.Path == path {
			return true
		}
	}
	return false
}

// applyConfigPreservation implements: a config file
// whose on-disk hash diverges from the recorded hash is kept, and the
// incoming revision is staged to a .newconfig sibling instead of
// overwriting it.
func (e *Engine) applyConfigPreservation(stageDir, destDir string, previous model.InstalledRecord, incoming []model.FileEntry) error {
	if len(previous.Files) == 0 {
		return nil
	}
	incomingPaths := make(map[string]bool, len(incoming))
	for _, f := range incoming {
		incomingPaths[f.Path] = true
	}
	for _, old := range previous.ConfigFiles() {
		if !incomingPaths[old.Path] {
			continue
		}
		full := filepath.Join(destDir, old.Path)
		onDiskHash, err := sha1Hex(full)
		if err != nil {
			continue // file missing or unreadable: nothing to preserve
		}
		if onDiskHash == old.Hash {
			continue // untouched, safe to overwrite normally
		}
		staged := filepath.Join(stageDir, old.Path)
		if err := os.Rename(staged, staged+".newconfig"); err != nil {
			return err
		}
	}
	return nil
}

func movePayload(stageDir, destDir string) error {
	return filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(stageDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(destDir, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return renameOrCopy(path, target)
	})
}

// renameOrCopy moves src to dst via atomic rename when possible, falling
// back to copy+fsync+unlink across filesystem boundaries.
func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func sha1Hex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// updateIndices drops files-DB entries for paths the previous revision
// had but the new one doesn't, and adds entries for the new file list.
// The installed-package record itself is written by the caller after
// this returns, so the files DB batch always commits before the
// installed record does.
func (e *Engine) updateIndices(rec model.PackageRecord, files []model.FileEntry, previous model.InstalledRecord, hadPrevious bool) error {
	if hadPrevious {
		newPaths := make(map[string]bool, len(files))
		for _, f := range files {
			newPaths[f.Path] = true
		}
		var dropped []model.FileEntry
		for _, old := range previous.Files {
			if !newPaths[old.Path] {
				dropped = append(dropped, old)
			}
		}
		if len(dropped) > 0 {
			if err := e.Files.RemoveFiles(dropped); err != nil {
				return err
			}
		}
	}
	return e.Files.AddFiles(rec.Name, files)
}

func (e *Engine) appendInstallHistory(op string, rec model.PackageRecord, previous model.InstalledRecord, hadPrevious bool, date, timeOfDay string) {
	change := history.PackageChange{
		Name:      rec.Name,
		Operation: op,
		After:     &history.Revision{Version: rec.Version, Release: fmt.Sprint(rec.Release)},
	}
	if hadPrevious {
		change.Before = &history.Revision{Version: previous.Version, Release: fmt.Sprint(previous.Release)}
	}
	opType := history.OpInstall
	switch op {
	case "upgrade", "downgrade":
		opType = history.OpUpgrade
	case "reinstall":
		opType = history.OpReinstall
	}
	if e.History != nil {
		_, _ = e.History.Append(opType, date, timeOfDay, []history.PackageChange{change}, nil)
	}
}

// Remove implements: unlink unmodified files (and, with
// purge, modified config files too), drop the installed record and its
// files DB entries, append history.
func (e *Engine) Remove(name string, destRoot string, purge bool, date, timeOfDay string) error {
	rec, err := e.InstallDB.Get(name)
	if err != nil {
		return err
	}

	for _, f := range rec.Files {
		full := filepath.Join(destRoot, f.Path)
		onDiskHash, err := sha1Hex(full)
		modified := err != nil || onDiskHash != f.Hash
		if modified && !(f.Type == model.FileTypeConfig && purge) {
			continue // preserved: modified on disk (config files go with purge)
		}
		if rerr := os.Remove(full); rerr != nil && !os.IsNotExist(rerr) {
			e.logger().Warn("failed to unlink file during remove", "path", full, "error", rerr)
		}
	}

	if err := e.Files.RemoveFiles(rec.Files); err != nil {
		return err
	}
	if err := e.InstallDB.Delete(name); err != nil {
		return err
	}

	change := history.PackageChange{
		Name:      name,
		Operation: "remove",
		Before:    &history.Revision{Version: rec.Version, Release: fmt.Sprint(rec.Release)},
	}
	if e.History != nil {
		_, _ = e.History.Append(history.OpRemove, date, timeOfDay, []history.PackageChange{change}, nil)
	}
	e.logger().Info("package removed", "package", name)
	return nil
}

// ReconcileFilesDB repairs the crash window calls out: a process
// that dies between the files-DB update and the installed-record write
// can leave the files DB missing entries for, or retaining stale entries
// from, an installed record. Rebuilding the files DB's content from the
// current installed-record set is idempotent and safe to run on every
// mutating operation's startup.
func (e *Engine) ReconcileFilesDB() error {
	names := e.InstallDB.List()
	sort.Strings(names)
	seen := map[string]bool{}
	for _, name := range names {
		rec, err := e.InstallDB.Get(name)
		if err != nil {
			return err
		}
		if err := e.Files.AddFiles(name, rec.Files); err != nil {
			return err
		}
		for _, f := range rec.Files {
			seen[f.Path] = true
		}
	}
	owned, err := e.Files.AllOwnedPaths()
	if err != nil {
		return err
	}
	var stale []model.FileEntry
	for _, path := range owned {
		if !seen[path] {
			stale = append(stale, model.FileEntry{Path: path})
		}
	}
	if len(stale) > 0 {
		return e.Files.RemoveFiles(stale)
	}
	return nil
}
