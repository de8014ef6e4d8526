package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/solus-project/eopkg-core/internal/apply"
	"github.com/solus-project/eopkg-core/internal/archive"
	"github.com/solus-project/eopkg-core/internal/history"
	"github.com/solus-project/eopkg-core/internal/model"
	"github.com/solus-project/eopkg-core/internal/resolver"
)

// fetchConcurrency bounds how many package archives download at once
// during the fetch step of a transaction.
const fetchConcurrency = 4

// Result is the outcome of one transaction: the per-package apply
// results, in application order.
type Result struct {
	Applied []apply.InstallResult
	Removed []string
}

// applyEngine builds an *apply.Engine with History set to nil: the
// planner itself appends one aggregated history entry per transaction,
// rather than delegating to the engine's own per-call append, since one
// history "operation" record may span many packages.
func (p *Planner) applyEngine() *apply.Engine {
	return &apply.Engine{
		InstallDB: p.Ctx.Install,
		Files:     p.Ctx.Files,
		History:   nil,
		Log:       p.Ctx.Log,
	}
}

func (p *Planner) stagingRoot() string {
	return filepath.Join(p.Ctx.Config.Directories.CacheDir, "staging")
}

func (p *Planner) destRoot() string {
	if p.Ctx.Config.Directories.DestDir != "" {
		return p.Ctx.Config.Directories.DestDir
	}
	return "/"
}

// Install implements install(names, reinstall?). A name
// already satisfied at its current catalog revision is dropped unless
// reinstall is set.
func (p *Planner) Install(ctx context.Context, names []string, reinstall bool, opts Options) (Result, error) {
	expanded, err := p.expandComponents(names)
	if err != nil {
		return Result{}, err
	}

	res, err := p.resolverFor()
	if err != nil {
		return Result{}, err
	}

	filtered := expanded
	if !reinstall {
		var keep []string
		for _, n := range expanded {
			if res.Installed.Has(n) {
				inst, _ := res.Installed.Get(n)
				pkg, ok := res.Catalog.Package(n)
				if ok && pkg.Version == inst.Version && pkg.Release == inst.Release {
					continue
				}
			}
			keep = append(keep, n)
		}
		filtered = keep
	}
	if len(filtered) == 0 {
		return Result{}, nil
	}

	order, err := res.PlanInstall(filtered)
	if err != nil {
		return Result{}, err
	}

	return p.runTransaction(ctx, history.OpInstall, order, res, model.ReasonAutomatic, explicitSet(names), opts)
}

// InstallFiles implements install_files(paths, reinstall?): each path is
// a local .eopkg archive installed directly, bypassing repository
// resolution for the named package itself but still resolving its
// runtime dependencies against the catalog.
func (p *Planner) InstallFiles(ctx context.Context, paths []string, reinstall bool, opts Options) (Result, error) {
	res, err := p.resolverFor()
	if err != nil {
		return Result{}, err
	}

	pathByName := map[string]string{}
	var names []string
	for _, path := range paths {
		rec, _, err := archive.ExtractMetadataOnly(path)
		if err != nil {
			return Result{}, err
		}
		res.Catalog.Packages[rec.Name] = rec
		pathByName[rec.Name] = path
		names = append(names, rec.Name)
	}

	order, err := res.PlanInstall(names)
	if err != nil {
		return Result{}, err
	}

	return p.runTransactionWithPaths(ctx, history.OpInstall, order, res, model.ReasonAutomatic, explicitSet(names), opts, pathByName)
}

// Upgrade implements upgrade(names?, repo?): an empty names
// list upgrades every installed package with a newer catalog revision,
// plus any uninstalled or stale system.base member.
func (p *Planner) Upgrade(ctx context.Context, names []string, opts Options) (Result, error) {
	res, err := p.resolverFor()
	if err != nil {
		return Result{}, err
	}

	var targets []string
	if len(names) == 0 {
		for _, n := range res.Installed.List() {
			inst, err := res.Installed.Get(n)
			pkg, ok := res.Catalog.Package(n)
			if err == nil && ok && pkg.Release > inst.Release {
				targets = append(targets, n)
			}
		}
	} else {
		targets = append(targets, names...)
	}
	targets = append(targets, res.UpgradeBase()...)

	order, err := res.PlanUpgrade(targets, res.Catalog.Replaces)
	if err != nil {
		return Result{}, err
	}

	return p.runTransaction(ctx, history.OpUpgrade, order, res, model.ReasonAutomatic, nil, opts)
}

// explicitSet marks every name in names as wanting ReasonExplicit; names
// pulled in purely as dependencies get ReasonAutomatic.
func explicitSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// runTransaction is the shared nine-step skeleton for
// install/upgrade-shaped operations where every package's archive must
// be fetched from its repository URI.
func (p *Planner) runTransaction(ctx context.Context, opType history.OperationType, order []string, res *resolver.Resolver, defaultReason model.InstallReason, explicit map[string]bool, opts Options) (Result, error) {
	return p.runTransactionWithPaths(ctx, opType, order, res, defaultReason, explicit, opts, nil)
}

func (p *Planner) runTransactionWithPaths(ctx context.Context, opType history.OperationType, order []string, res *resolver.Resolver, defaultReason model.InstallReason, explicit map[string]bool, opts Options, localPaths map[string]string) (Result, error) {
	// Step: resolve + conflicts.
	conflicts, err := res.CheckConflicts(order)
	if err != nil {
		return Result{}, err
	}
	if len(conflicts.Internal) > 0 && !opts.IgnoreSafety {
		pair := conflicts.Internal[0]
		return Result{}, &model.InternalConflictError{A: pair[0], B: pair[1]}
	}

	// Step: plan / confirm.
	plan := Plan{
		Order:              order,
		Conflicts:          conflicts,
		TotalDownloadBytes: p.downloadSize(res.Catalog, order),
	}
	if opts.Confirm != nil && !opts.Confirm(plan) {
		return Result{}, ErrAborted
	}
	if opts.DryRun {
		return Result{}, nil
	}

	// Step: fetch with retry/backoff. Packages not already wanted from a
	// local path are downloaded concurrently, bounded by
	// fetchConcurrency, since nothing about the fetch step depends on
	// apply order.
	cacheDir := filepath.Join(p.Ctx.Config.Directories.CacheDir, "packages")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return Result{}, err
	}
	paths := map[string]string{}
	for name, local := range localPaths {
		paths[name] = local
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, fetchConcurrency)
	for _, name := range order {
		if _, ok := localPaths[name]; ok {
			continue
		}
		name := name
		pkg, ok := res.Catalog.Package(name)
		if !ok {
			return Result{}, &model.UnknownPackageError{Name: name}
		}
		dest := p.cachedPackagePath(pkg)
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			if got, err := archive.SHA1File(dest); err != nil || got != pkg.PackageHash {
				if err := fetchWithRetry(gctx, p.Fetcher, pkg.PackageURI, dest, p.retryAttempts()); err != nil {
					return err
				}
			}
			mu.Lock()
			paths[name] = dest
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Step: fetch-only short circuit.
	if opts.FetchOnly {
		return Result{}, nil
	}

	// Step: remove external conflicts and obsoletes before apply.
	eng := p.applyEngine()
	if err := eng.ReconcileFilesDB(); err != nil {
		return Result{}, err
	}
	date, timeOfDay := nowStamp()
	var removed []string
	for _, victim := range conflicts.External {
		if err := eng.Remove(victim, p.destRoot(), false, date, timeOfDay); err != nil {
			return Result{}, err
		}
		removed = append(removed, victim)
	}
	for obsolete := range res.Catalog.Replaces {
		if p.Ctx.Install.Has(obsolete) && !containsString(order, obsolete) {
			if err := eng.Remove(obsolete, p.destRoot(), false, date, timeOfDay); err != nil {
				return Result{}, err
			}
			removed = append(removed, obsolete)
		}
	}

	// Step: apply each package, checking cancellation only at package
	// boundaries.
	inTxn := map[string][]model.FileEntry{}
	for _, name := range order {
		if _, files, err := archive.ExtractMetadataOnly(paths[name]); err == nil {
			inTxn[name] = files
		}
	}

	var results []apply.InstallResult
	var changes []history.PackageChange
	for _, name := range order {
		select {
		case <-ctx.Done():
			return Result{Applied: results, Removed: removed}, ctx.Err()
		default:
		}

		reason := defaultReason
		if explicit != nil && explicit[name] {
			reason = model.ReasonExplicit
		}

		applyOpts := apply.Options{
			IgnoreCheck:          opts.IgnoreCheck,
			IgnoreFileConflicts:  opts.IgnoreFileConflicts,
			Purge:                opts.Purge,
			StagingRoot:          p.stagingRoot(),
			DestRoot:             p.destRoot(),
			InTransactionUpgrade: inTxn,
		}
		ir, err := eng.Install(paths[name], reason, applyOpts, date, timeOfDay)
		if err != nil {
			return Result{Applied: results, Removed: removed}, fmt.Errorf("applying %s: %w", name, err)
		}
		results = append(results, ir)

		pkg, _ := p.lookupAppliedRecord(name)
		changes = append(changes, history.PackageChange{
			Name:      name,
			Operation: ir.Operation,
			After:     &history.Revision{Version: pkg.Version, Release: fmt.Sprint(pkg.Release)},
		})
	}

	for _, victim := range removed {
		changes = append(changes, history.PackageChange{Name: victim, Operation: "remove"})
	}

	// Step: append one aggregated history entry for the whole
	// transaction.
	if p.Ctx.History != nil && len(changes) > 0 {
		if _, err := p.Ctx.History.Append(opType, date, timeOfDay, changes, nil); err != nil {
			p.Ctx.Log.Warn("failed to append history entry", "error", err)
		}
	}

	return Result{Applied: results, Removed: removed}, nil
}

func (p *Planner) lookupAppliedRecord(name string) (model.PackageRecord, bool) {
	rec, err := p.Ctx.Install.Get(name)
	if err != nil {
		return model.PackageRecord{}, false
	}
	return rec.PackageRecord, true
}

// Remove implements remove(names, autoremove?, force?).
func (p *Planner) Remove(ctx context.Context, names []string, opts Options) (Result, error) {
	res, err := p.resolverFor()
	if err != nil {
		return Result{}, err
	}
	order, err := res.PlanRemove(names, opts.IgnoreSafety)
	if err != nil {
		return Result{}, err
	}
	return p.runRemoveTransaction(ctx, order, opts)
}

// RemoveOrphans implements remove_orphans(): removes every
// automatically-installed package left with no remaining dependent.
func (p *Planner) RemoveOrphans(ctx context.Context, opts Options) (Result, error) {
	res, err := p.resolverFor()
	if err != nil {
		return Result{}, err
	}
	order, err := res.PlanAutoremoveAll()
	if err != nil {
		return Result{}, err
	}
	return p.runRemoveTransaction(ctx, order, opts)
}

func (p *Planner) runRemoveTransaction(ctx context.Context, order []string, opts Options) (Result, error) {
	if len(order) == 0 {
		return Result{}, nil
	}
	plan := Plan{Order: order}
	if opts.Confirm != nil && !opts.Confirm(plan) {
		return Result{}, ErrAborted
	}
	if opts.DryRun {
		return Result{}, nil
	}

	eng := p.applyEngine()
	if err := eng.ReconcileFilesDB(); err != nil {
		return Result{}, err
	}

	date, timeOfDay := nowStamp()
	var changes []history.PackageChange
	var removed []string
	for _, name := range order {
		select {
		case <-ctx.Done():
			return Result{Removed: removed}, ctx.Err()
		default:
		}
		rec, err := p.Ctx.Install.Get(name)
		if err != nil {
			return Result{Removed: removed}, err
		}
		if err := eng.Remove(name, p.destRoot(), opts.Purge, date, timeOfDay); err != nil {
			return Result{Removed: removed}, fmt.Errorf("removing %s: %w", name, err)
		}
		removed = append(removed, name)
		changes = append(changes, history.PackageChange{
			Name:      name,
			Operation: "remove",
			Before:    &history.Revision{Version: rec.Version, Release: fmt.Sprint(rec.Release)},
		})
	}

	if p.Ctx.History != nil && len(changes) > 0 {
		if _, err := p.Ctx.History.Append(history.OpRemove, date, timeOfDay, changes, nil); err != nil {
			p.Ctx.Log.Warn("failed to append history entry", "error", err)
		}
	}
	return Result{Removed: removed}, nil
}

// ConfigurePending implements configure_pending(names?): clears the
// needs-reconfigure flag on the named packages (or every flagged
// package when names is empty). No postinstall script is run; only the
// flag in the installed record is cleared.
func (p *Planner) ConfigurePending(names []string) error {
	targets := names
	if len(targets) == 0 {
		for _, n := range p.Ctx.Install.List() {
			rec, err := p.Ctx.Install.Get(n)
			if err == nil && rec.NeedsReconfigure {
				targets = append(targets, n)
			}
		}
	}
	for _, n := range targets {
		rec, err := p.Ctx.Install.Get(n)
		if err != nil {
			return err
		}
		rec.NeedsReconfigure = false
		if err := p.Ctx.Install.Put(rec); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRepo implements update_repo(name|all, force?): refetches a
// repository's index into the cache, checking distribution
// compatibility, and invalidates the planner's catalog on the next
// buildCatalog call (the cache is keyed by mtime, so a freshly written
// file is picked up automatically). Without force, a repository whose
// cached index already loads with at least one package is skipped.
func (p *Planner) UpdateRepo(ctx context.Context, name string, all bool, force bool) error {
	targets := []string{name}
	if all {
		targets = p.Ctx.Repos.List(false)
	}
	for _, repoName := range targets {
		repo, err := p.Ctx.Repos.Get(repoName)
		if err != nil {
			return err
		}
		dest := filepath.Join(p.Ctx.Config.Directories.CacheDir, "index-download", repoName+".xml")
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if !force {
			if cached, err := p.Ctx.Repos.LoadIndex(repoName); err == nil && len(cached.Packages) > 0 {
				continue
			}
		}
		if err := fetchWithRetry(ctx, p.Fetcher, repo.URI, dest, p.retryAttempts()); err != nil {
			return err
		}
		data, err := os.ReadFile(dest)
		if err != nil {
			return err
		}
		if err := p.Ctx.Repos.StoreIndex(repoName, data); err != nil {
			return err
		}
		if err := p.Ctx.Repos.CheckDistribution(repoName, p.Ctx.Config.General.Distribution, p.Ctx.Config.General.DistributionRelease); err != nil {
			p.Ctx.Log.Warn("repository distribution mismatch, deactivated", "repo", repoName, "error", err)
		}
	}
	return nil
}

// AddRepo, RemoveRepo, EnableRepo, DisableRepo and SetRepoPriority are
// thin wrappers over reposdb exposed as planner operations so callers
// only need one entry point for the repository management surface.
func (p *Planner) AddRepo(name, uri string, media model.RepoMedia) error {
	return p.Ctx.Repos.Add(name, uri, media)
}

func (p *Planner) RemoveRepo(name string) error {
	return p.Ctx.Repos.Remove(name)
}

func (p *Planner) EnableRepo(name string) error {
	return p.Ctx.Repos.SetStatus(name, model.RepoActive)
}

func (p *Planner) DisableRepo(name string) error {
	return p.Ctx.Repos.SetStatus(name, model.RepoInactive)
}

func (p *Planner) SetRepoPriority(name string, newPos int) error {
	return p.Ctx.Repos.SetPriority(name, newPos)
}

// Fetch implements fetch(names, dir): downloads the named packages'
// archives into dir without applying them.
func (p *Planner) Fetch(ctx context.Context, names []string, dir string) error {
	res, err := p.resolverFor()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, name := range names {
		pkg, ok := res.Catalog.Package(name)
		if !ok {
			return &model.UnknownPackageError{Name: name}
		}
		dest := filepath.Join(dir, fmt.Sprintf("%s-%s-%d.eopkg", pkg.Name, pkg.Version, pkg.Release))
		if err := fetchWithRetry(ctx, p.Fetcher, pkg.PackageURI, dest, p.retryAttempts()); err != nil {
			return err
		}
	}
	return nil
}

// Takeback implements takeback(no): reconstructs the installed set as
// of the completion of history entry no, by diffing it against the
// current installed set and issuing the equivalent remove/install
// steps. Packages that need reinstalling at an older
// revision must already have their archive in the package cache from
// when they were first installed; Takeback does not refetch them.
func (p *Planner) Takeback(ctx context.Context, no int, opts Options) (Result, error) {
	installed := map[string]history.Revision{}
	for _, name := range p.Ctx.Install.List() {
		rec, err := p.Ctx.Install.Get(name)
		if err != nil {
			return Result{}, err
		}
		installed[name] = history.Revision{Version: rec.Version, Release: fmt.Sprint(rec.Release)}
	}

	toRemove, toInstall, err := p.Ctx.History.TakebackTarget(no, installed)
	if err != nil {
		return Result{}, err
	}

	var paths []string
	for name, rev := range toInstall {
		path := filepath.Join(p.Ctx.Config.Directories.CacheDir, "packages",
			fmt.Sprintf("%s-%s-%s.eopkg", name, rev.Version, rev.Release))
		if _, err := os.Stat(path); err != nil {
			return Result{}, fmt.Errorf("takeback target %s-%s-%s is not in the package cache: %w", name, rev.Version, rev.Release, err)
		}
		paths = append(paths, path)
	}

	var result Result
	if len(toRemove) > 0 {
		removeRes, err := p.Remove(ctx, toRemove, opts)
		if err != nil {
			return result, err
		}
		result.Removed = removeRes.Removed
	}
	if len(paths) > 0 {
		installRes, err := p.InstallFiles(ctx, paths, true, opts)
		if err != nil {
			return result, err
		}
		result.Applied = installRes.Applied
	}

	if p.Ctx.History != nil {
		date, timeOfDay := nowStamp()
		if _, err := p.Ctx.History.Append(history.OpTakeback, date, timeOfDay, nil, nil); err != nil {
			p.Ctx.Log.Warn("failed to append history entry", "error", err)
		}
	}
	return result, nil
}

// RebuildDB implements rebuild_db(files?): recomputes the reverse
// dependency index (implicitly, on next access, via installdb's
// invalidate-on-mutation cache) and, when files is true, rebuilds the
// files DB content from the installed-record set.
func (p *Planner) RebuildDB(files bool) error {
	if !files {
		return nil
	}
	return p.applyEngine().ReconcileFilesDB()
}
