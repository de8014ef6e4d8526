// Package planner implements the transaction-orchestration skeleton
// shared by every mutating operation: normalize, filter, resolve,
// confirm, fetch, apply, append history. Grounded on
// pisi/operations/*.py's public entry points (install/upgrade/remove/
// etc.) and their shared step-by-step shape.
package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/solus-project/eopkg-core/internal/eopkgctx"
	"github.com/solus-project/eopkg-core/internal/fetchsvc"
	"github.com/solus-project/eopkg-core/internal/installdb"
	"github.com/solus-project/eopkg-core/internal/model"
	"github.com/solus-project/eopkg-core/internal/resolver"
)

// ErrAborted is returned when a caller's Confirm callback rejects a plan.
var ErrAborted = errors.New("operation aborted by user")

// Options controls one transaction. The zero value is a reasonable
// default: confirm automatically, fail (don't warn) on conflicts.
type Options struct {
	DryRun               bool
	Confirm              func(Plan) bool // nil: auto-confirm
	IgnoreSafety         bool
	IgnoreFileConflicts  bool
	IgnoreCheck          bool
	IgnoreDelta          bool
	Purge                bool
	FetchOnly            bool
}

// Plan is the computed transaction shown to the user before any side
// effect.
type Plan struct {
	Order              []string
	Conflicts          resolver.ConflictReport
	TotalDownloadBytes int64
}

// Planner orchestrates resolver/fetch/verify/apply/history for one
// eopkgctx.Context.
type Planner struct {
	Ctx     *eopkgctx.Context
	Fetcher *fetchsvc.Fetcher

	// RetryAttempts bounds fetch-step retries;
	// defaults to Ctx.Config.General.RetryAttempts when zero.
	RetryAttempts int
}

// New builds a Planner over ctx, constructing a default Fetcher if none
// is supplied.
func New(ctx *eopkgctx.Context, fetcher *fetchsvc.Fetcher) *Planner {
	if fetcher == nil {
		fetcher = &fetchsvc.Fetcher{
			BandwidthKBps: ctx.Config.General.BandwidthLimitKBps,
			ProxyFor:      ctx.Config.ProxyFor,
		}
	}
	return &Planner{Ctx: ctx, Fetcher: fetcher, RetryAttempts: ctx.Config.General.RetryAttempts}
}

func (p *Planner) retryAttempts() int {
	if p.RetryAttempts > 0 {
		return p.RetryAttempts
	}
	return 3
}

// installedSetAdapter satisfies resolver.InstalledSet over an
// *installdb.DB, converting installdb.RevDepEntry to resolver.RevDep.
type installedSetAdapter struct{ db *installdb.DB }

func (a installedSetAdapter) Has(name string) bool { return a.db.Has(name) }
func (a installedSetAdapter) Get(name string) (model.InstalledRecord, error) {
	return a.db.Get(name)
}
func (a installedSetAdapter) RevDeps(name string) []resolver.RevDep {
	entries := a.db.RevDeps(name)
	out := make([]resolver.RevDep, len(entries))
	for i, e := range entries {
		out[i] = resolver.RevDep{Package: e.Package, Relation: e.Relation}
	}
	return out
}
func (a installedSetAdapter) ListByReason(reason model.InstallReason) []string {
	return a.db.ListByReason(reason)
}
func (a installedSetAdapter) List() []string { return a.db.List() }

// buildCatalog merges every active repository's index into one
// priority-resolved Catalog (first repo in reposdb.List order wins a
// name collision) and collects the "system.base" component's package
// set for the resolver's protected-removal check.
func (p *Planner) buildCatalog() (*resolver.Catalog, map[string]bool, error) {
	cat := &resolver.Catalog{Packages: map[string]model.PackageRecord{}, Replaces: map[string][]string{}}
	systemBase := map[string]bool{}

	for _, name := range p.Ctx.Repos.List(true) {
		idx, err := p.Ctx.Repos.LoadIndex(name)
		if err != nil {
			p.logger().Warn("skipping unreadable repository index", "repo", name, "error", err)
			continue
		}
		for _, pkg := range idx.Packages {
			if _, exists := cat.Packages[pkg.Name]; !exists {
				cat.Packages[pkg.Name] = pkg
			}
		}
		for obsolete, by := range idx.Replaces {
			cat.Replaces[obsolete] = append(cat.Replaces[obsolete], by...)
		}
		for _, c := range idx.Components {
			if c.Name == "system.base" {
				for _, n := range c.Packages {
					systemBase[n] = true
				}
			}
		}
	}
	return cat, systemBase, nil
}

func (p *Planner) resolverFor() (*resolver.Resolver, error) {
	cat, base, err := p.buildCatalog()
	if err != nil {
		return nil, err
	}
	return &resolver.Resolver{
		Catalog:    cat,
		Installed:  installedSetAdapter{p.Ctx.Install},
		SystemBase: base,
	}, nil
}

func (p *Planner) logger() interface {
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
} {
	return p.Ctx.Log
}

// expandComponents replaces any name in names matching a component in
// the catalog's repositories with that component's package list,
// leaving ordinary package names untouched. Names are deduped.
func (p *Planner) expandComponents(names []string) ([]string, error) {
	componentMembers := map[string][]string{}
	for _, repoName := range p.Ctx.Repos.List(true) {
		idx, err := p.Ctx.Repos.LoadIndex(repoName)
		if err != nil {
			continue
		}
		for _, c := range idx.Components {
			componentMembers[c.Name] = c.Packages
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		members, isComponent := componentMembers[n]
		targets := []string{n}
		if isComponent {
			targets = members
		}
		for _, t := range targets {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (p *Planner) cachedPackagePath(pkg model.PackageRecord) string {
	return filepath.Join(p.Ctx.Config.Directories.CacheDir, "packages",
		fmt.Sprintf("%s-%s-%d.eopkg", pkg.Name, pkg.Version, pkg.Release))
}

// downloadSize sums packageSize minus already-cached bytes for every
// package in order.
func (p *Planner) downloadSize(cat *resolver.Catalog, order []string) int64 {
	var total int64
	for _, name := range order {
		pkg, ok := cat.Package(name)
		if !ok {
			continue
		}
		need := pkg.PackageSizeBytes
		if fi, err := os.Stat(p.cachedPackagePath(pkg)); err == nil {
			need -= fi.Size()
		}
		if need > 0 {
			total += need
		}
	}
	return total
}

func nowStamp() (string, string) {
	now := time.Now().UTC()
	return now.Format("2006-01-02"), now.Format("15:04:05")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// sortedKeys returns the keys of a map[string]bool in ascending order,
// used everywhere a deterministic iteration is needed over a set.
func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// fetchWithRetry downloads uri to dest, retrying up to attempts times
// with exponential backoff between attempts. A
// definitive NotFound is not retried.
func fetchWithRetry(ctx context.Context, f *fetchsvc.Fetcher, uri, dest string, attempts int) error {
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err := f.Fetch(ctx, uri, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		var fe *model.FetchError
		if errors.As(err, &fe) && fe.Kind == model.FetchNotFound {
			fe.Retries = attempt
			return fe
		}
	}
	if fe, ok := lastErr.(*model.FetchError); ok {
		fe.Retries = attempts - 1
	}
	return lastErr
}
