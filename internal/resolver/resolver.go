// Package resolver builds install/upgrade/remove closures over the
// package graph, propagates conflicts and reverse-dependency updates,
// and enforces the protected base-set invariant. It is grounded on
// pisi/operations/install.py, upgrade.py and remove.py: plan_install,
// plan_upgrade, plan_remove, plan_autoremove and plan_autoremove_all,
// reworked onto internal/graph instead of pgraph.PGraph.
package resolver

import (
	"sort"

	"github.com/solus-project/eopkg-core/internal/graph"
	"github.com/solus-project/eopkg-core/internal/model"
)

// baselayoutPkg is always ordered last in the pre-reversal topological
// order so that, after plan_deterministic_install_order's reversal, it
// installs first on a freshly bootstrapped system.
const baselayoutPkg = "baselayout"

// Catalog is the merged view of every active repository's package
// records, keyed by name with repository priority already resolved (the
// planner builds one by walking reposdb's repo order and keeping the
// first match per name).
type Catalog struct {
	Packages map[string]model.PackageRecord
	// Replaces maps an obsolete package name to the package(s) that
	// supersede it, merged across all repo indexes.
	Replaces map[string][]string
}

// Package looks up a catalog entry by name.
func (c *Catalog) Package(name string) (model.PackageRecord, bool) {
	if c == nil {
		return model.PackageRecord{}, false
	}
	p, ok := c.Packages[name]
	return p, ok
}

// RevDep is one reverse-dependency edge: Package depends on the subject
// via Relation. It has the same fields as installdb.RevDepEntry; the
// planner's adapter copies each entry across field by field.
type RevDep struct {
	Package  string
	Relation model.Relation
}

// InstalledSet abstracts over the subset of installdb.DB the resolver
// needs, so tests can substitute a fake without touching disk.
type InstalledSet interface {
	Has(name string) bool
	Get(name string) (model.InstalledRecord, error)
	RevDeps(name string) []RevDep
	ListByReason(reason model.InstallReason) []string
	List() []string
}

// Resolver plans package operations against a Catalog of available
// package revisions and an InstalledSet describing the host's current
// state.
type Resolver struct {
	Catalog   *Catalog
	Installed InstalledSet
	// SystemBase is the set of package names belonging to the
	// system.base component, used by the safety-switch check in
	// PlanRemove. A nil or empty set disables the check (mirroring the
	// "cannot find component system.base" warning-only behavior).
	SystemBase map[string]bool
}

func (r *Resolver) satisfiedByInstalled(rel model.Relation) bool {
	inst, err := r.Installed.Get(rel.Package)
	if err != nil {
		return false
	}
	ok, _ := rel.Satisfies(inst.Version, inst.Release)
	return ok
}

func (r *Resolver) satisfiedByRepo(rel model.Relation) bool {
	pkg, ok := r.Catalog.Package(rel.Package)
	if !ok {
		return false
	}
	ok2, _ := rel.Satisfies(pkg.Version, pkg.Release)
	return ok2
}

// isUpgradable reports whether an installed package has a strictly
// newer revision available in the catalog.
func (r *Resolver) isUpgradable(name string) bool {
	inst, err := r.Installed.Get(name)
	if err != nil {
		return false
	}
	pkg, ok := r.Catalog.Package(name)
	if !ok {
		return false
	}
	return pkg.Release > inst.Release
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// planDeterministicInstallOrder moves baselayout to the end of a
// pre-reversal topological order, since every package depends on it.
func planDeterministicInstallOrder(order []string) []string {
	if len(order) <= 1 {
		return order
	}
	idx := -1
	for i, n := range order {
		if n == baselayoutPkg {
			idx = i
			break
		}
	}
	if idx == -1 {
		return order
	}
	out := make([]string, 0, len(order))
	out = append(out, order[:idx]...)
	out = append(out, order[idx+1:]...)
	out = append(out, baselayoutPkg)
	return out
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// PlanInstall implements plan_install: seeds the graph
// with names, walks runtime dependencies not already satisfied by the
// installed set, and pulls in installed revdeps broken by a chosen
// upgrade.
func (r *Resolver) PlanInstall(names []string) ([]string, error) {
	g := graph.New[string, struct{}, model.Relation]()
	work := dedupeStrings(names)
	for _, n := range work {
		g.AddVertex(n)
	}

	for len(work) > 0 {
		var next []string
		for _, x := range work {
			pkg, ok := r.Catalog.Package(x)
			if !ok {
				return nil, &model.UnknownPackageError{Name: x}
			}
			for _, dep := range pkg.Runtime {
				if r.satisfiedByInstalled(dep) {
					continue
				}
				if !r.satisfiedByRepo(dep) {
					return nil, &model.UnsatisfiedDependencyError{Package: x, Relation: dep}
				}
				if !g.HasVertex(dep.Package) {
					next = append(next, dep.Package)
				}
				g.AddEdge(x, dep.Package, dep)

				// Broken-revdep check: an installed revdep of dep.Package
				// that no longer holds against the chosen revision must
				// also be pulled into the plan.
				newPkg, _ := r.Catalog.Package(dep.Package)
				for _, rd := range r.Installed.RevDeps(dep.Package) {
					if !r.Installed.Has(rd.Package) {
						continue
					}
					ok, _ := rd.Relation.Satisfies(newPkg.Version, newPkg.Release)
					if ok {
						continue
					}
					if !g.HasVertex(rd.Package) {
						next = append(next, rd.Package)
					}
					g.AddEdge(rd.Package, dep.Package, rd.Relation)
				}
			}
		}
		work = dedupeStrings(next)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	order = planDeterministicInstallOrder(order)
	reverseStrings(order)
	return order, nil
}

// PlanUpgrade implements plan_upgrade: seeds with names
// plus the LHS of replaces, then layers resolvable-conflict-upgrade,
// broken-revdep-repair and update-action-propagation on top of ordinary
// dependency expansion.
func (r *Resolver) PlanUpgrade(names []string, replaces map[string][]string) ([]string, error) {
	g := graph.New[string, struct{}, model.Relation]()
	seed := dedupeStrings(names)
	if replaces == nil {
		replaces = r.Catalog.Replaces
	}
	for target := range replaces {
		seed = append(seed, target)
	}
	seed = dedupeStrings(seed)
	for _, n := range seed {
		g.AddVertex(n)
	}

	work := seed
	for len(work) > 0 {
		var next []string
		for _, x := range work {
			pkg, ok := r.Catalog.Package(x)
			if !ok {
				return nil, &model.UnknownPackageError{Name: x}
			}

			for _, dep := range pkg.Runtime {
				if r.satisfiedByInstalled(dep) {
					continue
				}
				if !r.satisfiedByRepo(dep) {
					return nil, &model.UnsatisfiedDependencyError{Package: x, Relation: dep}
				}
				if !g.HasVertex(dep.Package) {
					next = append(next, dep.Package)
				}
				g.AddEdge(x, dep.Package, dep)
			}

			// Resolvable-conflict upgrade.
			for _, conflict := range pkg.Conflicts {
				if g.HasVertex(conflict.Package) {
					continue
				}
				inst, err := r.Installed.Get(conflict.Package)
				if err != nil {
					continue
				}
				installedConflicts, _ := conflict.Satisfies(inst.Version, inst.Release)
				if !installedConflicts {
					continue
				}
				newPkg, ok := r.Catalog.Package(conflict.Package)
				if !ok {
					continue
				}
				stillConflicts, _ := conflict.Satisfies(newPkg.Version, newPkg.Release)
				if stillConflicts {
					continue
				}
				next = append(next, conflict.Package)
				g.AddVertex(conflict.Package)
			}

			if r.Installed.Has(x) {
				// Broken revdep repair.
				for _, rd := range r.Installed.RevDeps(x) {
					if g.HasVertex(rd.Package) {
						continue
					}
					repoSatisfied := r.satisfiedByRepo(rd.Relation)
					if repoSatisfied {
						continue
					}
					if r.isUpgradable(rd.Package) {
						next = append(next, rd.Package)
						g.AddEdge(rd.Package, x, rd.Relation)
					}
				}

				// Update-action propagation.
				inst, _ := r.Installed.Get(x)
				actions := pkg.GetUpdateActions(inst.Release)
				for _, target := range actions["reverseDependencyUpdate"] {
					for _, rd := range r.Installed.RevDeps(target) {
						if g.HasVertex(rd.Package) || !r.isUpgradable(rd.Package) {
							continue
						}
						next = append(next, rd.Package)
						g.AddEdge(rd.Package, target, rd.Relation)
					}
				}
			}
		}
		work = dedupeStrings(next)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	order = planDeterministicInstallOrder(order)
	reverseStrings(order)
	return order, nil
}

// PlanRemove implements plan_remove: seeds with names,
// expands by reverse dependency, optionally enforcing the system.base
// safety switch, and returns the set unreversed (dependents before
// dependencies).
func (r *Resolver) PlanRemove(names []string, ignoreSafety bool) ([]string, error) {
	if !ignoreSafety && len(r.SystemBase) > 0 {
		var refused []string
		for _, n := range names {
			if r.SystemBase[n] {
				refused = append(refused, n)
			}
		}
		if len(refused) > 0 {
			sort.Strings(refused)
			return nil, &model.ProtectedRemovalError{Names: refused}
		}
	}

	g := graph.New[string, struct{}, model.Relation]()
	seed := dedupeStrings(names)
	for _, n := range seed {
		g.AddVertex(n)
	}

	work := seed
	for len(work) > 0 {
		var next []string
		for _, x := range work {
			for _, rd := range r.Installed.RevDeps(x) {
				if !r.Installed.Has(rd.Package) {
					continue
				}
				if !r.satisfiedByInstalled(rd.Relation) {
					continue
				}
				if r.satisfiedByAnyInstalledOtherThan(rd.Relation, x) {
					continue
				}
				if !g.HasVertex(rd.Package) {
					next = append(next, rd.Package)
				}
				g.AddEdge(rd.Package, x, rd.Relation)
			}
		}
		work = dedupeStrings(next)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	return order, nil
}

// satisfiedByAnyInstalledOtherThan reports whether some installed
// package other than exclude also satisfies rel. For plain relations
// the only possible provider is rel.Package itself, so this degenerates
// to false once that is the excluded package. The resolver has no
// files-DB access and does no provider lookup, so pkgconfig-indirected
// relations are treated the same way as plain ones.
func (r *Resolver) satisfiedByAnyInstalledOtherThan(rel model.Relation, exclude string) bool {
	if rel.Package != exclude {
		return r.satisfiedByInstalled(rel)
	}
	return false
}

// PlanAutoremove implements plan_autoremove: computes the
// seed remove set for names, then folds in any automatically-installed
// package that becomes orphaned purely as a consequence, iteratively —
// not recursively, per the non-termination risk the original's
// recursive revdep_from_hell helper carries on adversarial cycles.
func (r *Resolver) PlanAutoremove(names []string) ([]string, error) {
	orphanCandidates := make(map[string]bool)
	for _, n := range r.Installed.ListByReason(model.ReasonAutomatic) {
		orphanCandidates[n] = true
	}

	removeSet, err := r.PlanRemove(names, false)
	if err != nil {
		return nil, err
	}
	inPlan := make(map[string]bool, len(removeSet))
	for _, n := range removeSet {
		inPlan[n] = true
	}

	murder := make(map[string]bool, len(removeSet))
	for _, n := range removeSet {
		murder[n] = true
	}

	// Fixpoint: repeatedly scan every package currently slated for
	// removal; any orphan-candidate runtime dependency whose remaining
	// revdeps are all themselves slated for removal joins the set.
	for {
		added := false
		for pkgName := range murder {
			inst, err := r.Installed.Get(pkgName)
			if err != nil {
				continue
			}
			for _, dep := range inst.Runtime {
				if murder[dep.Package] || !orphanCandidates[dep.Package] {
					continue
				}
				if r.allRevDepsInSet(dep.Package, murder) {
					murder[dep.Package] = true
					added = true
				}
			}
		}
		if !added {
			break
		}
	}

	final := make([]string, 0, len(murder))
	for n := range murder {
		final = append(final, n)
	}
	return r.PlanRemove(final, false)
}

// PlanAutoremoveAll implements plan_autoremove_all:
// returns every currently orphaned automatically-installed package as a
// remove plan.
func (r *Resolver) PlanAutoremoveAll() ([]string, error) {
	orphans := r.Installed.ListByReason(model.ReasonAutomatic)
	orphanSet := make(map[string]bool, len(orphans))
	for _, n := range orphans {
		orphanSet[n] = true
	}

	murder := make(map[string]bool)
	for _, n := range orphans {
		if !r.Installed.Has(n) {
			continue
		}
		if r.allRevDepsInSet(n, murder) {
			murder[n] = true
		}
	}

	// Iterate to a fixpoint: adding one orphan to murder can free up
	// another whose only remaining revdep was the one just added.
	for {
		added := false
		for _, n := range orphans {
			if murder[n] || !r.Installed.Has(n) {
				continue
			}
			if r.allRevDepsInSet(n, murder) {
				murder[n] = true
				added = true
			}
		}
		if !added {
			break
		}
	}

	final := make([]string, 0, len(murder))
	for n := range murder {
		final = append(final, n)
	}
	return r.PlanRemove(final, false)
}

// allRevDepsInSet reports whether every installed reverse dependency of
// name is already a member of set — i.e. removing name (and everything
// in set) would orphan nothing outside the set.
func (r *Resolver) allRevDepsInSet(name string, set map[string]bool) bool {
	for _, rd := range r.Installed.RevDeps(name) {
		if !r.Installed.Has(rd.Package) {
			continue
		}
		if !set[rd.Package] {
			return false
		}
	}
	return true
}

// ConflictReport is the result of CheckConflicts.
type ConflictReport struct {
	// Internal lists package-name pairs within order whose declared
	// conflicts mutually match; this is a planning error.
	Internal [][2]string
	// External lists installed package names outside order that
	// conflict with some revision in order; the caller must remove them
	// before apply.
	External []string
}

// CheckConflicts implements against the catalog revisions
// named in order.
func (r *Resolver) CheckConflicts(order []string) (ConflictReport, error) {
	inOrder := make(map[string]bool, len(order))
	for _, n := range order {
		inOrder[n] = true
	}

	var report ConflictReport
	seenInternal := make(map[[2]string]bool)

	for _, x := range order {
		pkgX, ok := r.Catalog.Package(x)
		if !ok {
			return ConflictReport{}, &model.UnknownPackageError{Name: x}
		}
		for _, c := range pkgX.Conflicts {
			if !inOrder[c.Package] {
				continue
			}
			pair := [2]string{x, c.Package}
			if pair[0] > pair[1] {
				pair[0], pair[1] = pair[1], pair[0]
			}
			if seenInternal[pair] {
				continue
			}
			pkgY, ok := r.Catalog.Package(c.Package)
			if !ok {
				continue
			}
			if ok, _ := c.Satisfies(pkgY.Version, pkgY.Release); ok {
				seenInternal[pair] = true
				report.Internal = append(report.Internal, pair)
			}
		}
	}

	for _, name := range r.Installed.List() {
		if inOrder[name] {
			continue
		}
		inst, err := r.Installed.Get(name)
		if err != nil {
			continue
		}
		conflicted := false
		for _, x := range order {
			pkgX, ok := r.Catalog.Package(x)
			if !ok {
				continue
			}
			for _, c := range pkgX.Conflicts {
				if c.Package != name {
					continue
				}
				if ok, _ := c.Satisfies(inst.Version, inst.Release); ok {
					conflicted = true
					break
				}
			}
			if conflicted {
				break
			}
		}
		if conflicted {
			report.External = append(report.External, name)
		}
	}

	sort.Strings(report.External)
	return report, nil
}

// UpgradeBase implements upgrade_base: queues every uninstalled system.base package for
// install and every upgradable one for upgrade, returning the names to
// merge into the caller's plan.
func (r *Resolver) UpgradeBase() []string {
	var out []string
	names := make([]string, 0, len(r.SystemBase))
	for n := range r.SystemBase {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if !r.Installed.Has(n) {
			out = append(out, n)
			continue
		}
		if r.isUpgradable(n) {
			out = append(out, n)
		}
	}
	return out
}

