package resolver

import (
	"testing"

	"github.com/solus-project/eopkg-core/internal/model"
)

// fakeInstalled is an in-memory InstalledSet for tests, independent of
// internal/installdb so this package has no import-cycle or disk
// dependency in its tests.
type fakeInstalled struct {
	records map[string]model.InstalledRecord
	reasons map[string]model.InstallReason
}

func newFakeInstalled() *fakeInstalled {
	return &fakeInstalled{records: map[string]model.InstalledRecord{}, reasons: map[string]model.InstallReason{}}
}

func (f *fakeInstalled) add(name, version string, release int, reason model.InstallReason, runtime ...model.Relation) {
	f.records[name] = model.InstalledRecord{
		PackageRecord: model.PackageRecord{Name: name, Version: version, Release: release, Runtime: runtime},
		Reason:        reason,
	}
	f.reasons[name] = reason
}

func (f *fakeInstalled) Has(name string) bool { _, ok := f.records[name]; return ok }

func (f *fakeInstalled) Get(name string) (model.InstalledRecord, error) {
	r, ok := f.records[name]
	if !ok {
		return model.InstalledRecord{}, &model.UnknownPackageError{Name: name}
	}
	return r, nil
}

func (f *fakeInstalled) RevDeps(name string) []RevDep {
	var out []RevDep
	for pname, rec := range f.records {
		for _, rel := range rec.Runtime {
			if rel.Package == name {
				out = append(out, RevDep{Package: pname, Relation: rel})
			}
		}
	}
	return out
}

func (f *fakeInstalled) ListByReason(reason model.InstallReason) []string {
	var out []string
	for name, r := range f.reasons {
		if r == reason {
			out = append(out, name)
		}
	}
	return out
}

func (f *fakeInstalled) List() []string {
	var out []string
	for name := range f.records {
		out = append(out, name)
	}
	return out
}

func catalogWith(pkgs ...model.PackageRecord) *Catalog {
	c := &Catalog{Packages: map[string]model.PackageRecord{}}
	for _, p := range pkgs {
		c.Packages[p.Name] = p
	}
	return c
}

func containsInOrder(order []string, before, after string) bool {
	bi, ai := -1, -1
	for i, n := range order {
		if n == before {
			bi = i
		}
		if n == after {
			ai = i
		}
	}
	return bi != -1 && ai != -1 && bi < ai
}

func TestPlanInstallOrdersDependencyBeforeDependent(t *testing.T) {
	cat := catalogWith(
		model.PackageRecord{Name: "app", Version: "1.0", Runtime: []model.Relation{{Package: "lib"}}},
		model.PackageRecord{Name: "lib", Version: "1.0"},
	)
	r := &Resolver{Catalog: cat, Installed: newFakeInstalled()}

	order, err := r.PlanInstall([]string{"app"})
	if err != nil {
		t.Fatalf("PlanInstall failed: %v", err)
	}
	if !containsInOrder(order, "lib", "app") {
		t.Errorf("expected lib before app, got %v", order)
	}
}

func TestPlanInstallFailsOnUnsatisfiedDependency(t *testing.T) {
	cat := catalogWith(model.PackageRecord{Name: "app", Runtime: []model.Relation{{Package: "missing"}}})
	r := &Resolver{Catalog: cat, Installed: newFakeInstalled()}

	_, err := r.PlanInstall([]string{"app"})
	var unsatisfied *model.UnsatisfiedDependencyError
	if err == nil {
		t.Fatalf("expected an error")
	}
	if e, ok := err.(*model.UnsatisfiedDependencyError); !ok {
		t.Fatalf("expected UnsatisfiedDependencyError, got %T: %v", err, err)
	} else {
		unsatisfied = e
	}
	if unsatisfied.Relation.Package != "missing" {
		t.Errorf("unexpected relation: %+v", unsatisfied.Relation)
	}
}

func TestPlanInstallSkipsAlreadySatisfiedDependency(t *testing.T) {
	cat := catalogWith(model.PackageRecord{Name: "app", Runtime: []model.Relation{{Package: "lib"}}})
	inst := newFakeInstalled()
	inst.add("lib", "1.0", 1, model.ReasonExplicit)
	r := &Resolver{Catalog: cat, Installed: inst}

	order, err := r.PlanInstall([]string{"app"})
	if err != nil {
		t.Fatalf("PlanInstall failed: %v", err)
	}
	if len(order) != 1 || order[0] != "app" {
		t.Errorf("expected only app in plan, got %v", order)
	}
}

func TestPlanInstallBaselayoutOrderedFirst(t *testing.T) {
	cat := catalogWith(
		model.PackageRecord{Name: "app", Runtime: []model.Relation{{Package: "baselayout"}, {Package: "lib"}}},
		model.PackageRecord{Name: "lib"},
		model.PackageRecord{Name: "baselayout"},
	)
	r := &Resolver{Catalog: cat, Installed: newFakeInstalled()}

	order, err := r.PlanInstall([]string{"app"})
	if err != nil {
		t.Fatalf("PlanInstall failed: %v", err)
	}
	if order[0] != "baselayout" {
		t.Errorf("expected baselayout first, got %v", order)
	}
}

func TestPlanRemoveExpandsByRevDep(t *testing.T) {
	inst := newFakeInstalled()
	inst.add("lib", "1.0", 1, model.ReasonAutomatic)
	inst.add("app", "1.0", 1, model.ReasonExplicit, model.Relation{Package: "lib"})
	r := &Resolver{Catalog: catalogWith(), Installed: inst}

	order, err := r.PlanRemove([]string{"lib"}, false)
	if err != nil {
		t.Fatalf("PlanRemove failed: %v", err)
	}
	if !containsInOrder(order, "app", "lib") {
		t.Errorf("expected app removed before lib, got %v", order)
	}
}

func TestPlanRemoveProtectedFailsWithoutIgnoreSafety(t *testing.T) {
	inst := newFakeInstalled()
	inst.add("baselayout", "1.0", 1, model.ReasonExplicit)
	r := &Resolver{
		Catalog:    catalogWith(),
		Installed:  inst,
		SystemBase: map[string]bool{"baselayout": true},
	}

	_, err := r.PlanRemove([]string{"baselayout"}, false)
	if _, ok := err.(*model.ProtectedRemovalError); !ok {
		t.Fatalf("expected ProtectedRemovalError, got %v", err)
	}

	order, err := r.PlanRemove([]string{"baselayout"}, true)
	if err != nil {
		t.Fatalf("expected ignore-safety to bypass protection: %v", err)
	}
	if len(order) != 1 || order[0] != "baselayout" {
		t.Errorf("unexpected order: %v", order)
	}
}

func TestPlanAutoremoveAllFindsOrphans(t *testing.T) {
	inst := newFakeInstalled()
	inst.add("app", "1.0", 1, model.ReasonExplicit, model.Relation{Package: "lib"})
	inst.add("lib", "1.0", 1, model.ReasonAutomatic)
	r := &Resolver{Catalog: catalogWith(), Installed: inst}

	order, err := r.PlanAutoremoveAll()
	if err != nil {
		t.Fatalf("PlanAutoremoveAll failed: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("expected no orphans while app still depends on lib, got %v", order)
	}

	delete(inst.records, "app")
	order, err = r.PlanAutoremoveAll()
	if err != nil {
		t.Fatalf("PlanAutoremoveAll failed: %v", err)
	}
	if len(order) != 1 || order[0] != "lib" {
		t.Errorf("expected lib to be orphaned, got %v", order)
	}
}

func TestCheckConflictsInternal(t *testing.T) {
	cat := catalogWith(
		model.PackageRecord{Name: "x", Version: "1.0", Conflicts: []model.Relation{{Package: "y"}}},
		model.PackageRecord{Name: "y", Version: "1.0"},
	)
	r := &Resolver{Catalog: cat, Installed: newFakeInstalled()}

	report, err := r.CheckConflicts([]string{"x", "y"})
	if err != nil {
		t.Fatalf("CheckConflicts failed: %v", err)
	}
	if len(report.Internal) != 1 {
		t.Errorf("expected 1 internal conflict, got %v", report.Internal)
	}
}

func TestCheckConflictsExternal(t *testing.T) {
	inst := newFakeInstalled()
	inst.add("y", "1.0", 1, model.ReasonExplicit)
	cat := catalogWith(
		model.PackageRecord{Name: "x", Version: "1.0", Conflicts: []model.Relation{{Package: "y"}}},
	)
	r := &Resolver{Catalog: cat, Installed: inst}

	report, err := r.CheckConflicts([]string{"x"})
	if err != nil {
		t.Fatalf("CheckConflicts failed: %v", err)
	}
	if len(report.External) != 1 || report.External[0] != "y" {
		t.Errorf("expected external conflict with y, got %v", report.External)
	}
}

func TestUpgradeBaseQueuesMissingAndUpgradable(t *testing.T) {
	inst := newFakeInstalled()
	inst.add("base-old", "1.0", 1, model.ReasonExplicit)
	cat := catalogWith(
		model.PackageRecord{Name: "base-old", Version: "2.0", Release: 2},
		model.PackageRecord{Name: "base-missing", Version: "1.0", Release: 1},
	)
	r := &Resolver{
		Catalog:    cat,
		Installed:  inst,
		SystemBase: map[string]bool{"base-old": true, "base-missing": true},
	}

	extra := r.UpgradeBase()
	if len(extra) != 2 {
		t.Fatalf("expected both base packages queued, got %v", extra)
	}
}

func TestPlanUpgradeResolvesConflictByUpgrading(t *testing.T) {
	// x's repo revision conflicts with y <= 1.5. Installed y-1.0 still
	// conflicts, but repo has y-2.0 which doesn't; upgrading x should
	// pull y into the plan too, rather than leaving an unresolved conflict.
	inst := newFakeInstalled()
	inst.add("x", "1.0", 1, model.ReasonExplicit)
	inst.add("y", "1.0", 1, model.ReasonExplicit)
	cat := catalogWith(
		model.PackageRecord{
			Name: "x", Version: "2.0", Release: 2,
			Conflicts: []model.Relation{{Package: "y", VersionTo: "1.5"}},
		},
		model.PackageRecord{Name: "y", Version: "2.0", Release: 2},
	)
	r := &Resolver{Catalog: cat, Installed: inst}

	order, err := r.PlanUpgrade([]string{"x"}, map[string][]string{})
	if err != nil {
		t.Fatalf("PlanUpgrade failed: %v", err)
	}
	hasX, hasY := false, false
	for _, n := range order {
		if n == "x" {
			hasX = true
		}
		if n == "y" {
			hasY = true
		}
	}
	if !hasX {
		t.Errorf("expected x in upgrade plan, got %v", order)
	}
	if !hasY {
		t.Errorf("expected y pulled into upgrade plan by conflict resolution, got %v", order)
	}
}
