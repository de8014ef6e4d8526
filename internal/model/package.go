// Package model holds the record types shared by every other package in
// this module: relations, package records, installed records, files,
// repositories and components. Keeping them in one arena-free package
// (no owning pointers between records, only string identifiers — see
// DESIGN.md's note on cyclic structures) avoids import cycles between
// reposdb, installdb, resolver and apply.
package model

import "time"

// InstallReason records whether a package was installed because a user
// asked for it by name, or pulled in automatically to satisfy a dependency.
type InstallReason string

const (
	ReasonExplicit  InstallReason = "explicit"
	ReasonAutomatic InstallReason = "automatic"
)

// FileType classifies one entry of a package's file list.
type FileType string

const (
	FileTypeData      FileType = "data"
	FileTypeConfig    FileType = "config"
	FileTypeDoc       FileType = "doc"
	FileTypeExecutable FileType = "executable"
	FileTypeDirectory FileType = "directory"
)

// FileEntry is one recorded file belonging to an installed package.
type FileEntry struct {
	Path      string
	Hash      string
	Type      FileType
	Mode      uint32
	Owner     string
	Group     string
	Permanent bool
}

// DeltaEntry describes an available delta package from SourceRelease to
// the package record it is attached to.
type DeltaEntry struct {
	SourceRelease int
	URI           string
	Hash          string
}

// UpdateEntry is one bounded update-history record attached to a
// PackageRecord, used by the resolver's update-action propagation rule.
type UpdateEntry struct {
	Release int
	Type    string // e.g. "security", "bugfix"
	// Actions maps an action name (e.g. "reverseDependencyUpdate",
	// "systemRestart") to its target package list.
	Actions map[string][]string
}

// PackageRecord is the parsed form of one <Package> entry in a repository
// index.
type PackageRecord struct {
	Name                 string
	Version              string
	Release              int
	Distribution         string
	DistributionRelease  string
	Architecture         string
	Summary              string
	Runtime              []Relation
	Conflicts            []Relation
	Replaces             []Relation
	Provides             []Relation
	FileListURI          string
	PackageURI           string
	PackageHash          string
	InstalledSizeBytes   int64
	PackageSizeBytes     int64
	Deltas               map[int]DeltaEntry
	UpdateHistory        []UpdateEntry
}

// GetUpdateActions returns the merged action->targets map for every
// UpdateEntry whose Release is strictly greater than installedRelease,
// mirroring pisi's Package.get_update_actions.
func (p PackageRecord) GetUpdateActions(installedRelease int) map[string][]string {
	out := map[string][]string{}
	for _, u := range p.UpdateHistory {
		if u.Release <= installedRelease {
			continue
		}
		for action, targets := range u.Actions {
			out[action] = append(out[action], targets...)
		}
	}
	return out
}

// HasUpdateType reports whether any update-history entry newer than
// installedRelease carries the given type (e.g. "security").
func (p PackageRecord) HasUpdateType(kind string, installedRelease int) bool {
	for _, u := range p.UpdateHistory {
		if u.Release > installedRelease && u.Type == kind {
			return true
		}
	}
	return false
}

// DeltaFor returns the delta entry applicable from sourceRelease, if any.
func (p PackageRecord) DeltaFor(sourceRelease int) (DeltaEntry, bool) {
	d, ok := p.Deltas[sourceRelease]
	return d, ok
}

// InstalledRecord is a PackageRecord plus the bookkeeping the install DB
// maintains about a package actually present on the host.
type InstalledRecord struct {
	PackageRecord
	InstalledAt      time.Time
	Reason           InstallReason
	Files            []FileEntry
	NeedsReconfigure bool
}

// ConfigFiles returns the subset of Files whose Type is FileTypeConfig.
func (r InstalledRecord) ConfigFiles() []FileEntry {
	var out []FileEntry
	for _, f := range r.Files {
		if f.Type == FileTypeConfig {
			out = append(out, f)
		}
	}
	return out
}

// Component is a named grouping of packages, used by the UI and by the
// system.base safety mechanism.
type Component struct {
	Name     string
	Summary  string
	Packages []string
}

// Group is a named grouping of components.
type Group struct {
	Name       string
	Components []string
}

// DistributionInfo is the <Distribution> block of a repository index.
type DistributionInfo struct {
	SourceName   string
	Name         string
	Release      string
	Architecture string
	Obsoletes    []string
}

// RepositoryIndex is the cached, parsed form of one repository's index file.
type RepositoryIndex struct {
	Distribution DistributionInfo
	Packages     []PackageRecord
	Components   []Component
	Groups       []Group
	// Replaces maps an obsolete package name to the package(s) that replace it.
	Replaces map[string][]string
}

// PackageByName returns the package record with the given name, if present.
func (idx RepositoryIndex) PackageByName(name string) (PackageRecord, bool) {
	for _, p := range idx.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return PackageRecord{}, false
}
