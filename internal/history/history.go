// Package history appends a numbered record for every mutating
// transaction, grounded on pisi/history.py's History/Operation/Package
// XML documents ("<number>_<operation>.xml" per transaction), with
// snapshot/takeback support for reverting to a previous system state.
package history

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// OperationType is the kind of transaction a history entry records.
type OperationType string

const (
	OpInstall    OperationType = "install"
	OpUpgrade    OperationType = "upgrade"
	OpRemove     OperationType = "remove"
	OpReinstall  OperationType = "reinstall"
	OpEmerge     OperationType = "emerge"
	OpSnapshot   OperationType = "snapshot"
	OpTakeback   OperationType = "takeback"
	OpRepoUpdate OperationType = "repoupdate"
)

// PackageChange is one package's before/after state within a transaction.
type PackageChange struct {
	Name      string
	Operation string // install | upgrade | remove | reinstall | downgrade
	Delta     bool
	Before    *Revision `xml:"Before,omitempty"`
	After     *Revision `xml:"After,omitempty"`
}

// Revision is a package's version/release at one side of a PackageChange.
type Revision struct {
	Version string
	Release string
}

// RepoChange is one repository add/remove/update within a transaction.
type RepoChange struct {
	Operation string // add | remove | update
	Name      string
	URI       string
}

// Entry is one transaction record, serialized as
// "<No>_<Type>.xml" under the history directory.
type Entry struct {
	XMLName  xml.Name        `xml:"PISI"`
	No       int             `xml:"-"`
	Type     OperationType   `xml:"type,attr"`
	Date     string          `xml:"date,attr"`
	Time     string          `xml:"time,attr"`
	Packages []PackageChange `xml:"Operation>Package"`
	Repos    []RepoChange    `xml:"Operation>Repository"`
}

// String renders one package change the way pisi/history.py's
// Package.__str__ does.
func (p PackageChange) String() string {
	switch p.Operation {
	case "upgrade":
		if p.Delta {
			return fmt.Sprintf("%s is upgraded from %s to %s with delta.", p.Name, p.Before, p.After)
		}
		return fmt.Sprintf("%s is upgraded from %s to %s.", p.Name, p.Before, p.After)
	case "remove":
		return fmt.Sprintf("%s %s is removed.", p.Name, p.Before)
	case "install":
		return fmt.Sprintf("%s %s is installed.", p.Name, p.After)
	case "reinstall":
		return fmt.Sprintf("%s %s is reinstalled.", p.Name, p.After)
	case "downgrade":
		return fmt.Sprintf("%s is downgraded from %s to %s.", p.Name, p.Before, p.After)
	default:
		return ""
	}
}

func (r *Revision) String() string {
	if r == nil {
		return ""
	}
	return r.Version + "-" + r.Release
}

// Log is an append-only, numbered, on-disk operation history.
type Log struct {
	dir string
}

// Open returns a Log rooted at dir (typically
// /var/lib/eopkg/history), creating it if absent.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Log{dir: dir}, nil
}

var entryFilePattern = func(no int, typ OperationType) string {
	return fmt.Sprintf("%d_%s.xml", no, typ)
}

// Latest returns the highest transaction number recorded so far, or 0
// if the log is empty.
func (l *Log) Latest() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, err
	}
	latest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}

// Append records a new transaction entry, assigning it the next
// sequential number.
func (l *Log) Append(typ OperationType, date, timeOfDay string, packages []PackageChange, repos []RepoChange) (Entry, error) {
	latest, err := l.Latest()
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		No:       latest + 1,
		Type:     typ,
		Date:     date,
		Time:     timeOfDay,
		Packages: packages,
		Repos:    repos,
	}
	data, err := xml.MarshalIndent(entry, "", "  ")
	if err != nil {
		return Entry{}, err
	}
	path := filepath.Join(l.dir, entryFilePattern(entry.No, entry.Type))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns every recorded entry, ordered by transaction number
// ascending.
func (l *Log) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var entry Entry
		if err := xml.Unmarshal(data, &entry); err != nil {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if n, err := strconv.Atoi(parts[0]); err == nil {
			entry.No = n
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].No < out[j].No })
	return out, nil
}

// Get returns the entry with the given transaction number.
func (l *Log) Get(no int) (Entry, error) {
	entries, err := l.List()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.No == no {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("no history entry numbered %d", no)
}

// Snapshot records the current installed-package set as a restorable
// point, so a later Takeback can recompute the diff against it.
func (l *Log) Snapshot(date, timeOfDay string, installed []PackageChange) (Entry, error) {
	return l.Append(OpSnapshot, date, timeOfDay, installed, nil)
}

// TakebackTarget computes the package-level diff needed to revert from
// the current installed set to the state recorded in a prior snapshot
// or operation numbered no: packages to remove (installed now, absent
// then), and target revisions to install/downgrade to (present then).
func (l *Log) TakebackTarget(no int, currentlyInstalled map[string]Revision) (toRemove []string, toInstall map[string]Revision, err error) {
	entry, err := l.Get(no)
	if err != nil {
		return nil, nil, err
	}
	want := make(map[string]Revision, len(entry.Packages))
	for _, p := range entry.Packages {
		if p.After != nil {
			want[p.Name] = *p.After
		}
	}

	toInstall = make(map[string]Revision)
	for name, rev := range want {
		cur, ok := currentlyInstalled[name]
		if !ok || cur != rev {
			toInstall[name] = rev
		}
	}
	for name := range currentlyInstalled {
		if _, ok := want[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	sort.Strings(toRemove)
	return toRemove, toInstall, nil
}
