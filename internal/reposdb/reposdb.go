// Package reposdb manages the ordered repository list (repos.xml) and a
// per-repository cache of parsed index files. It is grounded on
// pisi/db/repodb.py's RepoOrder and RepoDB.
package reposdb

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/solus-project/eopkg-core/internal/model"
)

// maxCachedIndexes bounds the per-repository parsed-index cache: a host
// with far more configured repositories than it actively plans against
// should not keep every index resident.
const maxCachedIndexes = 32

// legacyURLRewrites maps old, retired mirror hosts to their current
// replacement, applied whenever a repository URL is read or written.
var legacyURLRewrites = map[string]string{
	"https://packages.solus-project.com/shannon/eopkg-index.xml.xz": "https://cdn.getsol.us/repo/shannon/eopkg-index.xml.xz",
	"http://packages.solus-project.com/shannon/eopkg-index.xml.xz":  "https://cdn.getsol.us/repo/shannon/eopkg-index.xml.xz",
	"https://mirrors.rit.edu/solus/shannon/eopkg-index.xml.xz":      "https://cdn.getsol.us/repo/shannon/eopkg-index.xml.xz",
}

// RewriteLegacyURL returns the current URL for a possibly-retired mirror
// address, and whether a rewrite occurred.
func RewriteLegacyURL(uri string) (string, bool) {
	if n, ok := legacyURLRewrites[uri]; ok {
		return n, true
	}
	return uri, false
}

type xmlRepos struct {
	XMLName xml.Name   `xml:"REPOS"`
	Repos   []xmlRepo  `xml:"Repo"`
}

type xmlRepo struct {
	Name   string `xml:"Name"`
	URL    string `xml:"Url"`
	Status string `xml:"Status"`
	Media  string `xml:"Media"`
}

// DB is the ordered repository list plus a cache of parsed indexes. It is
// safe for concurrent use.
type DB struct {
	mu          sync.RWMutex
	path        string // repos.xml location
	indexDir    string // root under which per-repo index files are cached
	repos       []model.Repository
	legacyFound bool

	cache *lru.Cache[string, cachedIndex]
}

type cachedIndex struct {
	modTime int64
	index   model.RepositoryIndex
}

// Open loads the repository list from path (typically
// /var/lib/eopkg/repos.xml), creating an empty one if absent.
func Open(path, indexDir string) (*DB, error) {
	cache, err := lru.New[string, cachedIndex](maxCachedIndexes)
	if err != nil {
		return nil, err
	}
	db := &DB{path: path, indexDir: indexDir, cache: cache}
	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) load() error {
	data, err := os.ReadFile(db.path)
	if os.IsNotExist(err) {
		db.repos = nil
		return nil
	}
	if err != nil {
		return err
	}
	var doc xmlRepos
	if err := xml.Unmarshal(data, &doc); err != nil {
		return &model.IndexCorruptError{Repo: db.path}
	}

	repos := make([]model.Repository, 0, len(doc.Repos))
	for i, r := range doc.Repos {
		url := r.URL
		if rewritten, ok := RewriteLegacyURL(url); ok {
			url = rewritten
			db.legacyFound = true
		}
		status := model.RepoStatus(r.Status)
		if status != model.RepoActive && status != model.RepoInactive {
			status = model.RepoInactive
		}
		repos = append(repos, model.Repository{
			Name:     r.Name,
			URI:      url,
			Status:   status,
			Media:    model.RepoMedia(r.Media),
			Position: i,
		})
	}
	db.repos = repos
	return nil
}

func (db *DB) save() error {
	doc := xmlRepos{}
	for _, r := range db.repos {
		doc.Repos = append(doc.Repos, xmlRepo{
			Name:   r.Name,
			URL:    r.URI,
			Status: string(r.Status),
			Media:  string(r.Media),
		})
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(db.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(db.path, data, 0644)
}

// LegacyRewriteOccurred reports whether any repo URL was rewritten on
// load, mirroring RepoOrder.legacy_repo_used.
func (db *DB) LegacyRewriteOccurred() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.legacyFound
}

// Add appends a new repository entry and persists the list.
func (db *DB) Add(name, uri string, media model.RepoMedia) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, r := range db.repos {
		if r.Name == name {
			return fmt.Errorf("repository %q already exists", name)
		}
	}
	if rewritten, ok := RewriteLegacyURL(uri); ok {
		uri = rewritten
		db.legacyFound = true
	}
	db.repos = append(db.repos, model.Repository{
		Name: name, URI: uri, Status: model.RepoActive, Media: media, Position: len(db.repos),
	})
	return db.save()
}

// Remove deletes a repository entry by name and persists the list.
func (db *DB) Remove(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := db.repos[:0]
	found := false
	for _, r := range db.repos {
		if r.Name == name {
			found = true
			continue
		}
		out = append(out, r)
	}
	if !found {
		return &model.UnknownRepoError{Name: name}
	}
	db.repos = out
	db.cache.Remove(name)
	return db.save()
}

// SetPriority moves the named repository to index newPos of the whole
// registration order (0 = first), renumbering every repository's
// Position and persisting the result. List still groups by media class
// first, so the new position only orders it among repositories of its
// own class.
func (db *DB) SetPriority(name string, newPos int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	idx := -1
	for i, r := range db.repos {
		if r.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return &model.UnknownRepoError{Name: name}
	}

	moved := db.repos[idx]
	rest := append(append([]model.Repository{}, db.repos[:idx]...), db.repos[idx+1:]...)
	if newPos < 0 {
		newPos = 0
	}
	if newPos > len(rest) {
		newPos = len(rest)
	}
	reordered := append(append([]model.Repository{}, rest[:newPos]...), append([]model.Repository{moved}, rest[newPos:]...)...)
	for i := range reordered {
		reordered[i].Position = i
	}
	db.repos = reordered
	return db.save()
}

// SetStatus flips a repository active/inactive.
func (db *DB) SetStatus(name string, status model.RepoStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range db.repos {
		if db.repos[i].Name == name {
			db.repos[i].Status = status
			return db.save()
		}
	}
	return &model.UnknownRepoError{Name: name}
}

// Get returns the repository entry by name.
func (db *DB) Get(name string) (model.Repository, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, r := range db.repos {
		if r.Name == name {
			return r, nil
		}
	}
	return model.Repository{}, &model.UnknownRepoError{Name: name}
}

// List returns repository names ordered by media class (cd, usb, remote,
// local) then by registration position within that class.
// When onlyActive is true, inactive repositories are omitted.
func (db *DB) List(onlyActive bool) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ordered := make([]model.Repository, len(db.repos))
	copy(ordered, db.repos)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := model.MediaRank(ordered[i].Media), model.MediaRank(ordered[j].Media)
		if ri != rj {
			return ri < rj
		}
		return ordered[i].Position < ordered[j].Position
	})

	out := make([]string, 0, len(ordered))
	for _, r := range ordered {
		if onlyActive && r.Status != model.RepoActive {
			continue
		}
		out = append(out, r.Name)
	}
	return out
}

// indexPath is where a repository's parsed index XML is cached on disk.
func (db *DB) indexPath(name string) string {
	return filepath.Join(db.indexDir, name, "eopkg-index.xml")
}

// LoadIndex parses and caches the named repository's index file,
// invalidating the cache entry when the file's modification time has
// changed since it was last read.
func (db *DB) LoadIndex(name string) (model.RepositoryIndex, error) {
	path := db.indexPath(name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return model.RepositoryIndex{}, &model.RepoUnreachableError{Repo: name}
	}
	if err != nil {
		return model.RepositoryIndex{}, err
	}

	if c, ok := db.cache.Get(name); ok && c.modTime == info.ModTime().UnixNano() {
		return c.index, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.RepositoryIndex{}, err
	}
	idx, err := parseIndex(data)
	if err != nil {
		return model.RepositoryIndex{}, &model.IndexCorruptError{Repo: name}
	}
	db.cache.Add(name, cachedIndex{modTime: info.ModTime().UnixNano(), index: idx})
	return idx, nil
}

// StoreIndex writes freshly fetched index bytes to the repository's
// cache location and invalidates the in-memory entry.
func (db *DB) StoreIndex(name string, data []byte) error {
	path := db.indexPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	db.cache.Remove(name)
	return nil
}

// CheckDistribution verifies a repository's advertised distribution
// matches expected; on mismatch the repository is deactivated, grounded
// on RepoDB.check_distribution.
func (db *DB) CheckDistribution(name, expectedDistro, expectedRelease string) error {
	idx, err := db.LoadIndex(name)
	if err != nil {
		return err
	}
	if idx.Distribution.SourceName == "" {
		return nil
	}
	compatible := idx.Distribution.SourceName == expectedDistro
	if idx.Distribution.Release != "" {
		compatible = compatible && idx.Distribution.Release == expectedRelease
	}
	if !compatible {
		_ = db.SetStatus(name, model.RepoInactive)
		return &model.IncompatibleDistributionError{
			Repo: name, Expected: expectedDistro, Found: idx.Distribution.SourceName,
		}
	}
	return nil
}
