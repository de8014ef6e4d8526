// Package filesdb is the content-addressed ownership index mapping an
// installed file path to the package that owns it. It is grounded on
// pisi/db/filesdb.py, which keeps the same index as a Python shelve
// (dbm) keyed by md5(path); here the backing store is a real SQL
// database (modernc.org/sqlite, pure Go, no cgo) accessed through
// database/sql, giving schema versioning and atomic batched writes the
// original's dbm file cannot.
package filesdb

import (
	"crypto/md5"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/solus-project/eopkg-core/internal/model"
)

// schemaVersion is bumped whenever the table layout changes; DB opens
// that find a mismatched stored version trigger a rebuild rather than
// trying to migrate in place.
const schemaVersion = 1

const ddl = `
CREATE TABLE IF NOT EXISTS files (
	path_hash BLOB PRIMARY KEY,
	path      TEXT NOT NULL,
	package   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_package ON files(package);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// pkgconfigSearchDirs are the known locations get_pkgconfig_provider
// walks looking for a .pc file, in search order.
var pkgconfigSearchDirs = []string{
	"/usr/lib64/pkgconfig",
	"/usr/share/pkgconfig",
	"/usr/lib/pkgconfig",
}

var pkgconfig32Dir = "/usr/lib32/pkgconfig"

// DB wraps the SQLite-backed ownership index.
type DB struct {
	sql  *sql.DB
	path string
}

// pathHash is the content-addressing key: the 128-bit MD5 digest of the
// path string, matching pisi's own choice of hashlib.md5 for this
// purpose (a content-addressing use, not a cryptographic one).
func pathHash(path string) []byte {
	sum := md5.Sum([]byte(path))
	return sum[:]
}

// Open opens (creating if absent) the files database at path. If the
// stored schema version doesn't match schemaVersion, it returns
// *model.FilesDBNeedsRebuildError so the caller can trigger Rebuild.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec(ddl); err != nil {
		sqlDB.Close()
		return nil, &model.DatabaseCorruptError{What: "files.db schema"}
	}

	db := &DB{sql: sqlDB, path: path}
	version, err := db.storedSchemaVersion()
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if version == 0 {
		if err := db.setSchemaVersion(schemaVersion); err != nil {
			sqlDB.Close()
			return nil, err
		}
	} else if version != schemaVersion {
		sqlDB.Close()
		return nil, &model.FilesDBNeedsRebuildError{}
	}
	return db, nil
}

func (db *DB) storedSchemaVersion() (int, error) {
	row := db.sql.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`)
	var raw string
	if err := row.Scan(&raw); err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, &model.DatabaseCorruptError{What: "files.db schema_version"}
	}
	return v, nil
}

func (db *DB) setSchemaVersion(v int) error {
	_, err := db.sql.Exec(`INSERT INTO meta(key, value) VALUES('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", v))
	return err
}

// Close releases the underlying SQL handle.
func (db *DB) Close() error { return db.sql.Close() }

// Rebuild drops and recreates the schema, then replays ownership from
// every installed record's file list — the equivalent of pisi's
// rebuild-db command, invoked when Open reports a version mismatch or
// corruption is otherwise detected.
func Rebuild(path string, installed map[string][]model.FileEntry) (*DB, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec(ddl); err != nil {
		sqlDB.Close()
		return nil, err
	}
	db := &DB{sql: sqlDB, path: path}
	if err := db.setSchemaVersion(schemaVersion); err != nil {
		sqlDB.Close()
		return nil, err
	}
	for pkg, files := range installed {
		if err := db.AddFiles(pkg, files); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return db, nil
}

// HasFile reports whether path is currently owned by some package.
func (db *DB) HasFile(path string) bool {
	_, ok, _ := db.GetFile(path)
	return ok
}

// GetFile returns the package owning path, if any.
func (db *DB) GetFile(path string) (string, bool, error) {
	row := db.sql.QueryRow(`SELECT package FROM files WHERE path_hash = ?`, pathHash(path))
	var pkg string
	if err := row.Scan(&pkg); err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return pkg, true, nil
}

// AddFiles registers every file in files as owned by pkg, in one
// transaction. A path already owned by another package is overwritten;
// callers are expected to have already run the file-conflict scan
// before calling this.
func (db *DB) AddFiles(pkg string, files []model.FileEntry) error {
	tx, err := db.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO files(path_hash, path, package) VALUES(?, ?, ?)
		ON CONFLICT(path_hash) DO UPDATE SET package = excluded.package, path = excluded.path`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(pathHash(f.Path), f.Path, pkg); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RemoveFiles unregisters every file in files, regardless of current owner.
func (db *DB) RemoveFiles(files []model.FileEntry) error {
	tx, err := db.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`DELETE FROM files WHERE path_hash = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(pathHash(f.Path)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// FilesOwnedBy returns every path currently attributed to pkg.
func (db *DB) FilesOwnedBy(pkg string) ([]string, error) {
	rows, err := db.sql.Query(`SELECT path FROM files WHERE package = ?`, pkg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AllOwnedPaths returns every path currently registered, regardless of
// owner. Used by the crash-safety reconciliation pass to find entries
// that survive from a package no longer present in the install DB.
func (db *DB) AllOwnedPaths() ([]string, error) {
	rows, err := db.sql.Query(`SELECT path FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPkgconfigProvider looks up the package providing a pkgconfig(.pc)
// name across the known 64-bit search directories.
func (db *DB) GetPkgconfigProvider(name string) (pkg string, path string, ok bool, err error) {
	for _, dir := range pkgconfigSearchDirs {
		fp := dir + "/" + name + ".pc"
		p, found, err := db.GetFile(fp)
		if err != nil {
			return "", "", false, err
		}
		if found {
			return p, fp, true, nil
		}
	}
	return "", "", false, nil
}

// GetPkgconfig32Provider is the 32-bit-compat counterpart of
// GetPkgconfigProvider, checked against a single fixed directory.
func (db *DB) GetPkgconfig32Provider(name string) (pkg string, path string, ok bool, err error) {
	fp := pkgconfig32Dir + "/" + name + ".pc"
	p, found, err := db.GetFile(fp)
	if err != nil {
		return "", "", false, err
	}
	if !found {
		return "", "", false, nil
	}
	return p, fp, true, nil
}
