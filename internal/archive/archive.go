// Package archive implements eopkg's on-disk package container: a ZIP
// file holding metadata.xml, files.xml, an optional comar/ script
// directory and an install/ payload tree. Content hashing uses SHA-1:
// the overall file's digest is what an index record hashes as
// packageHash.
//
// archive/zip from the standard library is used rather than a
// third-party zip implementation; see DESIGN.md for why.
package archive

import (
	"archive/zip"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/solus-project/eopkg-core/internal/model"
)

const (
	entryMetadata  = "metadata.xml"
	entryFiles     = "files.xml"
	comarDir       = "comar/"
	payloadDir     = "install/"
)

// reproducibleModTime is written into every archive entry when the
// writer is asked to build reproducibly: a fixed instant so two builds
// from identical content produce byte-identical output.
var reproducibleModTime = time.Unix(0, 0).UTC()

// xmlMetadata is the on-disk shape of metadata.xml. It is a concrete,
// hand-written record rather than output of a generic reflection
// framework.
type xmlMetadata struct {
	XMLName              xml.Name       `xml:"PISI"`
	Name                 string         `xml:"Package>Name"`
	Version              string         `xml:"Package>History>Update>Version"`
	Release              int            `xml:"Package>History>Update>Release"`
	Distribution         string         `xml:"Package>Distribution"`
	DistributionRelease  string         `xml:"Package>DistributionRelease"`
	Architecture         string         `xml:"Package>Architecture"`
	Summary              string         `xml:"Package>Summary"`
	Runtime              []xmlRelation  `xml:"Package>RuntimeDependencies>Dependency"`
	Conflicts            []xmlRelation  `xml:"Package>Conflicts>Package"`
	Replaces             []xmlRelation  `xml:"Package>Replaces>Package"`
	Provides             []xmlRelation  `xml:"Package>Provides>Package"`
	PackageHash          string         `xml:"Package>PackageHash"`
	InstalledSizeBytes   int64          `xml:"Package>InstalledSize"`
	PackageSizeBytes     int64          `xml:"Package>PackageSize"`
	SourceRelease        int            `xml:"Package>SourceRelease,omitempty"`
}

type xmlRelation struct {
	Package     string `xml:",chardata"`
	Version     string `xml:"version,attr,omitempty"`
	VersionFrom string `xml:"versionFrom,attr,omitempty"`
	VersionTo   string `xml:"versionTo,attr,omitempty"`
	Release     string `xml:"release,attr,omitempty"`
	ReleaseFrom string `xml:"releaseFrom,attr,omitempty"`
	ReleaseTo   string `xml:"releaseTo,attr,omitempty"`
	Type        string `xml:"type,attr,omitempty"`
}

func toXMLRelation(r model.Relation) xmlRelation {
	return xmlRelation{
		Package:     r.Package,
		Version:     r.Version,
		VersionFrom: r.VersionFrom,
		VersionTo:   r.VersionTo,
		Release:     r.Release,
		ReleaseFrom: r.ReleaseFrom,
		ReleaseTo:   r.ReleaseTo,
		Type:        string(r.Type),
	}
}

func fromXMLRelation(x xmlRelation) model.Relation {
	return model.Relation{
		Package:     x.Package,
		Version:     x.Version,
		VersionFrom: x.VersionFrom,
		VersionTo:   x.VersionTo,
		Release:     x.Release,
		ReleaseFrom: x.ReleaseFrom,
		ReleaseTo:   x.ReleaseTo,
		Type:        model.RelationType(x.Type),
	}
}

type xmlFiles struct {
	XMLName xml.Name  `xml:"Files"`
	Entries []xmlFile `xml:"File"`
}

type xmlFile struct {
	Path      string `xml:"Path"`
	Type      string `xml:"Type"`
	Hash      string `xml:"Hash"`
	Mode      uint32 `xml:"Mode"`
	Owner     string `xml:"Owner,omitempty"`
	Group     string `xml:"Group,omitempty"`
	Permanent bool   `xml:"Permanent,omitempty"`
}

// Listing describes one entry of an opened archive without extracting it.
type Listing struct {
	Name           string
	UncompressedSize uint64
}

// OpenRead lists the entries of the archive at path without extracting
// any of them.
func OpenRead(path string) ([]Listing, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &model.ArchiveCorruptError{Path: path}
	}
	defer zr.Close()

	out := make([]Listing, 0, len(zr.File))
	for _, f := range zr.File {
		out = append(out, Listing{Name: f.Name, UncompressedSize: f.UncompressedSize64})
	}
	return out, nil
}

// ExtractMetadataOnly reads metadata.xml and files.xml without touching
// the payload tree, returning the package record and its file list.
func ExtractMetadataOnly(path string) (model.PackageRecord, []model.FileEntry, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return model.PackageRecord{}, nil, &model.ArchiveCorruptError{Path: path}
	}
	defer zr.Close()

	var meta *xmlMetadata
	var files *xmlFiles
	for _, f := range zr.File {
		switch f.Name {
		case entryMetadata:
			meta, err = readMetadata(f)
		case entryFiles:
			files, err = readFiles(f)
		}
		if err != nil {
			return model.PackageRecord{}, nil, err
		}
	}
	if meta == nil {
		return model.PackageRecord{}, nil, &model.ArchiveCorruptError{Path: path}
	}
	pkg := metadataToRecord(*meta)
	var entries []model.FileEntry
	if files != nil {
		entries = filesToEntries(*files)
	}
	return pkg, entries, nil
}

func readMetadata(f *zip.File) (*xmlMetadata, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var m xmlMetadata
	if err := xml.NewDecoder(rc).Decode(&m); err != nil {
		return nil, &model.ArchiveCorruptError{Path: f.Name}
	}
	return &m, nil
}

func readFiles(f *zip.File) (*xmlFiles, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var fl xmlFiles
	if err := xml.NewDecoder(rc).Decode(&fl); err != nil {
		return nil, &model.ArchiveCorruptError{Path: f.Name}
	}
	return &fl, nil
}

func metadataToRecord(m xmlMetadata) model.PackageRecord {
	pkg := model.PackageRecord{
		Name:                m.Name,
		Version:             m.Version,
		Release:             m.Release,
		Distribution:        m.Distribution,
		DistributionRelease: m.DistributionRelease,
		Architecture:        m.Architecture,
		Summary:             m.Summary,
		PackageHash:         m.PackageHash,
		InstalledSizeBytes:  m.InstalledSizeBytes,
		PackageSizeBytes:    m.PackageSizeBytes,
	}
	for _, r := range m.Runtime {
		pkg.Runtime = append(pkg.Runtime, fromXMLRelation(r))
	}
	for _, r := range m.Conflicts {
		pkg.Conflicts = append(pkg.Conflicts, fromXMLRelation(r))
	}
	for _, r := range m.Replaces {
		pkg.Replaces = append(pkg.Replaces, fromXMLRelation(r))
	}
	for _, r := range m.Provides {
		pkg.Provides = append(pkg.Provides, fromXMLRelation(r))
	}
	return pkg
}

func filesToEntries(fl xmlFiles) []model.FileEntry {
	out := make([]model.FileEntry, 0, len(fl.Entries))
	for _, f := range fl.Entries {
		out = append(out, model.FileEntry{
			Path:      f.Path,
			Hash:      f.Hash,
			Type:      model.FileType(f.Type),
			Mode:      f.Mode,
			Owner:     f.Owner,
			Group:     f.Group,
			Permanent: f.Permanent,
		})
	}
	return out
}

// ExtractFull extracts metadata, files list and the full install/ payload
// tree into destDir, mirroring the final destination layout.
func ExtractFull(path, destDir string) (model.PackageRecord, []model.FileEntry, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return model.PackageRecord{}, nil, &model.ArchiveCorruptError{Path: path}
	}
	defer zr.Close()

	var meta *xmlMetadata
	var files *xmlFiles
	for _, f := range zr.File {
		switch {
		case f.Name == entryMetadata:
			meta, err = readMetadata(f)
		case f.Name == entryFiles:
			files, err = readFiles(f)
		case len(f.Name) > len(payloadDir) && f.Name[:len(payloadDir)] == payloadDir:
			err = extractEntry(f, destDir, f.Name[len(payloadDir):])
		case len(f.Name) > len(comarDir) && f.Name[:len(comarDir)] == comarDir:
			err = extractEntry(f, filepath.Join(destDir, ".comar"), f.Name[len(comarDir):])
		}
		if err != nil {
			return model.PackageRecord{}, nil, &model.StagingFailedError{Path: f.Name}
		}
	}
	if meta == nil {
		return model.PackageRecord{}, nil, &model.ArchiveCorruptError{Path: path}
	}
	var entries []model.FileEntry
	if files != nil {
		entries = filesToEntries(*files)
	}
	return metadataToRecord(*meta), entries, nil
}

func extractEntry(f *zip.File, destDir, relPath string) error {
	if relPath == "" {
		return nil
	}
	target := filepath.Join(destDir, relPath)
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

// Verify recomputes the SHA-1 of the whole archive file and compares it
// to expectedHash.
func Verify(path, expectedHash string) error {
	got, err := SHA1File(path)
	if err != nil {
		return err
	}
	if got != expectedHash {
		return &model.HashMismatchError{Path: path, Expected: expectedHash, Got: got}
	}
	return nil
}

// SHA1File computes the hex-encoded SHA-1 digest of the file at path.
func SHA1File(path string) (string, error) {
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

// WriteOptions controls Write's output.
type WriteOptions struct {
	// PayloadDir is the root of the materialized install/ tree to pack.
	PayloadDir string
	// ComarDir, if non-empty, is packed under comar/.
	ComarDir string
	// Reproducible zeroes entry timestamps for byte-identical rebuilds.
	Reproducible bool
}

// Write produces a package container at path containing metadata.xml,
// files.xml, optional comar/ scripts and the install/ payload tree. The
// file list is sorted lexicographically by path to maximize downstream
// compression stability.
func Write(path string, pkg model.PackageRecord, files []model.FileEntry, opts WriteOptions) error {
	sorted := make([]model.FileEntry, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	if err := writeMetadata(zw, pkg, opts); err != nil {
		return err
	}
	if err := writeFiles(zw, sorted, opts); err != nil {
		return err
	}
	if opts.ComarDir != "" {
		if err := addTree(zw, opts.ComarDir, comarDir, opts.Reproducible); err != nil {
			return err
		}
	}
	if opts.PayloadDir != "" {
		if err := addTree(zw, opts.PayloadDir, payloadDir, opts.Reproducible); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeMetadata(zw *zip.Writer, pkg model.PackageRecord, opts WriteOptions) error {
	m := xmlMetadata{
		Name:                pkg.Name,
		Version:             pkg.Version,
		Release:             pkg.Release,
		Distribution:        pkg.Distribution,
		DistributionRelease: pkg.DistributionRelease,
		Architecture:        pkg.Architecture,
		Summary:             pkg.Summary,
		PackageHash:         pkg.PackageHash,
		InstalledSizeBytes:  pkg.InstalledSizeBytes,
		PackageSizeBytes:    pkg.PackageSizeBytes,
	}
	for _, r := range pkg.Runtime {
		m.Runtime = append(m.Runtime, toXMLRelation(r))
	}
	for _, r := range pkg.Conflicts {
		m.Conflicts = append(m.Conflicts, toXMLRelation(r))
	}
	for _, r := range pkg.Replaces {
		m.Replaces = append(m.Replaces, toXMLRelation(r))
	}
	for _, r := range pkg.Provides {
		m.Provides = append(m.Provides, toXMLRelation(r))
	}

	data, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeZipEntry(zw, entryMetadata, data, opts.Reproducible)
}

func writeFiles(zw *zip.Writer, files []model.FileEntry, opts WriteOptions) error {
	fl := xmlFiles{}
	for _, f := range files {
		fl.Entries = append(fl.Entries, xmlFile{
			Path:      f.Path,
			Type:      string(f.Type),
			Hash:      f.Hash,
			Mode:      f.Mode,
			Owner:     f.Owner,
			Group:     f.Group,
			Permanent: f.Permanent,
		})
	}
	data, err := xml.MarshalIndent(fl, "", "  ")
	if err != nil {
		return err
	}
	return writeZipEntry(zw, entryFiles, data, opts.Reproducible)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte, reproducible bool) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if reproducible {
		hdr.Modified = reproducibleModTime
	} else {
		hdr.Modified = time.Now()
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func addTree(zw *zip.Writer, srcRoot, entryPrefix string, reproducible bool) error {
	return filepath.Walk(srcRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := entryPrefix + filepath.ToSlash(rel)
		if info.IsDir() {
			name += "/"
			hdr := &zip.FileHeader{Name: name}
			if reproducible {
				hdr.Modified = reproducibleModTime
			} else {
				hdr.Modified = info.ModTime()
			}
			_, err := zw.CreateHeader(hdr)
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		if reproducible {
			hdr.Modified = reproducibleModTime
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
}

// DeltaFileName renders the delta package filename convention:
// "<name>-<srcRel>-<dstRel>-<distroId>-<arch>.delta.eopkg".
func DeltaFileName(name string, sourceRelease, destRelease int, distroID, arch string) string {
	return fmt.Sprintf("%s-%d-%d-%s-%s.delta.eopkg", name, sourceRelease, destRelease, distroID, arch)
}

// DeltaApplicable implements the applicability rule of: a delta
// applies iff the installed revision's release equals the delta's
// SourceRelease and the on-disk distribution-id/architecture match.
func DeltaApplicable(delta model.DeltaEntry, installedRelease int, installedDistro, installedArch, deltaDistro, deltaArch string) bool {
	return delta.SourceRelease == installedRelease &&
		installedDistro == deltaDistro &&
		installedArch == deltaArch
}

// ApplyDelta overlays a delta package's install/ payload onto a copy of
// the currently installed file tree rooted at installedRoot, producing a
// full upgraded tree at destDir. Only the files the delta actually
// carries are replaced; everything else is copied unchanged from
// installedRoot.
func ApplyDelta(deltaPath, installedRoot, destDir string) (model.PackageRecord, []model.FileEntry, error) {
	if err := copyTree(installedRoot, destDir); err != nil {
		return model.PackageRecord{}, nil, &model.StagingFailedError{Path: destDir}
	}
	return ExtractFull(deltaPath, destDir)
}

func copyTree(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return os.MkdirAll(dst, 0755)
	}
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
