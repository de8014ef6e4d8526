package reposdb

import (
	"encoding/xml"

	"github.com/solus-project/eopkg-core/internal/model"
)

// indexDoc mirrors the <PISI> root of a repository index file, using
// stdlib encoding/xml rather than a streaming or reflection-based parser
// (the index files involved are tens of megabytes at most, well within
// what a one-shot Unmarshal comfortably handles).
type indexDoc struct {
	XMLName      xml.Name          `xml:"PISI"`
	Distribution indexDistribution `xml:"Distribution"`
	Packages     []indexPackage    `xml:"Package"`
	Components   []indexComponent  `xml:"Component"`
	Groups       []indexGroup      `xml:"Group"`
}

type indexDistribution struct {
	SourceName   string   `xml:"SourceName"`
	Name         string   `xml:"Name"`
	Version      string   `xml:"Version"`
	Architecture string   `xml:"Architecture"`
	Obsoletes    []string `xml:"Obsoletes>Package"`
}

type indexPackage struct {
	Name                string         `xml:"Name"`
	Version             string         `xml:"History>Update>Version"`
	Release             int            `xml:"History>Update>Release"`
	Distribution        string         `xml:"Distribution"`
	DistributionRelease string         `xml:"DistributionRelease"`
	Architecture        string         `xml:"Architecture"`
	Summary             string         `xml:"Summary"`
	Runtime             []indexRelation `xml:"RuntimeDependencies>Dependency"`
	Conflicts           []indexRelation `xml:"Conflicts>Package"`
	Replaces            []indexRelation `xml:"Replaces>Package"`
	Provides            []indexRelation `xml:"Provides>Package"`
	PackageURI          string         `xml:"PackageURI"`
	PackageHash         string         `xml:"PackageHash"`
	InstalledSize       int64          `xml:"InstalledSize"`
	PackageSize         int64          `xml:"PackageSize"`
}

type indexRelation struct {
	Package     string `xml:",chardata"`
	Version     string `xml:"version,attr,omitempty"`
	VersionFrom string `xml:"versionFrom,attr,omitempty"`
	VersionTo   string `xml:"versionTo,attr,omitempty"`
	Release     string `xml:"release,attr,omitempty"`
	ReleaseFrom string `xml:"releaseFrom,attr,omitempty"`
	ReleaseTo   string `xml:"releaseTo,attr,omitempty"`
	Type        string `xml:"type,attr,omitempty"`
}

type indexComponent struct {
	Name     string   `xml:"Name"`
	Summary  string   `xml:"Summary"`
	Packages []string `xml:"Packages>Package"`
}

type indexGroup struct {
	Name       string   `xml:"Name"`
	Components []string `xml:"Components>Component"`
}

func parseIndex(data []byte) (model.RepositoryIndex, error) {
	var doc indexDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return model.RepositoryIndex{}, err
	}

	idx := model.RepositoryIndex{
		Distribution: model.DistributionInfo{
			SourceName:   doc.Distribution.SourceName,
			Name:         doc.Distribution.Name,
			Release:      doc.Distribution.Version,
			Architecture: doc.Distribution.Architecture,
			Obsoletes:    doc.Distribution.Obsoletes,
		},
		Replaces: map[string][]string{},
	}

	for _, p := range doc.Packages {
		rec := model.PackageRecord{
			Name:                p.Name,
			Version:             p.Version,
			Release:             p.Release,
			Distribution:        p.Distribution,
			DistributionRelease: p.DistributionRelease,
			Architecture:        p.Architecture,
			Summary:             p.Summary,
			PackageURI:          p.PackageURI,
			PackageHash:         p.PackageHash,
			InstalledSizeBytes:  p.InstalledSize,
			PackageSizeBytes:    p.PackageSize,
		}
		for _, r := range p.Runtime {
			rec.Runtime = append(rec.Runtime, relationFromIndex(r))
		}
		for _, r := range p.Conflicts {
			rec.Conflicts = append(rec.Conflicts, relationFromIndex(r))
		}
		for _, r := range p.Replaces {
			rel := relationFromIndex(r)
			rec.Replaces = append(rec.Replaces, rel)
			idx.Replaces[rel.Package] = append(idx.Replaces[rel.Package], p.Name)
		}
		for _, r := range p.Provides {
			rec.Provides = append(rec.Provides, relationFromIndex(r))
		}
		idx.Packages = append(idx.Packages, rec)
	}

	for _, c := range doc.Components {
		idx.Components = append(idx.Components, model.Component{
			Name: c.Name, Summary: c.Summary, Packages: c.Packages,
		})
	}
	for _, g := range doc.Groups {
		idx.Groups = append(idx.Groups, model.Group{Name: g.Name, Components: g.Components})
	}

	return idx, nil
}

func relationFromIndex(r indexRelation) model.Relation {
	return model.Relation{
		Package:     r.Package,
		Version:     r.Version,
		VersionFrom: r.VersionFrom,
		VersionTo:   r.VersionTo,
		Release:     r.Release,
		ReleaseFrom: r.ReleaseFrom,
		ReleaseTo:   r.ReleaseTo,
		Type:        model.RelationType(r.Type),
	}
}
