package model

import "github.com/solus-project/eopkg-core/internal/version"

// RelationType distinguishes a plain package-name relation from one that
// indirects through a provides map (pkgconfig / pkgconfig32).
type RelationType string

const (
	// RelationPlain matches Relation.Package against a package name directly.
	RelationPlain RelationType = ""
	// RelationPkgConfig matches against the pkgconfig provides map (64-bit).
	RelationPkgConfig RelationType = "pkgconfig"
	// RelationPkgConfig32 matches against the pkgconfig provides map (32-bit).
	RelationPkgConfig32 RelationType = "pkgconfig32"
)

// Relation is a dependency/conflict constraint: a package name plus an
// optional version and release bound.
type Relation struct {
	Package     string
	Version     string
	VersionFrom string
	VersionTo   string
	Release     string
	ReleaseFrom string
	ReleaseTo   string
	Type        RelationType
}

// Name returns the constrained package (or provides) name.
func (r Relation) Name() string { return r.Package }

// Satisfies reports whether a revision with the given version/release
// string satisfies this relation's bounds. A malformed version or release
// fails closed (reports false, with the parse error).
func (r Relation) Satisfies(ver string, release int) (bool, error) {
	if r.Version != "" && ver != r.Version {
		return false, nil
	} else if r.Version == "" && (r.VersionFrom != "" || r.VersionTo != "") {
		v, err := version.Parse(ver)
		if err != nil {
			return false, err
		}
		if r.VersionFrom != "" {
			from, err := version.Parse(r.VersionFrom)
			if err != nil {
				return false, err
			}
			if v.Less(from) {
				return false, nil
			}
		}
		if r.VersionTo != "" {
			to, err := version.Parse(r.VersionTo)
			if err != nil {
				return false, err
			}
			if v.Greater(to) {
				return false, nil
			}
		}
	}

	if r.Release != "" {
		want, err := atoiRelation(r.Release)
		if err != nil {
			return false, err
		}
		if release != want {
			return false, nil
		}
		return true, nil
	}
	if r.ReleaseFrom != "" {
		from, err := atoiRelation(r.ReleaseFrom)
		if err != nil {
			return false, err
		}
		if release < from {
			return false, nil
		}
	}
	if r.ReleaseTo != "" {
		to, err := atoiRelation(r.ReleaseTo)
		if err != nil {
			return false, err
		}
		if release > to {
			return false, nil
		}
	}
	return true, nil
}

func atoiRelation(s string) (int, error) {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0, &InvalidVersionStringError{Input: s}
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// String renders the relation the way pisi/dependency.py's Dependency.__str__ does.
func (r Relation) String() string {
	s := r.Package
	if r.VersionFrom != "" {
		s += " version >= " + r.VersionFrom
	}
	if r.VersionTo != "" {
		s += " version <= " + r.VersionTo
	}
	if r.Version != "" {
		s += " version " + r.Version
	}
	if r.ReleaseFrom != "" {
		s += " release >= " + r.ReleaseFrom
	}
	if r.ReleaseTo != "" {
		s += " release <= " + r.ReleaseTo
	}
	if r.Release != "" {
		s += " release " + r.Release
	}
	if r.Type != RelationPlain {
		s += " (" + string(r.Type) + ")"
	}
	return s
}
