// Package version implements the distro version algebra described for
// eopkg packages: dot-separated numeric components with an optional
// pre/rc/beta/alpha/m/p suffix class, ordered as
//
//	alpha < beta < pre < rc < m < (no suffix) < p
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidVersionError is returned by Parse when the input does not have
// the shape `V[_suffix]`.
type InvalidVersionError struct {
	Input string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version string: %q", e.Input)
}

// suffixWeights mirrors pisi/version.py's __keywords table: longest
// matching keyword wins, "p" sorts after the unsuffixed case.
var suffixWeights = []struct {
	keyword string
	weight  int
}{
	{"alpha", -5},
	{"beta", -4},
	{"pre", -3},
	{"rc", -2},
	{"m", -1},
	{"p", 1},
}

// segment is one dot-separated piece of a version string, e.g. "12a" ->
// {12, 'a'}. A piece with no trailing letter has letter == 0.
type segment struct {
	num    int
	letter byte
}

func (s segment) compare(o segment) int {
	if s.num != o.num {
		if s.num < o.num {
			return -1
		}
		return 1
	}
	if s.letter != o.letter {
		if s.letter < o.letter {
			return -1
		}
		return 1
	}
	return 0
}

func compareSegments(a, b []segment) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var sa, sb segment
		if i < len(a) {
			sa = a[i]
		}
		if i < len(b) {
			sb = b[i]
		}
		if c := sa.compare(sb); c != 0 {
			return c
		}
	}
	return 0
}

func parseSegment(piece string) (segment, error) {
	if piece == "" {
		return segment{}, fmt.Errorf("empty version segment")
	}
	last := piece[len(piece)-1]
	body := piece
	var letter byte
	if last < '0' || last > '9' {
		letter = last
		body = piece[:len(piece)-1]
	}
	n, err := strconv.Atoi(body)
	if err != nil {
		return segment{}, err
	}
	return segment{num: n, letter: letter}, nil
}

func parseSegments(s string) ([]segment, error) {
	parts := strings.Split(s, ".")
	out := make([]segment, len(parts))
	for i, p := range parts {
		seg, err := parseSegment(p)
		if err != nil {
			return nil, err
		}
		out[i] = seg
	}
	return out, nil
}

// Version is a parsed, comparable distro version string.
type Version struct {
	raw    string
	prefix []segment
	weight int
	tail   []segment
}

// Parse parses a version string of shape `V[_suffix]`. It returns
// *InvalidVersionError if the string does not conform.
func Parse(s string) (Version, error) {
	ver, suffix, hasSuffix := strings.Cut(s, "_")

	if !hasSuffix {
		prefix, err := parseSegments(ver)
		if err != nil {
			return Version{}, &InvalidVersionError{Input: s}
		}
		return Version{raw: s, prefix: prefix, weight: 0, tail: nil}, nil
	}

	for _, kw := range suffixWeights {
		if !strings.HasPrefix(suffix, kw.keyword) {
			continue
		}
		prefix, err := parseSegments(ver)
		if err != nil {
			return Version{}, &InvalidVersionError{Input: s}
		}
		rest := strings.TrimPrefix(suffix[len(kw.keyword):], ".")
		var tail []segment
		if rest != "" {
			tail, err = parseSegments(rest)
			if err != nil {
				return Version{}, &InvalidVersionError{Input: s}
			}
		}
		return Version{raw: s, prefix: prefix, weight: kw.weight, tail: tail}, nil
	}

	return Version{}, &InvalidVersionError{Input: s}
}

// MustParse is a convenience wrapper around Parse for use with constant
// version strings (tests, static tables). It panics on invalid input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Valid reports whether s parses without error.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the original, normalized input string.
func (v Version) String() string {
	return v.raw
}

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than
// o, comparing (prefix, suffix-weight, tail) tuples.
func (v Version) Compare(o Version) int {
	if c := compareSegments(v.prefix, o.prefix); c != 0 {
		return c
	}
	if v.weight != o.weight {
		if v.weight < o.weight {
			return -1
		}
		return 1
	}
	return compareSegments(v.tail, o.tail)
}

// Equal reports string equality of the normalized input.
func (v Version) Equal(o Version) bool { return v.raw == o.raw }

func (v Version) Less(o Version) bool         { return v.Compare(o) < 0 }
func (v Version) LessOrEqual(o Version) bool  { return v.Compare(o) <= 0 }
func (v Version) Greater(o Version) bool      { return v.Compare(o) > 0 }
func (v Version) GreaterOrEqual(o Version) bool { return v.Compare(o) >= 0 }
