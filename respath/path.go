// Package respath models positions inside a response tree.
//
// A Path is an ordered list of segments, each either a field (response name)
// or a list index. Paths are values: every method returns a new Path and never
// modifies the receiver, so a Path can be shared between goroutines.
//
// Patterns are paths that may contain the Any segment, which matches any list
// index. Plans use patterns to address "every author of every review" without
// knowing list lengths in advance.
package respath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Kind tells segments apart.
type Kind uint8

const (
	KindField Kind = iota
	KindIndex
	KindAny
)

// AnyToken is the textual form of the Any segment in patterns.
const AnyToken = "*"

// Segment is one step of a Path.
type Segment struct {
	Kind  Kind
	Name  string
	Index int
}

// Field returns a field segment.
func Field(name string) Segment {
	return Segment{Kind: KindField, Name: name}
}

// Index returns a list index segment.
func Index(i int) Segment {
	return Segment{Kind: KindIndex, Index: i}
}

// Any returns the wildcard segment used in patterns.
func Any() Segment {
	return Segment{Kind: KindAny}
}

func (s Segment) IsField() bool { return s.Kind == KindField }
func (s Segment) IsIndex() bool { return s.Kind == KindIndex }
func (s Segment) IsAny() bool   { return s.Kind == KindAny }

func (s Segment) String() string {
	switch s.Kind {
	case KindIndex:
		return strconv.Itoa(s.Index)
	case KindAny:
		return AnyToken
	default:
		return s.Name
	}
}

// Interface returns the JSON representation of the segment: a string for
// fields and wildcards, an int for indexes.
func (s Segment) Interface() interface{} {
	if s.Kind == KindIndex {
		return s.Index
	}
	return s.String()
}

// matches reports whether s (a pattern segment) accepts other.
func (s Segment) matches(other Segment) bool {
	if s.Kind == KindAny {
		return other.Kind == KindIndex || other.Kind == KindAny
	}
	return s == other
}

// Path is an immutable sequence of segments. The empty path is the root.
type Path []Segment

// Root is the empty path.
var Root = Path{}

// New builds a path from strings and ints. The string "*" becomes Any.
func New(segments ...interface{}) Path {
	p, err := FromInterfaces(segments)
	if err != nil {
		panic(err)
	}
	return p
}

// FromInterfaces converts a JSON style path, as found in GraphQL errors, into a Path.
func FromInterfaces(segments []interface{}) (Path, error) {
	p := make(Path, 0, len(segments))
	for _, raw := range segments {
		switch v := raw.(type) {
		case string:
			if v == AnyToken {
				p = append(p, Any())
				continue
			}
			p = append(p, Field(v))
		case int:
			p = append(p, Index(v))
		case int64:
			p = append(p, Index(int(v)))
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("path index %v is not an integer", v)
			}
			p = append(p, Index(int(v)))
		case json.Number:
			i, err := strconv.Atoi(string(v))
			if err != nil {
				return nil, fmt.Errorf("path index %q is not an integer", v)
			}
			p = append(p, Index(i))
		case Segment:
			p = append(p, v)
		default:
			return nil, fmt.Errorf("unsupported path segment %T", raw)
		}
	}
	return p, nil
}

// Parse reads the dotted form produced by String, f.e. "reviews.1.author" or "reviews.*.author".
func Parse(s string) (Path, error) {
	if s == "" {
		return Root, nil
	}
	parts := strings.Split(s, ".")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", s)
		}
		if part == AnyToken {
			p = append(p, Any())
			continue
		}
		if i, err := strconv.Atoi(part); err == nil {
			if i < 0 {
				return nil, errors.New("negative index in path " + s)
			}
			p = append(p, Index(i))
			continue
		}
		p = append(p, Field(part))
	}
	return p, nil
}

// Append returns a new path with segs added.
func (p Path) Append(segs ...Segment) Path {
	res := make(Path, len(p), len(p)+len(segs))
	copy(res, p)
	return append(res, segs...)
}

// Field returns p extended with a field segment.
func (p Path) Field(name string) Path {
	return p.Append(Field(name))
}

// Index returns p extended with an index segment.
func (p Path) Index(i int) Path {
	return p.Append(Index(i))
}

// Join returns p followed by other.
func (p Path) Join(other Path) Path {
	return p.Append(other...)
}

// IsRoot reports whether p addresses the root of the tree.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Parent returns the path without its last segment. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Root
	}
	return p[:len(p)-1:len(p)-1]
}

// Last returns the final segment and false for the root.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// HasPrefix reports whether prefix is an ancestor of p or p itself.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, s := range prefix {
		if p[i] != s {
			return false
		}
	}
	return true
}

// TrimPrefix removes prefix from p. It returns false when prefix is not a prefix of p.
func (p Path) TrimPrefix(prefix Path) (Path, bool) {
	if !p.HasPrefix(prefix) {
		return nil, false
	}
	return p[len(prefix):].Append(), true
}

// Equal reports segment-wise equality.
func (p Path) Equal(other Path) bool {
	return len(p) == len(other) && p.HasPrefix(other)
}

// Pattern replaces every index with Any.
func (p Path) Pattern() Path {
	return lo.Map(p, func(s Segment, _ int) Segment {
		if s.Kind == KindIndex {
			return Any()
		}
		return s
	})
}

// Fields keeps only the field segments, which is the shape a selection set has.
func (p Path) Fields() []string {
	return lo.FilterMap(p, func(s Segment, _ int) (string, bool) {
		return s.Name, s.Kind == KindField
	})
}

// Matches reports whether p is accepted by the pattern.
func (p Path) Matches(pattern Path) bool {
	if len(p) != len(pattern) {
		return false
	}
	for i, s := range pattern {
		if !s.matches(p[i]) {
			return false
		}
	}
	return true
}

// HasPrefixMatch is HasPrefix for patterns: Any on either side matches any index.
func (p Path) HasPrefixMatch(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, s := range prefix {
		if !s.matches(p[i]) && !p[i].matches(s) {
			return false
		}
	}
	return true
}

// IsPattern reports whether p contains wildcards.
func (p Path) IsPattern() bool {
	return lo.ContainsBy(p, func(s Segment) bool { return s.Kind == KindAny })
}

// Compare orders paths depth first: an ancestor comes before its descendants,
// indexes compare numerically and field names lexically.
func Compare(a, b Path) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareSegment(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareSegment(a, b Segment) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindIndex:
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	case KindField:
		return strings.Compare(a.Name, b.Name)
	}
	return 0
}

// String returns the dotted representation, f.e. "reviews.1.author".
func (p Path) String() string {
	return strings.Join(lo.Map(p, func(s Segment, _ int) string { return s.String() }), ".")
}

// Interfaces returns the JSON representation used in GraphQL error paths.
func (p Path) Interfaces() []interface{} {
	if len(p) == 0 {
		return nil
	}
	return lo.Map(p, func(s Segment, _ int) interface{} { return s.Interface() })
}

func (p Path) MarshalJSON() ([]byte, error) {
	res := p.Interfaces()
	if res == nil {
		res = []interface{}{}
	}
	return json.Marshal(res)
}

func (p *Path) UnmarshalJSON(b []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	res, err := FromInterfaces(raw)
	if err != nil {
		return err
	}
	*p = res
	return nil
}
