package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dFrag/lib/common"
)

// --------------------------------------------------------------------------
// Paths
// --------------------------------------------------------------------------

// Elem selects elements of an array: every element (Each) or a single one.
type Elem struct {
	Each  bool
	Index int
}

// Segment names a record field followed by zero or more array selectors.
type Segment struct {
	Field string
	Elems []Elem
}

// Path addresses values inside a message. Supported forms:
//
//	name               field of the root record
//	items[].note       note of every element of items
//	items[2].note      note of the third element
//	items.*.note       same as items[].note
//	items.2.note       same as items[2].note
type Path struct {
	raw      string
	Segments []Segment
}

// String returns the path as it was written.
func (p Path) String() string {
	return p.raw
}

// ParsePath parses a field path.
func ParsePath(s string) (Path, error) {
	p := Path{raw: s}
	if strings.TrimSpace(s) == "" {
		return p, fmt.Errorf("schema: empty path")
	}

	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return p, fmt.Errorf("schema: empty segment in path %q", s)
		}

		// ".*" and ".N" select elements of the previous segment
		if elem, ok := parseDotElem(part); ok {
			if len(p.Segments) == 0 {
				return p, fmt.Errorf("schema: path %q starts with an array selector", s)
			}
			last := &p.Segments[len(p.Segments)-1]
			last.Elems = append(last.Elems, elem)
			continue
		}

		name, rest, _ := strings.Cut(part, "[")
		if name == "" {
			return p, fmt.Errorf("schema: missing field name in path %q", s)
		}
		seg := Segment{Field: name}
		if rest != "" {
			elems, err := parseBrackets("[" + rest)
			if err != nil {
				return p, fmt.Errorf("schema: path %q: %w", s, err)
			}
			seg.Elems = elems
		}
		p.Segments = append(p.Segments, seg)
	}
	return p, nil
}

// ParsePaths parses a list of paths.
func ParsePaths(list []string) ([]Path, error) {
	paths := make([]Path, 0, len(list))
	for _, s := range list {
		p, err := ParsePath(s)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func parseDotElem(part string) (Elem, bool) {
	if part == "*" {
		return Elem{Each: true}, true
	}
	if i, err := strconv.Atoi(part); err == nil && i >= 0 {
		return Elem{Index: i}, true
	}
	return Elem{}, false
}

func parseBrackets(s string) ([]Elem, error) {
	var elems []Elem
	for s != "" {
		if s[0] != '[' {
			return nil, fmt.Errorf("unexpected %q", s)
		}
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, fmt.Errorf("unterminated selector")
		}
		sel := s[1:end]
		switch sel {
		case "", "*":
			elems = append(elems, Elem{Each: true})
		default:
			i, err := strconv.Atoi(sel)
			if err != nil || i < 0 {
				return nil, fmt.Errorf("invalid array index %q", sel)
			}
			elems = append(elems, Elem{Index: i})
		}
		s = s[end+1:]
	}
	return elems, nil
}

// --------------------------------------------------------------------------
// Resolution
// --------------------------------------------------------------------------

// Resolve returns the type addressed by p inside root.
// A path that does not exist fails with common.ErrSchemaFieldNotFound.
func Resolve(root *Type, p Path) (*Type, error) {
	cur := root
	for _, seg := range p.Segments {
		if cur.Kind != KindRecord {
			return nil, common.NewError(common.CodeSchemaFieldNotFound,
				"path %q: %q is not inside a record", p, seg.Field)
		}
		f := cur.Field(seg.Field)
		if f == nil {
			return nil, common.NewError(common.CodeSchemaFieldNotFound,
				"path %q: field %q does not exist", p, seg.Field)
		}
		cur = f.Type
		for range seg.Elems {
			if cur.Kind != KindArray {
				return nil, common.NewError(common.CodeSchemaFieldNotFound,
					"path %q: field %q is not an array", p, seg.Field)
			}
			cur = cur.Items
		}
	}
	return cur, nil
}

// leaf descends through array wrappers to the innermost element type.
func leaf(t *Type) *Type {
	for t.Kind == KindArray {
		t = t.Items
	}
	return t
}
