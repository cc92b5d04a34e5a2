package schema

import (
	"github.com/ValentinKolb/dFrag/lib/common"
)

// Output types of the field transforms
const (
	DateOutputKind = KindInt   // day offset from the reference date
	TextOutputKind = KindBytes // packed token ids
)

// DeriveTransformed returns a copy of original in which the declared type of
// every date field is replaced by DateOutputKind and the type of every text
// field by TextOutputKind. If a path addresses an array, the innermost
// element type is replaced.
//
// The original schema is not modified. An unknown path fails with
// common.ErrSchemaFieldNotFound. A path addressing anything other than a
// string (or an array of strings), a path listed twice and a path selecting a
// single array element (items[2].note) fail with common.ErrInvalidConfig, the
// elements of an array share one type.
func DeriveTransformed(original *Type, dateFields, textFields []Path) (*Type, error) {
	out := original.Clone()
	seen := make(map[string]string)

	swap := func(p Path, to Kind, list string) error {
		if prev, ok := seen[p.String()]; ok {
			return common.NewError(common.CodeInvalidConfig, "path %q listed as %s and %s field", p, prev, list)
		}
		seen[p.String()] = list

		for _, seg := range p.Segments {
			for _, e := range seg.Elems {
				if !e.Each {
					return common.NewError(common.CodeInvalidConfig,
						"%s field %q selects array element %d, use %s[] to transform every element", list, p, e.Index, seg.Field)
				}
			}
		}

		t, err := Resolve(out, p)
		if err != nil {
			return err
		}
		t = leaf(t)
		if t.Kind != KindString {
			return common.NewError(common.CodeInvalidConfig,
				"%s field %q must be declared as string, got %s", list, p, t.Kind)
		}
		t.Kind = to
		return nil
	}

	for _, p := range dateFields {
		if err := swap(p, DateOutputKind, "date"); err != nil {
			return nil, err
		}
	}
	for _, p := range textFields {
		if err := swap(p, TextOutputKind, "text"); err != nil {
			return nil, err
		}
	}
	return out, nil
}
