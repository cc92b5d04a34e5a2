package message

import (
	"fmt"

	"github.com/ValentinKolb/dFrag/lib/schema"
)

// VisitFunc receives a value addressed by a path and returns its replacement.
type VisitFunc func(n Node) (Node, error)

// Apply calls fn for every value addressed by p inside root and stores the
// returned node in its place. Absent fields and out-of-range indices are
// skipped. Objects and lists are modified in place, so callers that need to
// keep the input should pass a Clone.
func Apply(root Node, p schema.Path, fn VisitFunc) error {
	_, err := apply(root, p.Segments, fn)
	if err != nil {
		return fmt.Errorf("path %q: %w", p, err)
	}
	return nil
}

func apply(n Node, segs []schema.Segment, fn VisitFunc) (Node, error) {
	if len(segs) == 0 {
		return fn(n)
	}

	seg := segs[0]
	obj, ok := n.(Object)
	if !ok {
		return nil, fmt.Errorf("expected object at %q, got %T", seg.Field, n)
	}
	child, ok := obj[seg.Field]
	if !ok || child == nil {
		return n, nil
	}

	replaced, err := applyElems(child, seg.Elems, segs[1:], fn)
	if err != nil {
		return nil, err
	}
	obj[seg.Field] = replaced
	return obj, nil
}

func applyElems(n Node, elems []schema.Elem, rest []schema.Segment, fn VisitFunc) (Node, error) {
	if len(elems) == 0 {
		return apply(n, rest, fn)
	}

	list, ok := n.(List)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", n)
	}

	e := elems[0]
	if e.Each {
		for i := range list {
			replaced, err := applyElems(list[i], elems[1:], rest, fn)
			if err != nil {
				return nil, err
			}
			list[i] = replaced
		}
		return list, nil
	}

	if e.Index >= len(list) {
		return list, nil
	}
	replaced, err := applyElems(list[e.Index], elems[1:], rest, fn)
	if err != nil {
		return nil, err
	}
	list[e.Index] = replaced
	return list, nil
}

// EachScalar returns a VisitFunc that applies fn to n if it is a scalar or
// to every scalar of n if it is a (nested) list.
func EachScalar(fn func(Scalar) (Scalar, error)) VisitFunc {
	var visit VisitFunc
	visit = func(n Node) (Node, error) {
		switch v := n.(type) {
		case Scalar:
			s, err := fn(v)
			if err != nil {
				return nil, err
			}
			return s, nil
		case List:
			for i := range v {
				replaced, err := visit(v[i])
				if err != nil {
					return nil, err
				}
				v[i] = replaced
			}
			return v, nil
		default:
			return nil, fmt.Errorf("expected scalar, got %T", n)
		}
	}
	return visit
}
