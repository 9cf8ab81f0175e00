package value

import (
	"fmt"

	shellerr "github.com/opal-lang/shellcore/core/errors"
)

// PathMemberKind tags whether a PathMember indexes by string key (into a
// Record) or by integer position (into a List).
type PathMemberKind uint8

const (
	PathMemberString PathMemberKind = iota
	PathMemberInt
)

// PathMember is one step of a CellPath: a record field name or a list
// index. Optional marks a `?` suffix that turns a missing member into
// Nothing instead of an error.
type PathMember struct {
	Kind     PathMemberKind
	Name     string
	Index    int
	Optional bool
	Span     Span
}

// CellPath is a sequence of path members used to traverse a materialized
// value, e.g. `.a.b.0` navigates record field "a", then field "b", then
// list index 0.
type CellPath struct {
	Members []PathMember
}

func incompatibleErr(kind Kind, span Span) error {
	return shellerr.NewSpanned(shellerr.KindCellPathIncompatible,
		fmt.Sprintf("%s does not support cell-path access", kind),
		shellerr.Span{Start: span.Start, End: span.End})
}

// Follow navigates v according to path, consuming v (the caller's register
// should be considered moved-from afterward, matching FollowCellPath's
// contract). Missing optional members yield Nothing; missing required
// members are an error.
func Follow(v Value, path CellPath) (Value, error) {
	cur := v
	for _, m := range path.Members {
		next, err := followOne(cur, m)
		if err != nil {
			if m.Optional {
				return Nothing(v.Span), nil
			}
			return Value{}, err
		}
		cur = next
	}
	return cur, nil
}

func followOne(cur Value, m PathMember) (Value, error) {
	switch cur.Kind {
	case KindRecord:
		if m.Kind != PathMemberString {
			return Value{}, shellerr.NewSpanned(shellerr.KindTypeMismatch,
				"expected a field name, found an index", shellerr.Span{Start: m.Span.Start, End: m.Span.End})
		}
		rec, _ := cur.AsRecord()
		val, ok := rec.Get(m.Name)
		if !ok {
			return Value{}, shellerr.NewSpanned(shellerr.KindCellPathIncompatible,
				fmt.Sprintf("no field %q", m.Name), shellerr.Span{Start: m.Span.Start, End: m.Span.End})
		}
		return val, nil
	case KindList:
		if m.Kind != PathMemberInt {
			return Value{}, shellerr.NewSpanned(shellerr.KindTypeMismatch,
				"expected an index, found a field name", shellerr.Span{Start: m.Span.Start, End: m.Span.End})
		}
		items, _ := cur.AsList()
		if m.Index < 0 || m.Index >= len(items) {
			return Value{}, shellerr.NewSpanned(shellerr.KindCellPathIncompatible,
				fmt.Sprintf("index %d out of range (len %d)", m.Index, len(items)), shellerr.Span{Start: m.Span.Start, End: m.Span.End})
		}
		return items[m.Index], nil
	default:
		return Value{}, incompatibleErr(cur.Kind, cur.Span)
	}
}

// Upsert mutates or inserts at path within v, returning the updated value.
// Intermediate record fields are created on demand; intermediate list
// indices must already exist (lists are never auto-extended).
func Upsert(v Value, path CellPath, newValue Value) (Value, error) {
	if len(path.Members) == 0 {
		return newValue, nil
	}
	head := path.Members[0]
	rest := CellPath{Members: path.Members[1:]}

	switch head.Kind {
	case PathMemberString:
		var rec Record
		if v.Kind == KindRecord {
			rec, _ = v.AsRecord()
			rec = rec.Clone()
		} else if v.Kind == KindNothing {
			rec = NewRecord()
		} else {
			return Value{}, incompatibleErr(v.Kind, v.Span)
		}
		existing, ok := rec.Get(head.Name)
		if !ok {
			existing = Nothing(v.Span)
		}
		updated, err := Upsert(existing, rest, newValue)
		if err != nil {
			return Value{}, err
		}
		rec.Insert(head.Name, updated)
		return RecordValue(rec, v.Span), nil

	case PathMemberInt:
		if v.Kind != KindList {
			return Value{}, incompatibleErr(v.Kind, v.Span)
		}
		items, _ := v.AsList()
		if head.Index < 0 || head.Index >= len(items) {
			return Value{}, shellerr.NewSpanned(shellerr.KindCellPathIncompatible,
				fmt.Sprintf("index %d out of range (len %d)", head.Index, len(items)), shellerr.Span{Start: head.Span.Start, End: head.Span.End})
		}
		updated, err := Upsert(items[head.Index], rest, newValue)
		if err != nil {
			return Value{}, err
		}
		out := append([]Value(nil), items...)
		out[head.Index] = updated
		return List(out, v.Span), nil
	}

	return Value{}, fmt.Errorf("unknown path member kind %d", head.Kind)
}
