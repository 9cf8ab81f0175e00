package value

import (
	"math"

	shellerr "github.com/opal-lang/shellcore/core/errors"
)

// Range is an integer range start..end (or start..<end), stepping by Step,
// with an optionally absent End meaning unbounded. Nushell's i64::MIN and
// i64::MAX sentinels for an explicit-but-unbounded end are represented the
// same way here: HasEnd true with End == math.MaxInt64/math.MinInt64 is
// still treated as infinite by TryExpand.
type Range struct {
	Start     int64
	Step      int64
	End       int64
	HasEnd    bool
	Inclusive bool
}

// IsUnbounded reports whether the range has no usable end: either no end
// was given, or the end is one of the integer sentinel values used to spell
// "unbounded" in source.
func (rg Range) IsUnbounded() bool {
	if !rg.HasEnd {
		return true
	}
	return rg.End == math.MaxInt64 || rg.End == math.MinInt64
}

// Len computes the number of elements a bounded range would expand to, or
// -1 if the range is unbounded or has a non-advancing step.
func (rg Range) Len() int64 {
	if rg.IsUnbounded() || rg.Step == 0 {
		return -1
	}
	if rg.Step > 0 {
		if rg.End < rg.Start {
			return 0
		}
		span := rg.End - rg.Start
		n := span/rg.Step + 1
		if !rg.Inclusive && span%rg.Step == 0 {
			n--
		}
		return n
	}
	if rg.Start < rg.End {
		return 0
	}
	span := rg.Start - rg.End
	step := -rg.Step
	n := span/step + 1
	if !rg.Inclusive && span%step == 0 {
		n--
	}
	return n
}

// TryExpand materializes a Range into a list of Int values. It errors on
// infinite/unbounded ranges per the specification's try_expand_range
// contract, before any collection is attempted.
func (rg Range) TryExpand(span Span) ([]Value, error) {
	if rg.IsUnbounded() {
		return nil, shellerr.NewSpanned(shellerr.KindGeneric,
			"cannot expand an unbounded range into a list",
			shellerr.Span{Start: span.Start, End: span.End}).
			WithHelp("bound the range with an explicit end, e.g. 0..10")
	}
	n := rg.Len()
	if n < 0 {
		return nil, shellerr.NewSpanned(shellerr.KindGeneric,
			"range has a non-advancing step and cannot be expanded",
			shellerr.Span{Start: span.Start, End: span.End})
	}
	out := make([]Value, 0, n)
	cur := rg.Start
	for i := int64(0); i < n; i++ {
		out = append(out, Int(cur, span))
		cur += rg.Step
	}
	return out, nil
}
