package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recOf(pairs ...interface{}) Record {
	r := NewRecord()
	for i := 0; i < len(pairs); i += 2 {
		r.Insert(pairs[i].(string), pairs[i+1].(Value))
	}
	return r
}

func TestCellPathUpsertNested(t *testing.T) {
	inner := recOf("b", Int(1, Span{}))
	outer := RecordValue(recOf("a", RecordValue(inner, Span{})), Span{})

	path := CellPath{Members: []PathMember{
		{Kind: PathMemberString, Name: "a"},
		{Kind: PathMemberString, Name: "b"},
	}}

	updated, err := Upsert(outer, path, Int(2, Span{}))
	require.NoError(t, err)

	a, err := Follow(updated, CellPath{Members: []PathMember{{Kind: PathMemberString, Name: "a"}}})
	require.NoError(t, err)
	b, err := Follow(a, CellPath{Members: []PathMember{{Kind: PathMemberString, Name: "b"}}})
	require.NoError(t, err)
	got, _ := b.AsInt()
	assert.Equal(t, int64(2), got)

	// original outer record must be untouched (COW)
	origA, _ := outer.AsRecord()
	origAVal, _ := origA.Get("a")
	origInner, _ := origAVal.AsRecord()
	origB, _ := origInner.Get("b")
	origGot, _ := origB.AsInt()
	assert.Equal(t, int64(1), origGot)
}

func TestCellPathFollowListIndex(t *testing.T) {
	list := List([]Value{Int(10, Span{}), Int(20, Span{}), Int(30, Span{})}, Span{})
	got, err := Follow(list, CellPath{Members: []PathMember{{Kind: PathMemberInt, Index: 1}}})
	require.NoError(t, err)
	i, _ := got.AsInt()
	assert.Equal(t, int64(20), i)
}

func TestCellPathFollowOptionalMissing(t *testing.T) {
	rec := RecordValue(recOf("a", Int(1, Span{})), Span{})
	got, err := Follow(rec, CellPath{Members: []PathMember{{Kind: PathMemberString, Name: "missing", Optional: true}}})
	require.NoError(t, err)
	assert.Equal(t, KindNothing, got.Kind)
}

func TestCellPathFollowIncompatible(t *testing.T) {
	_, err := Follow(Int(1, Span{}), CellPath{Members: []PathMember{{Kind: PathMemberString, Name: "a"}}})
	assert.Error(t, err)
}

func TestCellPathUpsertCreatesIntermediateRecord(t *testing.T) {
	empty := Nothing(Span{})
	path := CellPath{Members: []PathMember{{Kind: PathMemberString, Name: "a"}, {Kind: PathMemberString, Name: "b"}}}
	got, err := Upsert(empty, path, Int(5, Span{}))
	require.NoError(t, err)
	require.Equal(t, KindRecord, got.Kind)
}
