package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordInsertOverwritesPreservingPosition(t *testing.T) {
	r := NewRecord()
	r.Insert("a", Int(1, Span{}))
	r.Insert("b", Int(2, Span{}))
	r.Insert("a", Int(99, Span{}))

	require.Equal(t, []string{"a", "b"}, r.Keys())
	v, ok := r.Get("a")
	require.True(t, ok)
	got, _ := v.AsInt()
	assert.Equal(t, int64(99), got)
}

func TestRecordCloneIsCopyOnWrite(t *testing.T) {
	r1 := NewRecord()
	r1.Insert("a", Int(1, Span{}))

	r2 := r1.Clone()
	r2.Insert("a", Int(2, Span{}))

	v1, _ := r1.Get("a")
	v2, _ := r2.Get("a")
	got1, _ := v1.AsInt()
	got2, _ := v2.AsInt()
	assert.Equal(t, int64(1), got1, "original record must be unaffected by mutation through the clone")
	assert.Equal(t, int64(2), got2)
}

func TestTypeMismatchCarriesSpan(t *testing.T) {
	v := String("hi", Span{Start: 3, End: 5})
	_, err := v.AsInt()
	require.Error(t, err)
}

func TestRangeTryExpand(t *testing.T) {
	rg := Range{Start: 0, Step: 1, End: 4, HasEnd: true, Inclusive: true}
	vals, err := rg.TryExpand(Span{})
	require.NoError(t, err)
	require.Len(t, vals, 5)
	for i, v := range vals {
		got, _ := v.AsInt()
		assert.Equal(t, int64(i), got)
	}
}

func TestRangeTryExpandUnboundedErrors(t *testing.T) {
	rg := Range{Start: 0, Step: 1}
	_, err := rg.TryExpand(Span{})
	assert.Error(t, err)
}

func TestRangeTryExpandExclusive(t *testing.T) {
	rg := Range{Start: 0, Step: 1, End: 4, HasEnd: true, Inclusive: false}
	vals, err := rg.TryExpand(Span{})
	require.NoError(t, err)
	assert.Len(t, vals, 4)
}

func TestCustomValueRoundTripsThroughValue(t *testing.T) {
	cv := CustomValue{PluginName: "inc", Data: []byte("payload")}
	v := CustomValueValue(cv, Span{})
	assert.Equal(t, KindCustomValue, v.Kind)

	got, err := v.AsCustomValue()
	require.NoError(t, err)
	assert.Equal(t, cv, got)
}

func TestCustomValueWrongKindErrors(t *testing.T) {
	v := Int(1, Span{})
	_, err := v.AsCustomValue()
	require.Error(t, err)
}

func TestDisplayFormatsScalarsAndErrorsAndCustomValues(t *testing.T) {
	assert.Equal(t, "7", Int(7, Span{}).Display())
	assert.Equal(t, "true", Bool(true, Span{}).Display())
	assert.Equal(t, "hi", String("hi", Span{}).Display())
	assert.Contains(t, ErrorValue(assertErrValue{"boom"}, Span{}).Display(), "boom")
	assert.Contains(t, CustomValueValue(CustomValue{PluginName: "inc"}, Span{}).Display(), "inc")
}

type assertErrValue struct{ msg string }

func (e assertErrValue) Error() string { return e.msg }
