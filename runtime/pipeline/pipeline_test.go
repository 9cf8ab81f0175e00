package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opal-lang/shellcore/core/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(vals ...int64) []value.Value {
	out := make([]value.Value, len(vals))
	for i, v := range vals {
		out[i] = value.Int(v, value.Span{})
	}
	return out
}

// valueDebugComparer diffs two Values by their Debug() rendering, since
// Value's payload fields are unexported and cmp otherwise refuses to cross
// that boundary.
var valueDebugComparer = cmp.Comparer(func(a, b value.Value) bool {
	return a.Debug() == b.Debug()
})

func TestMapFlatMapStructuralDiffAgainstExpectedCollection(t *testing.T) {
	p := FromListStream(NewListStreamFromSlice(ints(1, 2, 3)))
	mapped, err := p.Map(func(v value.Value) (value.Value, error) {
		i, _ := v.AsInt()
		return value.Int(i*10, value.Span{}), nil
	}, value.Span{})
	require.NoError(t, err)

	v, err := mapped.IntoValue(value.Span{})
	require.NoError(t, err)
	got, err := v.AsList()
	require.NoError(t, err)

	want := ints(10, 20, 30)
	if diff := cmp.Diff(want, got, valueDebugComparer); diff != "" {
		t.Errorf("collected list mismatch (-want +got):\n%s", diff)
	}
}

func TestIntoValueCollectsListStream(t *testing.T) {
	p := FromListStream(NewListStreamFromSlice(ints(1, 2, 3)))
	v, err := p.IntoValue(value.Span{})
	require.NoError(t, err)
	items, err := v.AsList()
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestMapIsLazy(t *testing.T) {
	calls := 0
	p := FromListStream(NewListStreamFromSlice(ints(1, 2, 3, 4, 5)))
	mapped, err := p.Map(func(v value.Value) (value.Value, error) {
		calls++
		i, _ := v.AsInt()
		return value.Int(i*2, value.Span{}), nil
	}, value.Span{})
	require.NoError(t, err)

	ls, _ := mapped.ListStream()
	first, ok, err := ls.Next()
	require.NoError(t, err)
	require.True(t, ok)
	i, _ := first.AsInt()
	assert.Equal(t, int64(2), i)
	assert.Equal(t, 1, calls, "map must not evaluate items beyond the one pulled")
}

func TestFilterSkipsNonMatching(t *testing.T) {
	p := FromListStream(NewListStreamFromSlice(ints(1, 2, 3, 4)))
	filtered, err := p.Filter(func(v value.Value) (bool, error) {
		i, _ := v.AsInt()
		return i%2 == 0, nil
	}, value.Span{})
	require.NoError(t, err)

	ls, _ := filtered.ListStream()
	items, err := ls.Collect()
	require.NoError(t, err)
	require.Len(t, items, 2)
	a, _ := items[0].AsInt()
	b, _ := items[1].AsInt()
	assert.Equal(t, int64(2), a)
	assert.Equal(t, int64(4), b)
}

func TestMetadataSurvivesTransforms(t *testing.T) {
	p := FromValue(value.List(ints(1), value.Span{})).SetMetadata(&Metadata{Source: "ls"})
	mapped, err := p.Map(func(v value.Value) (value.Value, error) { return v, nil }, value.Span{})
	require.NoError(t, err)
	require.NotNil(t, mapped.Metadata())
	assert.Equal(t, "ls", mapped.Metadata().Source)
}

func TestTryExpandRangeRejectsUnbounded(t *testing.T) {
	rg := value.Range{Start: 0, Step: 1, HasEnd: false}
	p := FromValue(value.RangeValue(rg, value.Span{}))
	_, err := p.TryExpandRange(value.Span{})
	require.Error(t, err)
}

func TestTryExpandRangeBounded(t *testing.T) {
	rg := value.Range{Start: 0, Step: 1, End: 3, HasEnd: true, Inclusive: false}
	p := FromValue(value.RangeValue(rg, value.Span{}))
	expanded, err := p.TryExpandRange(value.Span{})
	require.NoError(t, err)
	v, ok := expanded.Value()
	require.True(t, ok)
	items, err := v.AsList()
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestIntoIterStrictRejectsEmpty(t *testing.T) {
	_, err := Empty().IntoIterStrict(value.Span{})
	require.Error(t, err)
}

func TestIntoIterStrictUnwrapsErrorValue(t *testing.T) {
	inner := errors.New("boom")
	p := FromValue(value.ErrorValue(inner, value.Span{}))
	_, err := p.IntoIterStrict(value.Span{})
	require.Error(t, err)
	assert.Equal(t, inner, err)
}

func TestCancelFlagStopsIteration(t *testing.T) {
	cancel := &CancelFlag{}
	ls := NewListStreamFromSlice(ints(1, 2, 3)).WithCancel(cancel)

	v, ok, err := ls.Next()
	require.NoError(t, err)
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(1), i)

	cancel.Set()
	_, ok, err = ls.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlatMapFlattens(t *testing.T) {
	p := FromListStream(NewListStreamFromSlice(ints(1, 2)))
	out, err := p.FlatMap(func(v value.Value) ([]value.Value, error) {
		i, _ := v.AsInt()
		return ints(i, i), nil
	}, value.Span{})
	require.NoError(t, err)
	ls, _ := out.ListStream()
	items, err := ls.Collect()
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestIsExternalFailedNonExternalIsFalse(t *testing.T) {
	failed, err := FromValue(value.Int(1, value.Span{})).IsExternalFailed()
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestExternalStreamIntoValueClassifiesBinary(t *testing.T) {
	stdout := NewByteStream(chunksOnce([]byte{0xff, 0xfe, 0x00}))
	stderr := NewByteStream(chunksOnce(nil))
	ext := &ExternalStream{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: NewExitCodeFuture(func() (int, error) { return 0, nil }),
	}
	v, err := ext.IntoValue(value.Span{})
	require.NoError(t, err)
	assert.Equal(t, value.KindBinary, v.Kind)
}

func TestExternalStreamIntoValueTrimsNewline(t *testing.T) {
	stdout := NewByteStream(chunksOnce([]byte("hello\n")))
	ext := &ExternalStream{
		Stdout:         stdout,
		ExitCode:       NewExitCodeFuture(func() (int, error) { return 0, nil }),
		TrimEndNewline: true,
	}
	v, err := ext.IntoValue(value.Span{})
	require.NoError(t, err)
	s, err := v.AsString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestIsExternalFailedReflectsExitCodeWhenStdoutUnredirected(t *testing.T) {
	ext := &ExternalStream{ExitCode: NewExitCodeFuture(func() (int, error) { return 1, nil })}
	p := FromExternalStream(ext)
	failed, err := p.IsExternalFailed()
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestIsExternalFailedIgnoresRedirectedStdout(t *testing.T) {
	ext := &ExternalStream{
		Stdout:   NewByteStream(chunksOnce(nil)),
		ExitCode: NewExitCodeFuture(func() (int, error) { return 1, nil }),
	}
	p := FromExternalStream(ext)
	failed, err := p.IsExternalFailed()
	require.NoError(t, err)
	assert.False(t, failed, "a redirected stdout means this isn't the end of the sequence yet")
}

func chunksOnce(b []byte) byteChunkFunc {
	sent := false
	return func() ([]byte, bool, error) {
		if sent || len(b) == 0 {
			return nil, false, nil
		}
		sent = true
		return b, true, nil
	}
}
