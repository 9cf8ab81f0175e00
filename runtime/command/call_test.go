package command

import (
	"testing"

	"github.com/opal-lang/shellcore/core/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentFrameBalance(t *testing.T) {
	stack := &ArgumentStack{}
	base := stack.PushFrame()
	stack.Push(Argument{Kind: ArgPositional, Val: value.Int(1, value.Span{})})
	stack.Push(Argument{Kind: ArgPositional, Val: value.Int(2, value.Span{})})
	assert.Equal(t, 2, stack.Len())

	stack.LeaveFrame(base)
	assert.Equal(t, base, stack.Len())
}

func TestNestedFramesIsolated(t *testing.T) {
	stack := &ArgumentStack{}
	outerBase := stack.PushFrame()
	stack.Push(Argument{Kind: ArgPositional, Val: value.Int(1, value.Span{})})

	innerBase := stack.PushFrame()
	stack.Push(Argument{Kind: ArgPositional, Val: value.Int(2, value.Span{})})
	stack.Push(Argument{Kind: ArgPositional, Val: value.Int(3, value.Span{})})

	inner := NewCall(0, value.Span{}, stack, innerBase, stack.Len()-innerBase)
	assert.Len(t, inner.Positionals(), 2)

	stack.LeaveFrame(innerBase)
	assert.Equal(t, innerBase, stack.Len())

	outer := NewCall(0, value.Span{}, stack, outerBase, stack.Len()-outerBase)
	assert.Len(t, outer.Positionals(), 1)

	stack.LeaveFrame(outerBase)
	assert.Equal(t, outerBase, stack.Len())
}

func TestRequiredPositionalMissing(t *testing.T) {
	stack := &ArgumentStack{}
	base := stack.PushFrame()
	call := NewCall(0, value.Span{}, stack, base, 0)

	_, err := call.RequiredPositional(0, TypeInt, "count")
	require.Error(t, err)
}

func TestRequiredPositionalTypeMismatch(t *testing.T) {
	stack := &ArgumentStack{}
	base := stack.PushFrame()
	stack.Push(Argument{Kind: ArgPositional, Val: value.String("nope", value.Span{})})
	call := NewCall(0, value.Span{}, stack, base, stack.Len()-base)

	_, err := call.RequiredPositional(0, TypeInt, "count")
	require.Error(t, err)
}

func TestSpreadExpandsIntoPositionals(t *testing.T) {
	stack := &ArgumentStack{}
	base := stack.PushFrame()
	stack.Push(Argument{Kind: ArgPositional, Val: value.Int(1, value.Span{})})
	stack.Push(Argument{Kind: ArgSpread, Vals: []value.Value{value.Int(2, value.Span{}), value.Int(3, value.Span{})}})
	call := NewCall(0, value.Span{}, stack, base, stack.Len()-base)

	assert.Len(t, call.Positionals(), 3)
}

func TestNamedAndFlagLookup(t *testing.T) {
	stack := &ArgumentStack{}
	base := stack.PushFrame()
	stack.Push(Argument{Kind: ArgFlag, Name: "verbose"})
	stack.Push(Argument{Kind: ArgNamed, Name: "count", Val: value.Int(5, value.Span{})})
	call := NewCall(0, value.Span{}, stack, base, stack.Len()-base)

	assert.True(t, call.HasFlag("verbose"))
	assert.False(t, call.HasFlag("quiet"))

	v, ok, err := call.Named("count", TypeInt)
	require.NoError(t, err)
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(5), i)

	_, ok, err = call.Named("missing", TypeInt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCallSpanUnionsArguments(t *testing.T) {
	stack := &ArgumentStack{}
	base := stack.PushFrame()
	stack.Push(Argument{Kind: ArgPositional, Val: value.Int(1, value.Span{Start: 10, End: 12}), Span: value.Span{Start: 10, End: 12}})
	call := NewCall(0, value.Span{Start: 0, End: 5}, stack, base, stack.Len()-base)

	assert.Equal(t, 0, call.Span.Start)
	assert.Equal(t, 12, call.Span.End)
}

func TestRecordSchemaValidation(t *testing.T) {
	schema, err := CompileRecordSchema("opts.json", []byte(`{
		"type": "object",
		"properties": { "retries": { "type": "integer" } },
		"required": ["retries"]
	}`))
	require.NoError(t, err)
	flag := Flag{Long: "opts", Shape: TypeRecord, RecordSchema: schema}

	rec := value.NewRecord()
	rec.Insert("retries", value.Int(3, value.Span{}))
	ok := value.RecordValue(rec, value.Span{})
	assert.NoError(t, flag.ValidateRecord(ok, value.Span{}))

	bad := value.RecordValue(value.NewRecord(), value.Span{})
	assert.Error(t, flag.ValidateRecord(bad, value.Span{}))
}

func TestCallValidateNamedSchemas(t *testing.T) {
	schema, err := CompileRecordSchema("opts2.json", []byte(`{
		"type": "object",
		"properties": { "retries": { "type": "integer" } },
		"required": ["retries"]
	}`))
	require.NoError(t, err)
	sig := Signature{Name: "cmd", Named: []Flag{{Long: "opts", Shape: TypeRecord, RecordSchema: schema}}}

	stack := &ArgumentStack{}
	base := stack.PushFrame()
	rec := value.NewRecord()
	rec.Insert("retries", value.Int(3, value.Span{}))
	stack.Push(Argument{Kind: ArgNamed, Name: "opts", Val: value.RecordValue(rec, value.Span{})})
	call := NewCall(0, value.Span{}, stack, base, stack.Len()-base)
	assert.NoError(t, call.ValidateNamedSchemas(sig))
	stack.LeaveFrame(base)

	base2 := stack.PushFrame()
	stack.Push(Argument{Kind: ArgNamed, Name: "opts", Val: value.RecordValue(value.NewRecord(), value.Span{})})
	call2 := NewCall(0, value.Span{}, stack, base2, stack.Len()-base2)
	assert.Error(t, call2.ValidateNamedSchemas(sig))
}
