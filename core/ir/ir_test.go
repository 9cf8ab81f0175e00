package ir

import (
	"testing"

	"github.com/opal-lang/shellcore/core/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderInternAndStringAt(t *testing.T) {
	b := NewBuilder(4)
	ref := b.InternString("hello")
	block := b.Build()

	s, err := block.StringAt(ref)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestBlockStringAtOutOfBoundsIsCompilerBug(t *testing.T) {
	block := &Block{Data: []byte("abc")}
	_, err := block.StringAt(DataRef{Offset: 0, Length: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IR_INTEGRITY")
}

func TestBlockStringAtInvalidUTF8(t *testing.T) {
	block := &Block{Data: []byte{0xff, 0xfe}}
	_, err := block.StringAt(DataRef{Offset: 0, Length: 2})
	require.Error(t, err)
}

func TestBuilderEmitAndPatchTarget(t *testing.T) {
	b := NewBuilder(2)
	jumpPC := b.Emit(Instruction{Op: OpJump}, value.Span{})
	b.Emit(Instruction{Op: OpReturn, Src: 0}, value.Span{})
	target := b.Len()
	b.PatchTarget(jumpPC, target)

	block := b.Build()
	assert.Equal(t, target, block.Instructions[jumpPC].Target)
	assert.True(t, block.Valid(jumpPC))
	assert.False(t, block.Valid(target+1))
}

func TestLiteralAtOutOfBounds(t *testing.T) {
	block := &Block{}
	_, err := block.LiteralAt(0)
	require.Error(t, err)
}
