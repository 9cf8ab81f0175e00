package ir

import "github.com/opal-lang/shellcore/core/value"

// Builder assembles a Block incrementally. It exists for tests and for
// embedding a tiny in-process compiler (e.g. the example plugin harness);
// the real compiler that produces Blocks for the shell language proper is
// out of scope for this module.
type Builder struct {
	block Block
}

// NewBuilder starts a Block with the given register count.
func NewBuilder(registerCount uint32) *Builder {
	return &Builder{block: Block{RegisterCount: registerCount}}
}

// Intern appends data to the blob and returns a DataRef to it.
func (b *Builder) Intern(data []byte) DataRef {
	ref := DataRef{Offset: uint32(len(b.block.Data)), Length: uint32(len(data))}
	b.block.Data = append(b.block.Data, data...)
	return ref
}

// InternString is a convenience wrapper around Intern for string literals.
func (b *Builder) InternString(s string) DataRef {
	return b.Intern([]byte(s))
}

// AddLiteral appends lit to the literal table and returns its index.
func (b *Builder) AddLiteral(lit Literal) uint32 {
	b.block.Literals = append(b.block.Literals, lit)
	return uint32(len(b.block.Literals) - 1)
}

// Emit appends instr at the given span and returns its pc (useful for
// patching forward jump targets once the destination pc is known).
func (b *Builder) Emit(instr Instruction, span value.Span) int {
	pc := len(b.block.Instructions)
	b.block.Instructions = append(b.block.Instructions, instr)
	b.block.Spans = append(b.block.Spans, span)
	return pc
}

// PatchTarget rewrites the Target field of a previously emitted
// Jump/BranchIf/Iterate instruction, for forward-reference patching.
func (b *Builder) PatchTarget(pc int, target int) {
	b.block.Instructions[pc].Target = target
}

// Len returns the number of instructions emitted so far (the pc the next
// Emit call will receive).
func (b *Builder) Len() int {
	return len(b.block.Instructions)
}

// Build returns the assembled Block.
func (b *Builder) Build() *Block {
	return &b.block
}
