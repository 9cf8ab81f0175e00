// Package ir defines the compiled intermediate representation the
// evaluator executes: a linear instruction stream, a parallel span array,
// and a shared byte blob holding interned string and binary literals.
//
// Compiling source into an ir.Block is out of scope for this module (the
// parser/compiler is an external collaborator, per the specification); this
// package only defines the wire shape the evaluator consumes and the
// structural-integrity checks that guard it.
package ir

import (
	"unicode/utf8"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
)

// Reg identifies a register slot within a Block's register file.
type Reg uint32

// Op tags an Instruction's kind. Sizes are irrelevant at this design level;
// Op is a byte purely to keep Instruction small.
type Op uint8

const (
	OpLoadLiteral Op = iota
	OpMove
	OpClone
	OpDrop
	OpCollect

	OpLoadVariable
	OpStoreVariable
	OpLoadEnv
	OpLoadEnvOpt
	OpStoreEnv

	OpPushPositional
	OpAppendRest
	OpPushFlag
	OpPushNamed

	OpRedirectOut
	OpRedirectErr

	OpCall

	OpListPush
	OpListSpread
	OpRecordInsert
	OpRecordSpread

	OpNot
	OpBinaryOp

	OpFollowCellPath
	OpCloneCellPath
	OpUpsertCellPath

	OpJump
	OpBranchIf
	OpReturn

	OpIterate
)

// BinOp tags a BinaryOp instruction's operator.
type BinOp uint8

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinEq
	BinNeq
	BinLt
	BinLte
	BinGt
	BinGte
	BinAnd
	BinOr
	BinBitAnd
	BinBitOr
	BinBitXor
	BinShl
	BinShr
)

// DataRef is a byte-slice index into a Block's interned data blob.
type DataRef struct {
	Offset uint32
	Length uint32
}

// Instruction is one step of the register machine. Only the fields
// relevant to Op are meaningful; unused fields are zero. This mirrors the
// optional-field-per-kind shape used throughout the IR's sum types rather
// than one struct type per opcode, keeping the instruction stream a flat
// array the evaluator can index without a type switch on storage layout.
type Instruction struct {
	Op Op

	Dst  Reg
	Src  Reg
	Src2 Reg // rhs register (BinaryOp), path register (cell-path ops)

	Literal  uint32 // index into Block.Literals; for UpsertCellPath only, reinterpreted as the register holding the new value (this op needs four operands and Instruction has no fourth register field)
	VarID    uint32
	DeclID   uint32
	Name     DataRef // interned name: env var, record key, flag/named-arg name
	BinOp    BinOp
	Target   int  // jump/branch target pc, or end_index for Iterate
	Append   bool // append flag for RedirectOut/RedirectErr (O_APPEND semantics)
	Optional bool // reserved for path members carrying a `?` suffix at the instruction level

	// CheckExternalFailed marks an OpCall that ends a `;`-joined statement:
	// the compiler sets this on every such call except the last in a block,
	// so the evaluator aborts the sequence instead of running the next
	// statement when the call's result is a failed external command.
	CheckExternalFailed bool
}

// LiteralKind tags a Literal's payload shape.
type LiteralKind uint8

const (
	LitNothing LiteralKind = iota
	LitBool
	LitInt
	LitFloat
	LitString
	LitBinary
	LitGlob
	LitClosure
)

// Literal is a constant referenced by LoadLiteral. String/Binary/Glob
// payloads are DataRefs into the owning Block's data blob rather than
// inline copies, so repeated literals share storage.
type Literal struct {
	Kind LiteralKind

	Bool  bool
	Int   int64
	Float float64
	Data  DataRef

	// Glob-specific: NoExpand disables expansion against the working
	// directory; the literal "-" is always preserved verbatim regardless
	// of NoExpand, per the specification's literal-expansion rule.
	NoExpand bool

	// Closure-specific.
	ClosureBlockID  uint32
	ClosureCaptures []uint32
}

// Block is an immutable compiled unit: the program the evaluator steps
// through for one call to a declaration's body.
type Block struct {
	RegisterCount uint32
	Instructions  []Instruction
	Spans         []value.Span // parallel to Instructions
	Data          []byte       // interned strings/binary, referenced by DataRef
	Literals      []Literal
	CapturedVars  []uint32 // variable ids this block's closures may capture
}

// SpanAt returns the span of instruction pc, or a zero span if pc is out of
// range (callers should already have validated pc via Valid()).
func (b *Block) SpanAt(pc int) value.Span {
	if pc < 0 || pc >= len(b.Spans) {
		return value.Span{}
	}
	return b.Spans[pc]
}

// StringAt decodes a DataRef as a UTF-8 string, or a KindIRIntegrity
// compiler-bug error if the range is out of bounds or not valid UTF-8 —
// both are structural integrity violations the compiler must never produce.
func (b *Block) StringAt(ref DataRef) (string, error) {
	raw, err := b.BytesAt(ref)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", shellerr.CompilerBug("interned data is not valid UTF-8")
	}
	return string(raw), nil
}

// BytesAt returns the raw bytes referenced by ref, or a compiler-bug error
// if the range overruns the data blob.
func (b *Block) BytesAt(ref DataRef) ([]byte, error) {
	end := uint64(ref.Offset) + uint64(ref.Length)
	if end > uint64(len(b.Data)) {
		return nil, shellerr.CompilerBug("data blob reference out of bounds")
	}
	return b.Data[ref.Offset : ref.Offset+ref.Length], nil
}

// LiteralAt returns the literal at idx, or a compiler-bug error if idx is
// out of range — a program counter can only reach an out-of-range literal
// index through a malformed or mis-compiled block.
func (b *Block) LiteralAt(idx uint32) (Literal, error) {
	if int(idx) >= len(b.Literals) {
		return Literal{}, shellerr.CompilerBug("literal index out of bounds")
	}
	return b.Literals[idx], nil
}

// Valid reports whether pc addresses a real instruction. The evaluator
// treats an invalid pc (falling off the end without Return, or a branch
// target outside the instruction stream) as a KindIRIntegrity error.
func (b *Block) Valid(pc int) bool {
	return pc >= 0 && pc < len(b.Instructions)
}
