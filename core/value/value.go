// Package value implements the shell's Value sum type: the tagged union of
// every datum a register, a variable, or an argument can hold.
//
// A Value is cheap to copy by struct assignment. Interior stores that can
// grow large — List, Record, Binary — are held behind a shared pointer so
// copying a Value never copies their contents; see Record for the
// reference-counted copy-on-write container used for record fields.
package value

import (
	"fmt"

	shellerr "github.com/opal-lang/shellcore/core/errors"
)

// Kind tags which variant a Value holds.
type Kind uint8

const (
	KindNothing Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBinary
	KindList
	KindRecord
	KindRange
	KindClosure
	KindCellPath
	KindGlob
	KindError
	KindCustomValue
)

func (k Kind) String() string {
	switch k {
	case KindNothing:
		return "nothing"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	case KindRange:
		return "range"
	case KindClosure:
		return "closure"
	case KindCellPath:
		return "cell-path"
	case KindGlob:
		return "glob"
	case KindError:
		return "error"
	case KindCustomValue:
		return "custom-value"
	default:
		return "unknown"
	}
}

// Span is a byte-offset range into the original source. Every Value and
// every ShellError carries one for diagnostics.
type Span struct {
	Start int
	End   int
}

// CustomValueIdentity fingerprints the plugin process that minted a
// CustomValue, so the host can refuse to hand one plugin's opaque value to
// a different plugin instance.
type CustomValueIdentity [32]byte

// CustomValue is an opaque blob a plugin hands back in place of a Value it
// cannot (or chooses not to) represent as a base type: the host stores it
// unopened and can only ever send it back to the plugin that produced it,
// for conversion to a base Value or for Drop notification. Defined here
// rather than in runtime/plugin so a Value can carry one without
// runtime/plugin importing core/value creating a cycle.
type CustomValue struct {
	PluginName string
	Identity   CustomValueIdentity
	Data       []byte
	Notify     bool
}

// Value is the tagged sum described by the data model: Nothing, Bool, Int,
// Float, String, Binary, List, Record, Range, Closure, CellPath, Glob, or
// Error. Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	Span Span

	boolVal    bool
	intVal     int64
	floatVal   float64
	stringVal  string
	binaryVal  []byte
	listVal    []Value
	recordVal  Record
	rangeVal   Range
	closureVal Closure
	pathVal    CellPath
	errVal     error
	customVal  CustomValue
}

// Nothing constructs the absence-of-value variant.
func Nothing(span Span) Value { return Value{Kind: KindNothing, Span: span} }

// Bool constructs a boolean Value.
func Bool(b bool, span Span) Value { return Value{Kind: KindBool, Span: span, boolVal: b} }

// Int constructs an integer Value.
func Int(i int64, span Span) Value { return Value{Kind: KindInt, Span: span, intVal: i} }

// Float constructs a floating-point Value.
func Float(f float64, span Span) Value { return Value{Kind: KindFloat, Span: span, floatVal: f} }

// String constructs a string Value.
func String(s string, span Span) Value { return Value{Kind: KindString, Span: span, stringVal: s} }

// Binary constructs a byte-string Value. b is not copied; pass a private
// slice if the caller might mutate it afterward.
func Binary(b []byte, span Span) Value { return Value{Kind: KindBinary, Span: span, binaryVal: b} }

// Glob constructs a glob-pattern Value (an unexpanded path literal).
func Glob(pattern string, span Span) Value { return Value{Kind: KindGlob, Span: span, stringVal: pattern} }

// List constructs a list Value. items is not copied.
func List(items []Value, span Span) Value { return Value{Kind: KindList, Span: span, listVal: items} }

// RecordValue constructs a record Value.
func RecordValue(r Record, span Span) Value { return Value{Kind: KindRecord, Span: span, recordVal: r} }

// RangeValue constructs a range Value.
func RangeValue(r Range, span Span) Value { return Value{Kind: KindRange, Span: span, rangeVal: r} }

// ClosureValue constructs a closure Value.
func ClosureValue(c Closure, span Span) Value { return Value{Kind: KindClosure, Span: span, closureVal: c} }

// CellPathValue constructs a cell-path Value.
func CellPathValue(p CellPath, span Span) Value { return Value{Kind: KindCellPath, Span: span, pathVal: p} }

// ErrorValue wraps an owned error as a first-class Value, so an error can
// flow through a register or a stream and be unwrapped at the first
// operation that collapses it to a non-error shape.
func ErrorValue(err error, span Span) Value { return Value{Kind: KindError, Span: span, errVal: err} }

// CustomValueValue wraps a plugin-minted opaque value as a first-class
// Value, so it can flow through registers, lists, and records exactly like
// any base-typed value until something asks a plugin to convert it back.
func CustomValueValue(cv CustomValue, span Span) Value {
	return Value{Kind: KindCustomValue, Span: span, customVal: cv}
}

// typeMismatch builds the span-attached error every typed accessor returns
// on a Kind mismatch.
func (v Value) typeMismatch(want string) error {
	return shellerr.NewSpanned(shellerr.KindTypeMismatch,
		fmt.Sprintf("expected %s, found %s", want, v.Kind), shellerr.Span{Start: v.Span.Start, End: v.Span.End})
}

// AsBool returns the boolean payload or a type-mismatch error.
func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, v.typeMismatch("bool")
	}
	return v.boolVal, nil
}

// AsInt returns the integer payload or a type-mismatch error.
func (v Value) AsInt() (int64, error) {
	if v.Kind != KindInt {
		return 0, v.typeMismatch("int")
	}
	return v.intVal, nil
}

// AsFloat returns the float payload or a type-mismatch error.
func (v Value) AsFloat() (float64, error) {
	if v.Kind != KindFloat {
		return 0, v.typeMismatch("float")
	}
	return v.floatVal, nil
}

// AsString returns the string payload or a type-mismatch error. Glob values
// also satisfy this accessor since they are textually represented.
func (v Value) AsString() (string, error) {
	if v.Kind != KindString && v.Kind != KindGlob {
		return "", v.typeMismatch("string")
	}
	return v.stringVal, nil
}

// AsBinary returns the binary payload or a type-mismatch error.
func (v Value) AsBinary() ([]byte, error) {
	if v.Kind != KindBinary {
		return nil, v.typeMismatch("binary")
	}
	return v.binaryVal, nil
}

// AsList returns the list payload or a type-mismatch error.
func (v Value) AsList() ([]Value, error) {
	if v.Kind != KindList {
		return nil, v.typeMismatch("list")
	}
	return v.listVal, nil
}

// AsRecord returns the record payload or a type-mismatch error.
func (v Value) AsRecord() (Record, error) {
	if v.Kind != KindRecord {
		return Record{}, v.typeMismatch("record")
	}
	return v.recordVal, nil
}

// AsRange returns the range payload or a type-mismatch error.
func (v Value) AsRange() (Range, error) {
	if v.Kind != KindRange {
		return Range{}, v.typeMismatch("range")
	}
	return v.rangeVal, nil
}

// AsClosure returns the closure payload or a type-mismatch error.
func (v Value) AsClosure() (Closure, error) {
	if v.Kind != KindClosure {
		return Closure{}, v.typeMismatch("closure")
	}
	return v.closureVal, nil
}

// AsCellPath returns the cell-path payload or a type-mismatch error.
func (v Value) AsCellPath() (CellPath, error) {
	if v.Kind != KindCellPath {
		return CellPath{}, v.typeMismatch("cell-path")
	}
	return v.pathVal, nil
}

// AsError returns the wrapped error payload or a type-mismatch error.
func (v Value) AsError() (error, error) {
	if v.Kind != KindError {
		return nil, v.typeMismatch("error")
	}
	return v.errVal, nil
}

// IsError reports whether v holds the Error variant.
func (v Value) IsError() bool { return v.Kind == KindError }

// AsCustomValue returns the wrapped opaque plugin payload or a
// type-mismatch error.
func (v Value) AsCustomValue() (CustomValue, error) {
	if v.Kind != KindCustomValue {
		return CustomValue{}, v.typeMismatch("custom-value")
	}
	return v.customVal, nil
}

// Clone returns a conceptually independent copy of v. Struct assignment
// already does this for scalar variants; List/Record share their backing
// store (copy-on-write for Record, append-preserves-sharing for List) so
// Clone never deep-copies large interior stores.
func (v Value) Clone() Value {
	if v.Kind == KindRecord {
		v.recordVal = v.recordVal.Clone()
	}
	return v
}

// ToBool renders a value's shell-truthiness, used by the evaluator's
// BranchIf condition check (which requires an actual Bool, not a truthy
// coercion); BinaryOp's boolean operators call AsBool directly.
func (v Value) ToBool() (bool, error) {
	return v.AsBool()
}

// Display renders a value the way it should appear when printed to the
// terminal: strings and globs render as their raw text with no quoting,
// scalars render in their natural form, and every other shape falls back to
// Debug's structural summary (a dedicated tabular renderer is expected to
// handle List/Record before Display is ever reached for those kinds).
func (v Value) Display() string {
	switch v.Kind {
	case KindNothing:
		return ""
	case KindBool:
		if v.boolVal {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.intVal)
	case KindFloat:
		return fmt.Sprintf("%g", v.floatVal)
	case KindString, KindGlob:
		return v.stringVal
	case KindBinary:
		return string(v.binaryVal)
	case KindError:
		return fmt.Sprintf("Error: %v", v.errVal)
	case KindCustomValue:
		return fmt.Sprintf("<custom value from %s>", v.customVal.PluginName)
	default:
		return v.Debug()
	}
}

// Debug renders a value for diagnostics; not used for user-facing display.
func (v Value) Debug() string {
	switch v.Kind {
	case KindNothing:
		return "nothing"
	case KindBool:
		return fmt.Sprintf("bool(%v)", v.boolVal)
	case KindInt:
		return fmt.Sprintf("int(%d)", v.intVal)
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.floatVal)
	case KindString:
		return fmt.Sprintf("string(%q)", v.stringVal)
	case KindBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.binaryVal))
	case KindList:
		return fmt.Sprintf("list(%d items)", len(v.listVal))
	case KindRecord:
		return fmt.Sprintf("record(%d fields)", v.recordVal.Len())
	case KindRange:
		return "range(...)"
	case KindClosure:
		return fmt.Sprintf("closure(block=%d)", v.closureVal.BlockID)
	case KindCellPath:
		return fmt.Sprintf("cell-path(%d members)", len(v.pathVal.Members))
	case KindGlob:
		return fmt.Sprintf("glob(%q)", v.stringVal)
	case KindError:
		return fmt.Sprintf("error(%v)", v.errVal)
	case KindCustomValue:
		return fmt.Sprintf("custom_value(plugin=%s, %d bytes)", v.customVal.PluginName, len(v.customVal.Data))
	default:
		return "?"
	}
}
