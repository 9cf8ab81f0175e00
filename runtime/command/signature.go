// Package command defines the Command ABI every built-in and every
// plugin-declaration wrapper implements, the Signature type describing a
// command's parameters, and the Call/argument-stack machinery the evaluator
// uses to invoke a command with frame discipline.
package command

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
)

// Type tags the shape a positional, flag, or input/output slot accepts.
type Type uint8

const (
	TypeAny Type = iota
	TypeNothing
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeBinary
	TypeList
	TypeRecord
	TypeRange
	TypeClosure
	TypeCustomValue
)

func (t Type) matches(k value.Kind) bool {
	switch t {
	case TypeAny:
		return true
	case TypeNothing:
		return k == value.KindNothing
	case TypeBool:
		return k == value.KindBool
	case TypeInt:
		return k == value.KindInt
	case TypeFloat:
		return k == value.KindFloat || k == value.KindInt
	case TypeString:
		return k == value.KindString || k == value.KindGlob
	case TypeBinary:
		return k == value.KindBinary
	case TypeList:
		return k == value.KindList
	case TypeRecord:
		return k == value.KindRecord
	case TypeRange:
		return k == value.KindRange
	case TypeClosure:
		return k == value.KindClosure
	case TypeCustomValue:
		return k == value.KindCustomValue
	default:
		return false
	}
}

// PositionalArg describes one required or optional positional parameter.
type PositionalArg struct {
	Name     string
	Desc     string
	Shape    Type
	Optional bool
}

// Flag describes a named flag: `--name` / `-s`, with or without a value.
// Shape == TypeNothing marks a boolean switch (presence-only, no value).
type Flag struct {
	Long     string
	Short    rune
	Desc     string
	Shape    Type
	Required bool

	// RecordSchema, when set, additionally validates a TypeRecord-shaped
	// value against a compiled JSON Schema — used by commands whose named
	// argument is itself a structured options record (e.g. `--config`).
	RecordSchema *jsonschema.Schema
}

// IOType pairs one accepted input shape with the output shape a command
// produces for it; a command may list several for different input shapes.
type IOType struct {
	Input  Type
	Output Type
}

// Signature is a command's full parameter and I/O-type declaration, as
// returned by Command.Signature().
type Signature struct {
	Name       string
	Positional []PositionalArg
	Rest       *PositionalArg
	Named      []Flag
	IOTypes    []IOType
}

// FindNamed looks up a declared flag by its long name.
func (s Signature) FindNamed(long string) (Flag, bool) {
	for _, f := range s.Named {
		if f.Long == long {
			return f, true
		}
	}
	return Flag{}, false
}

// CompileRecordSchema compiles a JSON Schema document for use as a Flag's
// RecordSchema, so a named argument shaped like `{ retries: int, url: string
// }` is validated structurally rather than merely type-checked as "a
// record".
func CompileRecordSchema(name string, schemaJSON []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schemaJSON)); err != nil {
		return nil, shellerr.Wrap(shellerr.KindGeneric, "invalid record schema", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, shellerr.Wrap(shellerr.KindGeneric, "failed to compile record schema", err)
	}
	return schema, nil
}

// ValidateRecord checks v (expected to be a Record) against f.RecordSchema,
// a no-op if no schema was attached.
func (f Flag) ValidateRecord(v value.Value, span value.Span) error {
	if f.RecordSchema == nil {
		return nil
	}
	rec, err := v.AsRecord()
	if err != nil {
		return err
	}
	doc := recordToGo(rec)
	if err := f.RecordSchema.Validate(doc); err != nil {
		return shellerr.NewSpanned(shellerr.KindTypeMismatch,
			fmt.Sprintf("named argument %q does not match its schema: %v", f.Long, err),
			shellerr.Span{Start: span.Start, End: span.End})
	}
	return nil
}

// recordToGo converts a Record into the map[string]interface{} shape the
// jsonschema package validates against.
func recordToGo(r value.Record) map[string]interface{} {
	out := make(map[string]interface{}, r.Len())
	for _, key := range r.Keys() {
		v, _ := r.Get(key)
		out[key] = valueToGo(v)
	}
	return out
}

func valueToGo(v value.Value) interface{} {
	switch v.Kind {
	case value.KindNothing:
		return nil
	case value.KindBool:
		b, _ := v.AsBool()
		return b
	case value.KindInt:
		i, _ := v.AsInt()
		return float64(i)
	case value.KindFloat:
		f, _ := v.AsFloat()
		return f
	case value.KindString, value.KindGlob:
		s, _ := v.AsString()
		return s
	case value.KindList:
		items, _ := v.AsList()
		out := make([]interface{}, len(items))
		for i, it := range items {
			out[i] = valueToGo(it)
		}
		return out
	case value.KindRecord:
		rec, _ := v.AsRecord()
		return recordToGo(rec)
	default:
		return v.Debug()
	}
}
