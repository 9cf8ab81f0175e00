package command

import (
	"fmt"

	"github.com/opal-lang/shellcore/core/invariant"
	"github.com/opal-lang/shellcore/core/value"
)

// ArgKind tags an Argument's shape.
type ArgKind uint8

const (
	ArgPositional ArgKind = iota
	ArgSpread
	ArgFlag
	ArgNamed
)

// Argument is one entry on the argument stack. Only the fields matching Kind
// are meaningful: Positional{Val, Span}, Spread{Vals, Span}, Flag{Name,
// Span}, Named{Name, Val, Span}.
type Argument struct {
	Kind ArgKind
	Val  value.Value
	Vals []value.Value
	Name string
	Span value.Span
}

// ArgumentStack is the single linear vector of tagged arguments shared by
// every nested call on a Stack, addressed by (args_base, args_len) call
// frames so a nested call only ever sees its own slice.
type ArgumentStack struct {
	args []Argument
}

// PushFrame returns the current stack height, to be used as a call's
// args_base.
func (s *ArgumentStack) PushFrame() int { return len(s.args) }

// Push appends an argument to the frame currently being built.
func (s *ArgumentStack) Push(a Argument) { s.args = append(s.args, a) }

// LeaveFrame truncates the stack back to base, restoring pre-call height.
// Every call, successful or not, must invoke this exactly once for the
// frame it pushed; invariant.NonNegative and invariant.Invariant catch a
// mismatched push/leave pair (more leaves than pushes, or leaving to a base
// taller than the current stack) as the programming-error panics the
// specification calls for rather than silently corrupting the stack.
func (s *ArgumentStack) LeaveFrame(base int) {
	invariant.NonNegative(base, "args_base")
	invariant.Invariant(base <= len(s.args), "leave_frame base %d exceeds stack height %d", base, len(s.args))
	s.args = s.args[:base]
}

// Len returns the current stack height, used to assert argument-frame
// balance after a call returns.
func (s *ArgumentStack) Len() int { return len(s.args) }

// Call is the thin projection over one call frame that a Command.Run
// implementation receives: accessors fetch required/optional/rest/named
// arguments with type coercion, each emitting a span-attached error on
// mismatch rather than panicking, since a malformed call is a user error
// (wrong argument types), not a programming error.
type Call struct {
	DeclID   uint32
	HeadSpan value.Span
	Span     value.Span // union of HeadSpan and every pushed argument's span

	stack *ArgumentStack
	base  int
	len   int
}

// NewCall builds a Call projection over stack[base : base+length], computing
// Span as the union of head and every argument span.
func NewCall(declID uint32, head value.Span, stack *ArgumentStack, base, length int) *Call {
	c := &Call{DeclID: declID, HeadSpan: head, stack: stack, base: base, len: length}
	c.Span = head
	for _, a := range c.frame() {
		c.Span = unionSpan(c.Span, a.Span)
	}
	return c
}

func unionSpan(a, b value.Span) value.Span {
	out := a
	if b.Start < out.Start {
		out.Start = b.Start
	}
	if b.End > out.End {
		out.End = b.End
	}
	return out
}

func (c *Call) frame() []Argument {
	return c.stack.args[c.base : c.base+c.len]
}

// Positionals returns every Positional and Spread-expanded argument in
// order, skipping Flag/Named entries.
func (c *Call) Positionals() []value.Value {
	var out []value.Value
	for _, a := range c.frame() {
		switch a.Kind {
		case ArgPositional:
			out = append(out, a.Val)
		case ArgSpread:
			out = append(out, a.Vals...)
		}
	}
	return out
}

// RequiredPositional fetches the positional at idx, coercing its Kind
// against want and returning a span-attached error if it is missing or the
// wrong shape.
func (c *Call) RequiredPositional(idx int, want Type, name string) (value.Value, error) {
	pos := c.Positionals()
	if idx >= len(pos) {
		return value.Value{}, c.missingArgError(name)
	}
	return c.coerce(pos[idx], want, name)
}

// OptionalPositional fetches the positional at idx if present, returning
// (Nothing, false, nil) if it was omitted.
func (c *Call) OptionalPositional(idx int, want Type, name string) (value.Value, bool, error) {
	pos := c.Positionals()
	if idx >= len(pos) {
		return value.Nothing(c.Span), false, nil
	}
	v, err := c.coerce(pos[idx], want, name)
	return v, true, err
}

// Rest returns every positional from idx onward, for a signature's spread
// parameter.
func (c *Call) Rest(idx int) []value.Value {
	pos := c.Positionals()
	if idx >= len(pos) {
		return nil
	}
	return pos[idx:]
}

// HasFlag reports whether switch flagName was passed.
func (c *Call) HasFlag(flagName string) bool {
	for _, a := range c.frame() {
		if a.Kind == ArgFlag && a.Name == flagName {
			return true
		}
	}
	return false
}

// Named fetches a Named{name, val} argument, coercing against want.
func (c *Call) Named(flagName string, want Type) (value.Value, bool, error) {
	for _, a := range c.frame() {
		if a.Kind == ArgNamed && a.Name == flagName {
			v, err := c.coerce(a.Val, want, flagName)
			return v, true, err
		}
	}
	return value.Value{}, false, nil
}

func (c *Call) coerce(v value.Value, want Type, name string) (value.Value, error) {
	if !want.matches(v.Kind) {
		return value.Value{}, c.typeMismatchError(name, v)
	}
	return v, nil
}

func (c *Call) missingArgError(name string) error {
	return newCallError(fmt.Sprintf("missing required argument %q", name), c.Span)
}

func (c *Call) typeMismatchError(name string, v value.Value) error {
	return newCallError(fmt.Sprintf("argument %q has the wrong type: found %s", name, v.Kind), v.Span)
}

// ValidateNamedSchemas checks every Named argument actually passed in this
// call frame against its declared Flag's RecordSchema (a no-op for flags
// that don't attach one), so a command declaring a structured `--config`
// flag gets real jsonschema validation before Run ever sees the call.
func (c *Call) ValidateNamedSchemas(sig Signature) error {
	for _, a := range c.frame() {
		if a.Kind != ArgNamed {
			continue
		}
		flag, ok := sig.FindNamed(a.Name)
		if !ok || flag.RecordSchema == nil {
			continue
		}
		if err := flag.ValidateRecord(a.Val, a.Span); err != nil {
			return err
		}
	}
	return nil
}
