// Package errors defines the shell error taxonomy shared by the evaluator,
// pipeline, and plugin interface.
//
// ShellError is a single structured type tagged by Kind rather than a zoo of
// Go error types, so the evaluator's error-handler stack can match on Kind
// without type assertions, and so every error carries a span for
// diagnostics the way every Value does.
package errors

import "fmt"

// Kind identifies a category of shell error. Kinds are the testable error
// taxonomy from the specification's error handling design.
type Kind string

const (
	KindTypeMismatch         Kind = "TYPE_MISMATCH"
	KindEnvMissing           Kind = "ENV_MISSING"
	KindAutomaticEnv         Kind = "AUTOMATIC_ENV"
	KindSpreadShape          Kind = "SPREAD_SHAPE"
	KindCellPathIncompatible Kind = "CELL_PATH_INCOMPATIBLE"
	KindIRIntegrity          Kind = "IR_INTEGRITY"
	KindPluginLoad           Kind = "PLUGIN_LOAD"
	KindExternalIO           Kind = "EXTERNAL_IO"
	KindGeneric              Kind = "GENERIC"
	KindStreamError          Kind = "STREAM_ERROR"
)

// Span is a byte-offset range into the original source, attached to values
// and errors for diagnostics. Duplicated from core/value.Span to avoid an
// import cycle (value wraps errors, not the reverse).
type Span struct {
	Start int
	End   int
}

// ShellError is the structured error carried through the evaluator, the
// pipeline, and the plugin interface.
type ShellError struct {
	Kind  Kind
	Msg   string
	Span  *Span  // nil when the error has no source location (e.g. transport errors)
	Help  string // optional remediation hint
	Inner []error
}

func (e *ShellError) Error() string {
	if e.Help != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Help)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the first inner error so errors.Is/As can traverse chains
// built with Wrap.
func (e *ShellError) Unwrap() error {
	if len(e.Inner) == 0 {
		return nil
	}
	return e.Inner[0]
}

// New creates a ShellError with no span.
func New(kind Kind, msg string) *ShellError {
	return &ShellError{Kind: kind, Msg: msg}
}

// NewSpanned creates a ShellError carrying a source span.
func NewSpanned(kind Kind, msg string, span Span) *ShellError {
	return &ShellError{Kind: kind, Msg: msg, Span: &span}
}

// Wrap creates a ShellError that chains an underlying cause.
func Wrap(kind Kind, msg string, cause error) *ShellError {
	return &ShellError{Kind: kind, Msg: msg, Inner: []error{cause}}
}

// WithHelp attaches a remediation hint and returns the receiver for chaining.
func (e *ShellError) WithHelp(help string) *ShellError {
	e.Help = help
	return e
}

// WithSpan attaches a source span and returns the receiver for chaining.
func (e *ShellError) WithSpan(span Span) *ShellError {
	e.Span = &span
	return e
}

// Is reports whether err is a ShellError of the given Kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*ShellError)
	return ok && se.Kind == kind
}

// CompilerBug wraps an IR structural-integrity violation with the
// "this is a compiler bug" hint the specification requires: program-counter
// overrun, a reference to a missing IR block, invalid UTF-8 in interned
// data, or an Instruction::Clone applied to a stream register.
func CompilerBug(msg string) *ShellError {
	return New(KindIRIntegrity, msg).WithHelp("this is a compiler bug in the IR producer, not a user error")
}

// AutomaticEnvError reports an attempt to StoreEnv an automatic variable.
func AutomaticEnvError(name string) *ShellError {
	return New(KindAutomaticEnv, fmt.Sprintf("%q is set automatically by the evaluator and cannot be assigned", name))
}

// EnvMissingError reports LoadEnv on a variable that does not exist.
func EnvMissingError(name string) *ShellError {
	return New(KindEnvMissing, fmt.Sprintf("environment variable %q is not set", name))
}

// ExternalFailureError reports a `;`-joined statement's external command
// exiting non-zero, aborting the rest of the sequence.
func ExternalFailureError(code int) *ShellError {
	return New(KindExternalIO, fmt.Sprintf("external command exited with code %d", code)).
		WithHelp("the rest of the `;`-joined sequence was not executed")
}

// LabeledError is the {msg, debug, raw} record bound into an error-handler
// variable, per the specification's error handler stack design.
type LabeledError struct {
	Msg   string `json:"msg"`
	Debug string `json:"debug"`
	Raw   error  `json:"-"`
}

// Label converts any error into the labeled-error shape bound by a handled
// block. Msg is the user-facing rendering; Debug includes the full
// Kind/Inner chain for diagnostics.
func Label(err error) LabeledError {
	if se, ok := err.(*ShellError); ok {
		debug := se.Error()
		for _, inner := range se.Inner {
			if inner != nil {
				debug += ": " + inner.Error()
			}
		}
		return LabeledError{
			Msg:   se.Msg,
			Debug: debug,
			Raw:   se,
		}
	}
	return LabeledError{Msg: err.Error(), Debug: err.Error(), Raw: err}
}
