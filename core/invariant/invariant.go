// Package invariant provides contract assertions for the shellcore engine.
//
// Assertions are a force multiplier for discovering bugs: Precondition and
// Postcondition express function contracts, Invariant checks internal
// consistency. All functions panic on violation — these catch programming
// errors in the evaluator and transport, never user-facing shell errors.
package invariant

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
)

// Precondition checks an input contract at function entry.
func Precondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Postcondition checks an output contract before function return.
func Postcondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("POSTCONDITION", format, args...)
	}
}

// Invariant checks an internal invariant during function execution.
//
// Example: the evaluator's register pc must strictly advance between
// successive Continue results, or a compiled block could loop forever.
func Invariant(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if value is nil, including a typed nil pointer/interface.
func NotNil(value interface{}, name string) {
	if value == nil || isNilValue(value) {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

func isNilValue(value interface{}) bool {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// InRange panics if value is outside [min, max].
func InRange(value, minVal, maxVal int, name string) {
	if value < minVal || value > maxVal {
		fail("PRECONDITION", "%s must be in range [%d, %d], got %d", name, minVal, maxVal, value)
	}
}

// NonNegative panics if value < 0.
//
// Used for the argument-stack frame discipline: args_base must never go
// negative, or leave_frame has been called more times than push_frame.
func NonNegative(value int, name string) {
	if value < 0 {
		fail("POSTCONDITION", "%s must be non-negative, got %d", name, value)
	}
}

// ExpectNoError panics if err is not nil.
func ExpectNoError(err error, msg string) {
	if err != nil {
		fail("POSTCONDITION", "%s must not fail: %v", msg, err)
	}
}

// ContextNotBackground panics if ctx is context.Background().
//
// Only the root entry point of a plugin call or evaluation should create a
// fresh context; every inner function must receive a parent context so
// cancellation (a dropped stream, an interrupted evaluation) propagates.
func ContextNotBackground(ctx context.Context, location string) {
	if ctx == nil {
		fail("PRECONDITION", "%s: context must not be nil", location)
	}
	if ctx == context.Background() {
		fail("PRECONDITION", "%s: context must not be Background() - parent context required for cancellation", location)
	}
}

func fail(kind, format string, args ...interface{}) {
	pc := make([]uintptr, 10)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])

	msg := fmt.Sprintf("%s VIOLATION: "+format, append([]interface{}{kind}, args...)...)
	if frame, ok := frames.Next(); ok {
		msg += fmt.Sprintf("\n  at %s:%d", frame.File, frame.Line)
	}
	panic(msg)
}
