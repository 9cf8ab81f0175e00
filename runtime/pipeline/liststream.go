package pipeline

import (
	"sync/atomic"

	"github.com/opal-lang/shellcore/core/invariant"
	"github.com/opal-lang/shellcore/core/value"
)

// CancelFlag is a shared interruption signal an evaluator session exposes to
// every iterator it drives, checked once per pulled item. A nil *CancelFlag
// means "never cancel".
type CancelFlag struct {
	flag atomic.Bool
}

// Set marks the flag as triggered.
func (c *CancelFlag) Set() {
	if c == nil {
		return
	}
	c.flag.Store(true)
}

// Triggered reports whether Set has been called.
func (c *CancelFlag) Triggered() bool {
	if c == nil {
		return false
	}
	return c.flag.Load()
}

// pullFunc produces the next item, reporting ok=false once the sequence is
// exhausted. A non-nil error always takes precedence over ok.
type pullFunc func() (value.Value, bool, error)

// ListStream is a single-consumer, pull-based lazy sequence of Values. It is
// the evaluator's native representation for `list`, `each`, `where`, and
// similar commands: composing Map/Filter/FlatMap never eagerly evaluates
// anything, mirroring the spec's requirement that `seq 1 1000000000 | each
// {|x| $x} | first 1` touch only the first element.
type ListStream struct {
	pull     pullFunc
	cancel   *CancelFlag
	consumed bool
}

// NewListStreamFromSlice wraps an already-materialized slice.
func NewListStreamFromSlice(items []value.Value) *ListStream {
	i := 0
	return &ListStream{pull: func() (value.Value, bool, error) {
		if i >= len(items) {
			return value.Value{}, false, nil
		}
		v := items[i]
		i++
		return v, true, nil
	}}
}

// NewListStreamFromFunc wraps an arbitrary pull function, e.g. one reading
// lines from a plugin's engine-call stream.
func NewListStreamFromFunc(pull func() (value.Value, bool, error)) *ListStream {
	return &ListStream{pull: pull}
}

func newRangeListStream(rg value.Range, span value.Span) *ListStream {
	cur := rg.Start
	first := true
	return NewListStreamFromFunc(func() (value.Value, bool, error) {
		if !first {
			cur += rg.Step
		}
		first = false
		if rg.Step == 0 {
			return value.Value{}, false, nil
		}
		if rg.HasEnd && !rg.IsUnbounded() {
			if rg.Step > 0 {
				if rg.Inclusive && cur > rg.End {
					return value.Value{}, false, nil
				}
				if !rg.Inclusive && cur >= rg.End {
					return value.Value{}, false, nil
				}
			} else {
				if rg.Inclusive && cur < rg.End {
					return value.Value{}, false, nil
				}
				if !rg.Inclusive && cur <= rg.End {
					return value.Value{}, false, nil
				}
			}
		}
		return value.Int(cur, span), true, nil
	})
}

// WithCancel attaches a cancellation flag, checked before every pull. Once
// triggered the stream reports exhaustion rather than an error, matching the
// evaluator's "interrupted iteration stops quietly" contract.
func (ls *ListStream) WithCancel(c *CancelFlag) *ListStream {
	ls.cancel = c
	return ls
}

// Next pulls the next item. invariant.Precondition guards the single-
// consumer contract: nothing may call Next after the stream reported
// exhaustion or an error.
func (ls *ListStream) Next() (value.Value, bool, error) {
	invariant.Precondition(!ls.consumed, "ListStream.Next called after exhaustion")
	if ls.cancel.Triggered() {
		ls.consumed = true
		return value.Value{}, false, nil
	}
	v, ok, err := ls.pull()
	if err != nil || !ok {
		ls.consumed = true
	}
	return v, ok, err
}

// Collect drains the stream into a slice.
func (ls *ListStream) Collect() ([]value.Value, error) {
	var out []value.Value
	for {
		v, ok, err := ls.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// Drain discards every item without collecting it.
func (ls *ListStream) Drain() error {
	for {
		_, ok, err := ls.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// Map returns a new lazily-evaluated stream applying f to each item as it is
// pulled.
func (ls *ListStream) Map(f func(value.Value) (value.Value, error)) *ListStream {
	return NewListStreamFromFunc(func() (value.Value, bool, error) {
		v, ok, err := ls.Next()
		if err != nil || !ok {
			return value.Value{}, ok, err
		}
		mapped, err := f(v)
		if err != nil {
			return value.Value{}, false, err
		}
		return mapped, true, nil
	})
}

// Filter returns a new lazily-evaluated stream skipping items for which f
// returns false.
func (ls *ListStream) Filter(f func(value.Value) (bool, error)) *ListStream {
	return NewListStreamFromFunc(func() (value.Value, bool, error) {
		for {
			v, ok, err := ls.Next()
			if err != nil || !ok {
				return value.Value{}, ok, err
			}
			keep, err := f(v)
			if err != nil {
				return value.Value{}, false, err
			}
			if keep {
				return v, true, nil
			}
		}
	})
}

// FlatMap returns a new lazily-evaluated stream applying f to each item and
// flattening the resulting slices into the output sequence.
func (ls *ListStream) FlatMap(f func(value.Value) ([]value.Value, error)) *ListStream {
	var buf []value.Value
	return NewListStreamFromFunc(func() (value.Value, bool, error) {
		for len(buf) == 0 {
			v, ok, err := ls.Next()
			if err != nil || !ok {
				return value.Value{}, ok, err
			}
			expanded, err := f(v)
			if err != nil {
				return value.Value{}, false, err
			}
			buf = expanded
		}
		v := buf[0]
		buf = buf[1:]
		return v, true, nil
	})
}
