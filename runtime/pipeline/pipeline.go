// Package pipeline implements PipelineData: the uniform container threaded
// between commands that represents either a single materialized Value, a
// lazy ListStream, or an in-flight ExternalStream backed by a child
// process's stdout/stderr/exit code.
package pipeline

import (
	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
)

// Kind tags which variant a PipelineData holds.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindValue
	KindListStream
	KindExternalStream
)

// Metadata is the small provenance descriptor carried alongside pipeline
// data (e.g. "ls", "html-themes", or a file path), preserved across
// SetMetadata and attached to the result of Collect.
type Metadata struct {
	Source string
}

// PipelineData is the evaluator's uniform command input/output container.
type PipelineData struct {
	Kind Kind

	metadata *Metadata
	val      value.Value
	list     *ListStream
	ext      *ExternalStream
}

// Empty returns the absence-of-data variant.
func Empty() PipelineData { return PipelineData{Kind: KindEmpty} }

// FromValue wraps a single materialized Value.
func FromValue(v value.Value) PipelineData { return PipelineData{Kind: KindValue, val: v} }

// FromListStream wraps a lazy value sequence.
func FromListStream(ls *ListStream) PipelineData { return PipelineData{Kind: KindListStream, list: ls} }

// FromExternalStream wraps an in-flight external process.
func FromExternalStream(ext *ExternalStream) PipelineData {
	return PipelineData{Kind: KindExternalStream, ext: ext}
}

// Metadata returns the attached provenance descriptor, or nil if none.
func (p PipelineData) Metadata() *Metadata { return p.metadata }

// SetMetadata attaches m and returns the updated PipelineData. Metadata
// survives every transformation (Map/Filter/Collect) performed afterward.
func (p PipelineData) SetMetadata(m *Metadata) PipelineData {
	p.metadata = m
	return p
}

// Value returns the materialized value and true if Kind is KindValue.
func (p PipelineData) Value() (value.Value, bool) {
	if p.Kind != KindValue {
		return value.Value{}, false
	}
	return p.val, true
}

// ListStream returns the underlying stream and true if Kind is KindListStream.
func (p PipelineData) ListStream() (*ListStream, bool) {
	if p.Kind != KindListStream {
		return nil, false
	}
	return p.list, true
}

// External returns the underlying external stream and true if Kind is
// KindExternalStream.
func (p PipelineData) External() (*ExternalStream, bool) {
	if p.Kind != KindExternalStream {
		return nil, false
	}
	return p.ext, true
}

// IntoValue collects p to a single Value. The returned Value carries no
// metadata; p.Metadata() is left for the caller to re-attach. For an
// ExternalStream this fully drains stderr, stdout, and exit code in that
// order (spec-mandated drain order), classifying stdout as a String when it
// is valid UTF-8 and as Binary otherwise (there is no per-stream binary
// flag), and trimming a trailing newline when requested.
func (p PipelineData) IntoValue(span value.Span) (value.Value, error) {
	switch p.Kind {
	case KindEmpty:
		return value.Nothing(span), nil
	case KindValue:
		return p.val, nil
	case KindListStream:
		items, err := p.list.Collect()
		if err != nil {
			return value.Value{}, err
		}
		return value.List(items, span), nil
	case KindExternalStream:
		return p.ext.IntoValue(span)
	default:
		return value.Value{}, shellerr.CompilerBug("unknown PipelineData kind")
	}
}

// Drain discards all stream content. For an ExternalStream it also waits
// for the exit code, but returns only an error.
func (p PipelineData) Drain() error {
	switch p.Kind {
	case KindListStream:
		return p.list.Drain()
	case KindExternalStream:
		_, err := p.ext.DrainWithExitCode()
		return err
	default:
		return nil
	}
}

// DrainWithExitCode discards all stream content and returns the last exit
// code, or 0 if the data has no associated external process.
func (p PipelineData) DrainWithExitCode() (int, error) {
	if p.Kind == KindExternalStream {
		return p.ext.DrainWithExitCode()
	}
	return 0, p.Drain()
}

// IntoIterStrict converts p into a ListStream, failing for any shape that
// is not list/binary/range-like. A Value::Error encountered while
// converting is unwrapped and returned as the error.
func (p PipelineData) IntoIterStrict(span value.Span) (*ListStream, error) {
	switch p.Kind {
	case KindListStream:
		return p.list, nil
	case KindValue:
		if p.val.IsError() {
			inner, _ := p.val.AsError()
			return nil, inner
		}
		return listStreamFromValue(p.val, span)
	case KindEmpty:
		return nil, shellerr.NewSpanned(shellerr.KindTypeMismatch,
			"only supports list/binary/range input", shellerr.Span{Start: span.Start, End: span.End})
	default:
		return nil, shellerr.NewSpanned(shellerr.KindTypeMismatch,
			"only supports list/binary/range input", shellerr.Span{Start: span.Start, End: span.End})
	}
}

// IntoInterruptibleIter converts p into a ListStream that checks cancel
// before producing each item.
func (p PipelineData) IntoInterruptibleIter(span value.Span, cancel *CancelFlag) (*ListStream, error) {
	ls, err := p.IntoIterStrict(span)
	if err != nil {
		return nil, err
	}
	return ls.WithCancel(cancel), nil
}

// CollectString joins p's items with sep. For a single string Value it is
// returned as-is; for a ListStream each element is rendered with its
// natural display form.
func (p PipelineData) CollectString(sep string, span value.Span) (string, error) {
	if p.Kind == KindValue && p.val.Kind == value.KindString {
		s, _ := p.val.AsString()
		return s, nil
	}
	ls, err := p.IntoIterStrict(span)
	if err != nil {
		return "", err
	}
	items, err := ls.Collect()
	if err != nil {
		return "", err
	}
	var out []byte
	for i, it := range items {
		if i > 0 {
			out = append(out, sep...)
		}
		if it.IsError() {
			inner, _ := it.AsError()
			return "", inner
		}
		out = append(out, it.Display()...)
	}
	return string(out), nil
}

// CollectStringStrict requires p to already be a single string Value.
func (p PipelineData) CollectStringStrict(span value.Span) (string, error) {
	if p.Kind != KindValue {
		return "", shellerr.NewSpanned(shellerr.KindTypeMismatch, "expected string input",
			shellerr.Span{Start: span.Start, End: span.End})
	}
	return p.val.AsString()
}

// FollowCellPath collects streaming data first, then navigates the result.
func (p PipelineData) FollowCellPath(path value.CellPath, span value.Span) (value.Value, error) {
	v, err := p.IntoValue(span)
	if err != nil {
		return value.Value{}, err
	}
	return value.Follow(v, path)
}

// UpsertCellPath collects streaming data first, mutates at path, and
// returns the updated PipelineData as a single Value.
func (p PipelineData) UpsertCellPath(path value.CellPath, newValue value.Value, span value.Span) (PipelineData, error) {
	v, err := p.IntoValue(span)
	if err != nil {
		return PipelineData{}, err
	}
	updated, err := value.Upsert(v, path, newValue)
	if err != nil {
		return PipelineData{}, err
	}
	return FromValue(updated).SetMetadata(p.metadata), nil
}

// Map applies f to every item, lazily for a ListStream or a Range, and
// eagerly (after fully buffering stdout into memory and classifying it) for
// an ExternalStream with stdout.
func (p PipelineData) Map(f func(value.Value) (value.Value, error), span value.Span) (PipelineData, error) {
	switch p.Kind {
	case KindListStream:
		return FromListStream(p.list.Map(f)).SetMetadata(p.metadata), nil
	case KindValue:
		ls, err := listStreamFromValue(p.val, span)
		if err != nil {
			return PipelineData{}, err
		}
		return FromListStream(ls.Map(f)).SetMetadata(p.metadata), nil
	case KindExternalStream:
		v, err := p.ext.IntoValue(span)
		if err != nil {
			return PipelineData{}, err
		}
		mapped, err := f(v)
		if err != nil {
			return PipelineData{}, err
		}
		return FromValue(mapped).SetMetadata(p.metadata), nil
	default:
		return p, nil
	}
}

// Filter keeps items for which f returns true, with the same laziness
// contract as Map.
func (p PipelineData) Filter(f func(value.Value) (bool, error), span value.Span) (PipelineData, error) {
	switch p.Kind {
	case KindListStream:
		return FromListStream(p.list.Filter(f)).SetMetadata(p.metadata), nil
	case KindValue:
		ls, err := listStreamFromValue(p.val, span)
		if err != nil {
			return PipelineData{}, err
		}
		return FromListStream(ls.Filter(f)).SetMetadata(p.metadata), nil
	default:
		return p, nil
	}
}

// FlatMap applies f to every item and flattens the resulting slices.
func (p PipelineData) FlatMap(f func(value.Value) ([]value.Value, error), span value.Span) (PipelineData, error) {
	ls, err := p.IntoIterStrict(span)
	if err != nil {
		return PipelineData{}, err
	}
	return FromListStream(ls.FlatMap(f)).SetMetadata(p.metadata), nil
}

// IsExternalFailed reports whether p is an ExternalStream with no
// redirected stdout whose exit code was non-zero — the only case that
// signals "no more commands to execute currently" between `;`-separated
// statements. An ExternalStream with a redirected stdout is not consulted
// here at all: its stdout is still pending consumption elsewhere, so this
// returns false without touching exit code or stderr. Non-external data
// never counts as failed. Stderr is drained (in the spec's stderr-then-
// stdout-then-exit-code order) before the exit code is read, since the
// exit code producer can otherwise block behind unread stderr output.
func (p PipelineData) IsExternalFailed() (bool, error) {
	if p.Kind != KindExternalStream || p.ext.Stdout != nil {
		return false, nil
	}
	if p.ext.Stderr != nil {
		if err := p.ext.Stderr.Drain(); err != nil {
			return false, err
		}
	}
	code, err := p.ext.ExitCode.Wait()
	return code != 0, err
}

// TryExpandRange materializes a Range-valued PipelineData into a List,
// rejecting infinite/unbounded ranges before collection.
func (p PipelineData) TryExpandRange(span value.Span) (PipelineData, error) {
	if p.Kind != KindValue || p.val.Kind != value.KindRange {
		return p, nil
	}
	rg, _ := p.val.AsRange()
	items, err := rg.TryExpand(span)
	if err != nil {
		return PipelineData{}, err
	}
	return FromValue(value.List(items, span)).SetMetadata(p.metadata), nil
}

// listStreamFromValue converts a materialized Value to its natural
// ListStream form: list -> elements, binary -> bytes-as-ints, range ->
// values, anything else -> error.
func listStreamFromValue(v value.Value, span value.Span) (*ListStream, error) {
	switch v.Kind {
	case value.KindList:
		items, _ := v.AsList()
		return NewListStreamFromSlice(items), nil
	case value.KindBinary:
		raw, _ := v.AsBinary()
		items := make([]value.Value, len(raw))
		for i, b := range raw {
			items[i] = value.Int(int64(b), v.Span)
		}
		return NewListStreamFromSlice(items), nil
	case value.KindRange:
		rg, _ := v.AsRange()
		return newRangeListStream(rg, v.Span), nil
	case value.KindError:
		inner, _ := v.AsError()
		return nil, inner
	default:
		return nil, shellerr.NewSpanned(shellerr.KindTypeMismatch,
			"only supports list/binary/range input", shellerr.Span{Start: span.Start, End: span.End})
	}
}
