package pipeline

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/opal-lang/shellcore/core/value"
)

// byteChunkFunc produces the next chunk of raw output, ok=false at EOF.
type byteChunkFunc func() ([]byte, bool, error)

// ByteStream is a single-consumer, pull-based byte sequence backing an
// external process's stdout or stderr.
type ByteStream struct {
	pull     byteChunkFunc
	consumed bool
}

// NewByteStream wraps a raw chunk-producing function, e.g. one backed by
// repeated os.File.Read calls on a child's stdout pipe.
func NewByteStream(pull byteChunkFunc) *ByteStream {
	return &ByteStream{pull: pull}
}

// ReadAll drains the stream into a single buffer.
func (b *ByteStream) ReadAll() ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, ok, err := b.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return buf.Bytes(), nil
		}
		buf.Write(chunk)
	}
}

// Drain discards all remaining content, used when a caller only needs the
// side effect of the child having finished writing (e.g. checking exit
// status without caring about stderr text).
func (b *ByteStream) Drain() error {
	for {
		_, ok, err := b.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// WriteTo streams b's remaining chunks straight to w without buffering the
// whole content in memory, satisfying io.WriterTo — used to pass an
// external command's output through to the terminal instead of collecting
// it into a Value.
func (b *ByteStream) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for {
		chunk, ok, err := b.next()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		written, werr := w.Write(chunk)
		n += int64(written)
		if werr != nil {
			return n, werr
		}
	}
}

func (b *ByteStream) next() ([]byte, bool, error) {
	if b.consumed {
		return nil, false, nil
	}
	chunk, ok, err := b.pull()
	if err != nil || !ok {
		b.consumed = true
	}
	return chunk, ok, err
}

// ExitCodeFuture resolves to a child process's exit status once it has
// terminated, blocking the first caller of Wait and memoizing the result for
// any subsequent one.
type ExitCodeFuture struct {
	wait    func() (int, error)
	resolved bool
	code    int
	err     error
}

// NewExitCodeFuture wraps a blocking wait function, e.g. exec.Cmd.Wait
// translated to a process exit code.
func NewExitCodeFuture(wait func() (int, error)) *ExitCodeFuture {
	return &ExitCodeFuture{wait: wait}
}

// Wait blocks until the child has exited and returns its exit code.
func (f *ExitCodeFuture) Wait() (int, error) {
	if !f.resolved {
		f.code, f.err = f.wait()
		f.resolved = true
	}
	return f.code, f.err
}

// ExternalStream is PipelineData's representation of a running or finished
// external command: independently-drainable stdout/stderr byte streams plus
// a future exit code, exactly as the evaluator's Call execution produces for
// a CallExternal declaration.
type ExternalStream struct {
	Stdout         *ByteStream
	Stderr         *ByteStream
	ExitCode       *ExitCodeFuture
	Span           value.Span
	TrimEndNewline bool
}

// IntoValue drains stderr first (so a failing child's diagnostic output is
// never left buffered in a pipe the evaluator forgot to read), then stdout,
// classifying the result as String if valid UTF-8 or Binary otherwise, then
// resolves the exit code. This ordering is the spec-mandated drain sequence
// for external-command collection.
func (e *ExternalStream) IntoValue(span value.Span) (value.Value, error) {
	if e.Stderr != nil {
		if _, err := e.Stderr.ReadAll(); err != nil {
			return value.Value{}, err
		}
	}
	var out value.Value
	if e.Stdout != nil {
		raw, err := e.Stdout.ReadAll()
		if err != nil {
			return value.Value{}, err
		}
		if e.TrimEndNewline {
			raw = bytes.TrimSuffix(raw, []byte("\n"))
		}
		if utf8.Valid(raw) {
			out = value.String(string(raw), span)
		} else {
			out = value.Binary(raw, span)
		}
	} else {
		out = value.Nothing(span)
	}
	if e.ExitCode != nil {
		if _, err := e.ExitCode.Wait(); err != nil {
			return value.Value{}, err
		}
	}
	return out, nil
}

// DrainWithExitCode discards stdout/stderr and returns the exit code.
func (e *ExternalStream) DrainWithExitCode() (int, error) {
	if e.Stderr != nil {
		if err := e.Stderr.Drain(); err != nil {
			return 0, err
		}
	}
	if e.Stdout != nil {
		if err := e.Stdout.Drain(); err != nil {
			return 0, err
		}
	}
	if e.ExitCode == nil {
		return 0, nil
	}
	return e.ExitCode.Wait()
}
