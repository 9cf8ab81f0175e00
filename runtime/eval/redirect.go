package eval

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
)

// openRedirectWriter opens a redirection target. Append mode opens the file
// directly with O_APPEND, matching POSIX append semantics (which offers no
// atomicity guarantee anyway); overwrite mode writes to a sibling temp file
// and renames it into place on Close so a reader can never observe a
// partially-written destination.
func openRedirectWriter(r Redirection, span value.Span) (io.WriteCloser, error) {
	if dir := filepath.Dir(r.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, shellerr.Wrap(shellerr.KindExternalIO, "failed to create redirect target directory", err).WithSpan(shellerr.Span{Start: span.Start, End: span.End})
		}
	}

	if r.Append {
		f, err := os.OpenFile(r.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, shellerr.Wrap(shellerr.KindExternalIO, "failed to open redirect target", err).WithSpan(shellerr.Span{Start: span.Start, End: span.End})
		}
		return f, nil
	}

	tmpPath := r.Path + ".shellcore.tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, shellerr.Wrap(shellerr.KindExternalIO, "failed to open redirect target", err).WithSpan(shellerr.Span{Start: span.Start, End: span.End})
	}
	return &atomicWriter{f: f, final: r.Path}, nil
}

// atomicWriter buffers writes to a temp file and renames it over the final
// destination on Close, so a concurrent reader never observes a partial
// write.
type atomicWriter struct {
	f      *os.File
	final  string
	hadErr bool
}

func (w *atomicWriter) Write(b []byte) (int, error) {
	n, err := w.f.Write(b)
	if err != nil {
		w.hadErr = true
	}
	return n, err
}

func (w *atomicWriter) Close() error {
	if err := w.f.Close(); err != nil {
		w.hadErr = true
	}
	if w.hadErr {
		_ = os.Remove(w.f.Name())
		return shellerr.New(shellerr.KindExternalIO, "failed to write redirect target")
	}
	if runtime.GOOS == "windows" {
		_ = os.Remove(w.final)
	}
	return os.Rename(w.f.Name(), w.final)
}
