package eval

import (
	"io"
	"sync"

	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// tableDeclName is the well-known command name Print looks up to format
// non-external data before printing it, the same opt-in hook the
// specification describes ("if a tabular formatter declaration is
// installed, invoke it"). No built-in registers this name; a host session
// that wants tabular output registers its own "table" declaration.
const tableDeclName = "table"

// Print consumes p and writes it straight to the terminal, returning the
// exit code of an external command (0 for anything else). An
// ExternalStream is streamed directly to stdout/stderr without going
// through a formatter: stderr drains on a background goroutine so it can
// never deadlock behind an unread stdout. Everything else is first handed
// to the registered "table" declaration, if any, then rendered item by
// item with writeAllAndFlush.
func Print(engine *EngineState, stack *Stack, p pipeline.PipelineData, noNewline, toStderr bool) (int, error) {
	if ext, ok := p.External(); ok {
		return printExternal(engine, ext, toStderr)
	}

	formatted, err := applyTableFormatter(engine, stack, p)
	if err != nil {
		return 0, err
	}
	return 0, writeAllAndFlush(engine, formatted, noNewline, toStderr)
}

// PrintNotFormatted is print_not_formatted from the reference
// implementation: the same streaming/writing contract as Print, but never
// consults the "table" declaration — used by callers that want every
// value rendered on its own line regardless of a formatter being
// registered.
func PrintNotFormatted(engine *EngineState, p pipeline.PipelineData, noNewline, toStderr bool) (int, error) {
	if ext, ok := p.External(); ok {
		return printExternal(engine, ext, toStderr)
	}
	return 0, writeAllAndFlush(engine, p, noNewline, toStderr)
}

// applyTableFormatter runs the registered "table" declaration over p, or
// returns p unchanged if no such declaration is registered.
func applyTableFormatter(engine *EngineState, stack *Stack, p pipeline.PipelineData) (pipeline.PipelineData, error) {
	id, err := engine.FindDeclarationByName(tableDeclName)
	if err != nil {
		return p, nil
	}
	decl, err := engine.Declaration(id)
	if err != nil {
		return p, nil
	}
	base := stack.args.PushFrame()
	call := command.NewCall(id, value.Span{}, &stack.args, base, 0)
	defer stack.args.LeaveFrame(base)
	return decl.Run(stack, call, p)
}

// printExternal streams an ExternalStream's stdout/stderr directly to the
// terminal rather than collecting them, draining stderr on a background
// goroutine concurrently with stdout so neither pipe can fill up and block
// the child while the other is being read.
func printExternal(engine *EngineState, ext *pipeline.ExternalStream, toStderr bool) (int, error) {
	var wg sync.WaitGroup
	var stderrErr error
	if ext.Stderr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, stderrErr = ext.Stderr.WriteTo(engine.stderr)
		}()
	}

	var stdoutErr error
	if ext.Stdout != nil {
		w := engine.stdout
		if toStderr {
			w = engine.stderr
		}
		_, stdoutErr = ext.Stdout.WriteTo(w)
	}
	wg.Wait()

	if stdoutErr != nil {
		return 0, stdoutErr
	}
	if stderrErr != nil {
		return 0, stderrErr
	}
	if ext.ExitCode == nil {
		return 0, nil
	}
	return ext.ExitCode.Wait()
}

// writeAllAndFlush renders each item in p on its own write: a Value::Error
// item is always forced to stderr regardless of to_stderr, matching the
// reference implementation's rule that error diagnostics never leak to
// stdout; everything else renders through Value.Display, joined by "\n"
// (or nothing, if noNewline) and followed by a trailing newline unless
// noNewline was requested.
func writeAllAndFlush(engine *EngineState, p pipeline.PipelineData, noNewline, toStderr bool) error {
	items, err := printItems(p)
	if err != nil {
		return err
	}
	for _, item := range items {
		isErr := item.IsError()
		out := item.Display()
		if isErr {
			inner, _ := item.AsError()
			out = "Error: " + inner.Error()
		}
		if !noNewline {
			out += "\n"
		}
		w := engine.stdout
		if toStderr || isErr {
			w = engine.stderr
		}
		if _, err := io.WriteString(w, out); err != nil {
			return err
		}
	}
	return nil
}

// printItems projects p onto the sequence Print writes one element at a
// time: a ListStream's elements, a List Value's elements, or the single
// Value itself for any other materialized shape. Empty yields nothing.
func printItems(p pipeline.PipelineData) ([]value.Value, error) {
	switch {
	case p.Kind == pipeline.KindListStream:
		ls, _ := p.ListStream()
		return ls.Collect()
	case p.Kind == pipeline.KindValue:
		v, _ := p.Value()
		if v.Kind == value.KindList {
			items, _ := v.AsList()
			return items, nil
		}
		if v.Kind == value.KindNothing {
			return nil, nil
		}
		return []value.Value{v}, nil
	default:
		return nil, nil
	}
}
