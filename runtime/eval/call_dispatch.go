package eval

import (
	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/ir"
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// dispatchCall implements the Call instruction's five-step contract: union
// span (already folded into command.NewCall from every pushed argument's
// span), capture-and-clear pending redirections so they apply to exactly
// this one call, declaration lookup, invoking Run, and guaranteeing
// leave_frame on both the success and failure paths.
func dispatchCall(engine *EngineState, stack *Stack, rf *RegisterFile, instr ir.Instruction, span value.Span) (step, error) {
	base := stack.openArgsFrameBase()
	length := stack.args.Len() - base
	defer func() {
		stack.args.LeaveFrame(base)
		stack.clearOpenArgsFrame()
	}()

	outR, errR := stack.TakeRedirections()

	decl, err := engine.Declaration(instr.DeclID)
	if err != nil {
		return step{}, err
	}

	call := command.NewCall(instr.DeclID, span, &stack.args, base, length)
	if err := call.ValidateNamedSchemas(decl.Signature()); err != nil {
		return step{}, err
	}
	input := rf.Get(instr.Src)

	result, err := decl.Run(stack, call, input)
	if err != nil {
		return step{}, err
	}

	result, err = applyRedirections(result, outR, errR, span)
	if err != nil {
		return step{}, err
	}

	if instr.CheckExternalFailed {
		failed, checkErr := result.IsExternalFailed()
		if checkErr != nil {
			return step{}, checkErr
		}
		if failed {
			code, _ := result.DrainWithExitCode()
			return step{}, shellerr.ExternalFailureError(code)
		}
	}

	rf.Set(instr.Dst, result)
	return step{kind: stepContinue}, nil
}

// applyRedirections writes a call's output to the requested file targets
// instead of letting it flow onward. For an ExternalStream each redirected
// byte stream is written out and removed, and the ExternalStream (still
// carrying any unredirected stream and its exit code) is returned; for any
// other data a stdout redirection collects and writes it and returns Empty
// in its place. redirect_out/redirect_err divert output for exactly the
// call they were captured from.
func applyRedirections(result pipeline.PipelineData, outR, errR *Redirection, span value.Span) (pipeline.PipelineData, error) {
	if outR == nil && errR == nil {
		return result, nil
	}

	if ext, ok := result.External(); ok {
		if outR != nil && ext.Stdout != nil {
			if err := writeByteStreamTo(ext.Stdout, *outR, span); err != nil {
				return pipeline.PipelineData{}, err
			}
			ext.Stdout = nil
		}
		if errR != nil && ext.Stderr != nil {
			if err := writeByteStreamTo(ext.Stderr, *errR, span); err != nil {
				return pipeline.PipelineData{}, err
			}
			ext.Stderr = nil
		}
		return pipeline.FromExternalStream(ext), nil
	}

	if outR != nil {
		v, err := result.IntoValue(span)
		if err != nil {
			return pipeline.PipelineData{}, err
		}
		if err := writeValueTo(v, *outR, span); err != nil {
			return pipeline.PipelineData{}, err
		}
		return pipeline.Empty(), nil
	}
	return result, nil
}

func writeByteStreamTo(bs *pipeline.ByteStream, r Redirection, span value.Span) error {
	w, err := openRedirectWriter(r, span)
	if err != nil {
		return err
	}
	raw, err := bs.ReadAll()
	if err != nil {
		_ = w.Close()
		return err
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func writeValueTo(v value.Value, r Redirection, span value.Span) error {
	w, err := openRedirectWriter(r, span)
	if err != nil {
		return err
	}
	var raw []byte
	switch v.Kind {
	case value.KindString, value.KindGlob:
		s, _ := v.AsString()
		raw = []byte(s)
	case value.KindBinary:
		raw, _ = v.AsBinary()
	default:
		raw = []byte(v.Debug())
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
