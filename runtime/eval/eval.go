package eval

import (
	"log/slog"
	"os"
	"path/filepath"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/ir"
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// logger emits step-level diagnostics only when SHELLCORE_DEBUG_EVAL is set,
// the same opt-in-verbosity convention the teacher's own subsystems use
// rather than always logging at debug level.
var logger = newEvalLogger()

func newEvalLogger() *slog.Logger {
	level := slog.LevelWarn
	if os.Getenv("SHELLCORE_DEBUG_EVAL") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// stepResult tags what a single instruction dispatch asked the loop to do.
type stepKind uint8

const (
	stepContinue stepKind = iota
	stepBranch
	stepReturn
)

type step struct {
	kind   stepKind
	target int
	result pipeline.PipelineData
}

// Run executes block against stack starting from input, returning the
// block's final PipelineData. It loops on a program counter, dispatching
// each instruction and reacting to {Continue, Branch(target), Return(reg)}.
// Falling off the end of the instruction stream without a Return is an
// IR-integrity (compiler-bug) error, never a user-facing one.
func Run(engine *EngineState, stack *Stack, block *ir.Block, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	rf := AcquireRegisters(block.RegisterCount)
	defer rf.Release()

	if block.RegisterCount > 0 {
		rf.Set(0, input)
	}

	pc := 0
	for {
		if !block.Valid(pc) {
			return pipeline.PipelineData{}, shellerr.CompilerBug("program counter ran off the end of the instruction stream without Return")
		}
		instr := block.Instructions[pc]
		span := block.SpanAt(pc)

		logger.Debug("eval.step", "pc", pc, "op", instr.Op)

		st, err := dispatch(engine, stack, block, rf, instr, span, &pc)
		if err != nil {
			handled, newPC, herr := tryHandle(stack, err, span)
			if herr != nil {
				return pipeline.PipelineData{}, herr
			}
			if handled {
				pc = newPC
				continue
			}
			return pipeline.PipelineData{}, err
		}

		switch st.kind {
		case stepReturn:
			return st.result, nil
		case stepBranch:
			pc = st.target
		case stepContinue:
			pc++
		}
	}
}

// tryHandle binds a labeled error into the active handler's variable (if
// any) and reports the branch target, or handled=false if no handler is
// active in the current frame.
func tryHandle(stack *Stack, err error, span value.Span) (handled bool, target int, outErr error) {
	h, ok := stack.ErrStack().Active()
	if !ok {
		return false, 0, nil
	}
	if h.HasVar {
		labeled := shellerr.Label(err)
		rec := value.NewRecord()
		rec.Insert("msg", value.String(labeled.Msg, span))
		rec.Insert("debug", value.String(labeled.Debug, span))
		rec.Insert("raw", value.ErrorValue(labeled.Raw, span))
		stack.StoreVariable(h.VarID, value.RecordValue(rec, span))
	}
	return true, h.TargetPC, nil
}

// expandGlobLiteral applies the specification's path-literal expansion
// rule: a bare "-" is always preserved verbatim (it means stdin/stdout to
// the commands that accept it, never a relative path), noExpand keeps the
// compiled literal exactly as written, and an absolute path is left alone;
// any other literal, including one starting with "./" or "../", is
// joined against the current working directory so a relative literal like
// `foo.txt` resolves the same way regardless of where the evaluator itself
// happens to be running from.
func expandGlobLiteral(stack *Stack, s string, noExpand bool) string {
	if s == "-" || noExpand || filepath.IsAbs(s) {
		return s
	}
	return filepath.Join(currentWorkingDir(stack), s)
}

// currentWorkingDir prefers the session's own PWD binding (kept current by
// a `cd`-style command) and falls back to the process's actual working
// directory when no stack is available or PWD was never populated.
func currentWorkingDir(stack *Stack) string {
	if stack != nil {
		if v, ok := stack.Env("PWD"); ok {
			if s, err := v.AsString(); err == nil {
				return s
			}
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func litToValue(stack *Stack, block *ir.Block, lit ir.Literal, span value.Span) (value.Value, error) {
	switch lit.Kind {
	case ir.LitNothing:
		return value.Nothing(span), nil
	case ir.LitBool:
		return value.Bool(lit.Bool, span), nil
	case ir.LitInt:
		return value.Int(lit.Int, span), nil
	case ir.LitFloat:
		return value.Float(lit.Float, span), nil
	case ir.LitString:
		s, err := block.StringAt(lit.Data)
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s, span), nil
	case ir.LitBinary:
		b, err := block.BytesAt(lit.Data)
		if err != nil {
			return value.Value{}, err
		}
		return value.Binary(b, span), nil
	case ir.LitGlob:
		s, err := block.StringAt(lit.Data)
		if err != nil {
			return value.Value{}, err
		}
		return value.Glob(expandGlobLiteral(stack, s, lit.NoExpand), span), nil
	case ir.LitClosure:
		captures := make([]value.Captured, len(lit.ClosureCaptures))
		for i, varID := range lit.ClosureCaptures {
			v, ok := value.Value{}, false
			if stack != nil {
				v, ok = stack.LoadVariable(varID)
			}
			if !ok {
				v = value.Nothing(span)
			}
			captures[i] = value.Captured{VarID: varID, Value: v}
		}
		return value.ClosureValue(value.Closure{BlockID: lit.ClosureBlockID, Captures: captures}, span), nil
	default:
		return value.Value{}, shellerr.CompilerBug("unknown literal kind")
	}
}

func dispatch(engine *EngineState, stack *Stack, block *ir.Block, rf *RegisterFile, instr ir.Instruction, span value.Span, pc *int) (step, error) {
	switch instr.Op {
	case ir.OpLoadLiteral:
		lit, err := block.LiteralAt(instr.Literal)
		if err != nil {
			return step{}, err
		}
		v, err := litToValue(stack, block, lit, span)
		if err != nil {
			return step{}, err
		}
		rf.Set(instr.Dst, pipeline.FromValue(v))
		return step{kind: stepContinue}, nil

	case ir.OpMove:
		rf.Set(instr.Dst, rf.Get(instr.Src))
		rf.Set(instr.Src, pipeline.Empty())
		return step{kind: stepContinue}, nil

	case ir.OpClone:
		src := rf.Get(instr.Src)
		if src.Kind == pipeline.KindListStream || src.Kind == pipeline.KindExternalStream {
			return step{}, shellerr.CompilerBug("Clone applied to a stream register")
		}
		v, ok := src.Value()
		if ok {
			rf.Set(instr.Dst, pipeline.FromValue(v.Clone()))
		} else {
			rf.Set(instr.Dst, src)
		}
		return step{kind: stepContinue}, nil

	case ir.OpDrop:
		rf.Set(instr.Dst, pipeline.Empty())
		return step{kind: stepContinue}, nil

	case ir.OpCollect:
		md := rf.Get(instr.Src).Metadata()
		v, err := collectAndTrackExitCode(stack, rf, instr.Src, span)
		if err != nil {
			return step{}, err
		}
		rf.Set(instr.Dst, pipeline.FromValue(v).SetMetadata(md))
		return step{kind: stepContinue}, nil

	case ir.OpLoadVariable:
		v, ok := stack.LoadVariable(instr.VarID)
		if !ok {
			v = value.Nothing(span)
		}
		rf.Set(instr.Dst, pipeline.FromValue(v))
		return step{kind: stepContinue}, nil

	case ir.OpStoreVariable:
		v, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		stack.StoreVariable(instr.VarID, v)
		return step{kind: stepContinue}, nil

	case ir.OpLoadEnv, ir.OpLoadEnvOpt:
		name, err := block.StringAt(instr.Name)
		if err != nil {
			return step{}, err
		}
		v, ok := stack.Env(name)
		if !ok {
			if instr.Op == ir.OpLoadEnvOpt {
				v = value.Nothing(span)
			} else {
				return step{}, shellerr.EnvMissingError(name)
			}
		}
		rf.Set(instr.Dst, pipeline.FromValue(v))
		return step{kind: stepContinue}, nil

	case ir.OpStoreEnv:
		name, err := block.StringAt(instr.Name)
		if err != nil {
			return step{}, err
		}
		v, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		if err := stack.StoreEnv(name, v); err != nil {
			return step{}, err
		}
		return step{kind: stepContinue}, nil

	case ir.OpPushPositional:
		v, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		pushArg(stack, command.Argument{Kind: command.ArgPositional, Val: v, Span: v.Span})
		return step{kind: stepContinue}, nil

	case ir.OpAppendRest:
		v, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		items, err := v.AsList()
		if err != nil {
			return step{}, err
		}
		pushArg(stack, command.Argument{Kind: command.ArgSpread, Vals: items, Span: v.Span})
		return step{kind: stepContinue}, nil

	case ir.OpPushFlag:
		name, err := block.StringAt(instr.Name)
		if err != nil {
			return step{}, err
		}
		pushArg(stack, command.Argument{Kind: command.ArgFlag, Name: name, Span: span})
		return step{kind: stepContinue}, nil

	case ir.OpPushNamed:
		name, err := block.StringAt(instr.Name)
		if err != nil {
			return step{}, err
		}
		v, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		pushArg(stack, command.Argument{Kind: command.ArgNamed, Name: name, Val: v, Span: v.Span})
		return step{kind: stepContinue}, nil

	case ir.OpRedirectOut, ir.OpRedirectErr:
		path, err := block.StringAt(instr.Name)
		if err != nil {
			return step{}, err
		}
		r := Redirection{Path: path, Append: instr.Append}
		if instr.Op == ir.OpRedirectOut {
			stack.SetPendingRedirectOut(r)
		} else {
			stack.SetPendingRedirectErr(r)
		}
		return step{kind: stepContinue}, nil

	case ir.OpCall:
		return dispatchCall(engine, stack, rf, instr, span)

	case ir.OpListPush:
		acc, err := rf.GetValue(instr.Dst, span)
		if err != nil {
			return step{}, err
		}
		item, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		items, _ := acc.AsList()
		rf.Set(instr.Dst, pipeline.FromValue(value.List(append(items, item), span)))
		return step{kind: stepContinue}, nil

	case ir.OpListSpread:
		acc, err := rf.GetValue(instr.Dst, span)
		if err != nil {
			return step{}, err
		}
		spread, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		items, _ := acc.AsList()
		more, err := spread.AsList()
		if err != nil {
			return step{}, shellerr.NewSpanned(shellerr.KindSpreadShape, "cannot spread a non-list value into a list", shellerr.Span{Start: span.Start, End: span.End})
		}
		rf.Set(instr.Dst, pipeline.FromValue(value.List(append(items, more...), span)))
		return step{kind: stepContinue}, nil

	case ir.OpRecordInsert:
		accVal, err := rf.GetValue(instr.Dst, span)
		if err != nil {
			return step{}, err
		}
		var rec value.Record
		if accVal.Kind == value.KindRecord {
			rec, _ = accVal.AsRecord()
		} else {
			rec = value.NewRecord()
		}
		key, err := block.StringAt(instr.Name)
		if err != nil {
			return step{}, err
		}
		v, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		rec.Insert(key, v)
		rf.Set(instr.Dst, pipeline.FromValue(value.RecordValue(rec, span)))
		return step{kind: stepContinue}, nil

	case ir.OpRecordSpread:
		accVal, err := rf.GetValue(instr.Dst, span)
		if err != nil {
			return step{}, err
		}
		var rec value.Record
		if accVal.Kind == value.KindRecord {
			rec, _ = accVal.AsRecord()
		} else {
			rec = value.NewRecord()
		}
		spreadVal, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		other, err := spreadVal.AsRecord()
		if err != nil {
			return step{}, shellerr.NewSpanned(shellerr.KindSpreadShape, "cannot spread a non-record value into a record", shellerr.Span{Start: span.Start, End: span.End})
		}
		rec.Spread(other)
		rf.Set(instr.Dst, pipeline.FromValue(value.RecordValue(rec, span)))
		return step{kind: stepContinue}, nil

	case ir.OpNot:
		v, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		b, err := v.AsBool()
		if err != nil {
			return step{}, err
		}
		rf.Set(instr.Dst, pipeline.FromValue(value.Bool(!b, span)))
		return step{kind: stepContinue}, nil

	case ir.OpBinaryOp:
		lhs, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		rhs, err := rf.GetValue(instr.Src2, span)
		if err != nil {
			return step{}, err
		}
		result, err := evalBinOp(instr.BinOp, lhs, rhs, span)
		if err != nil {
			return step{}, err
		}
		rf.Set(instr.Dst, pipeline.FromValue(result))
		return step{kind: stepContinue}, nil

	case ir.OpFollowCellPath, ir.OpCloneCellPath:
		target, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		pathVal, err := rf.GetValue(instr.Src2, span)
		if err != nil {
			return step{}, err
		}
		path, err := pathVal.AsCellPath()
		if err != nil {
			return step{}, err
		}
		result, err := value.Follow(target, path)
		if err != nil {
			return step{}, err
		}
		if instr.Op == ir.OpCloneCellPath {
			result = result.Clone()
		}
		rf.Set(instr.Dst, pipeline.FromValue(result))
		return step{kind: stepContinue}, nil

	case ir.OpUpsertCellPath:
		target, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		pathVal, err := rf.GetValue(instr.Src2, span)
		if err != nil {
			return step{}, err
		}
		path, err := pathVal.AsCellPath()
		if err != nil {
			return step{}, err
		}
		newVal, err := rf.GetValue(ir.Reg(instr.Literal), span)
		if err != nil {
			return step{}, err
		}
		updated, err := value.Upsert(target, path, newVal)
		if err != nil {
			return step{}, err
		}
		rf.Set(instr.Dst, pipeline.FromValue(updated))
		return step{kind: stepContinue}, nil

	case ir.OpJump:
		return step{kind: stepBranch, target: instr.Target}, nil

	case ir.OpBranchIf:
		v, err := rf.GetValue(instr.Src, span)
		if err != nil {
			return step{}, err
		}
		cond, err := v.ToBool()
		if err != nil {
			return step{}, err
		}
		if cond {
			return step{kind: stepBranch, target: instr.Target}, nil
		}
		return step{kind: stepContinue}, nil

	case ir.OpReturn:
		return step{kind: stepReturn, result: rf.Get(instr.Src)}, nil

	case ir.OpIterate:
		return dispatchIterate(rf, instr, span)

	default:
		return step{}, shellerr.CompilerBug("unknown instruction opcode")
	}
}

func pushArg(stack *Stack, a command.Argument) {
	stack.openArgsFrame()
	stack.args.Push(a)
}

// collectAndTrackExitCode collects register src's PipelineData, updating
// LAST_EXIT_CODE if it was an ExternalStream — the draining-on-external
// policy: after a call whose output is collected, the evaluator updates the
// last-exit-code environment variable from the drained exit code.
func collectAndTrackExitCode(stack *Stack, rf *RegisterFile, src ir.Reg, span value.Span) (value.Value, error) {
	p := rf.Get(src)
	if ext, ok := p.External(); ok {
		v, err := ext.IntoValue(span)
		if err != nil {
			return value.Value{}, err
		}
		code, codeErr := ext.ExitCode.Wait()
		if codeErr == nil {
			stack.setAutomaticEnv("LAST_EXIT_CODE", value.Int(int64(code), span))
		}
		return v, nil
	}
	return p.IntoValue(span)
}

// dispatchIterate implements Iterate's exact pull protocol. Src holds the
// stream register; Dst receives either the next item or, on exhaustion,
// Empty followed by a branch to Target (end_index). Src2 is unused here —
// the instruction owns a stable "stream register" by always writing the
// remaining ListStream back to Src on every Continue.
func dispatchIterate(rf *RegisterFile, instr ir.Instruction, span value.Span) (step, error) {
	streamData := rf.Get(instr.Src)
	ls, ok := streamData.ListStream()
	if !ok {
		converted, err := streamData.IntoIterStrict(span)
		if err != nil {
			return step{}, err
		}
		ls = converted
	}
	v, hasItem, err := ls.Next()
	if err != nil {
		return step{}, err
	}
	if !hasItem {
		rf.Set(instr.Dst, pipeline.Empty())
		return step{kind: stepBranch, target: instr.Target}, nil
	}
	rf.Set(instr.Src, pipeline.FromListStream(ls))
	rf.Set(instr.Dst, pipeline.FromValue(v))
	return step{kind: stepContinue}, nil
}
