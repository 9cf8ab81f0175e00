package eval

import (
	"path/filepath"
	"testing"

	"github.com/opal-lang/shellcore/core/ir"
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// globBlock builds a two-instruction block (LoadLiteral, Return) loading a LitGlob literal whose
// string payload is interned into the same Builder, since DataRef offsets
// only make sense against the Block that produced them.
func globBlock(s string, noExpand bool) *ir.Block {
	b := ir.NewBuilder(1)
	ref := b.InternString(s)
	idx := b.AddLiteral(ir.Literal{Kind: ir.LitGlob, Data: ref, NoExpand: noExpand})
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 0, Literal: idx}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 0}, value.Span{})
	return b.Build()
}

// literalBlock builds a two-instruction block that loads a literal into
// register 0 and returns it, for exercising Run without a real compiler.
func literalBlock(lit ir.Literal) *ir.Block {
	b := ir.NewBuilder(1)
	idx := b.AddLiteral(lit)
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 0, Literal: idx}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 0}, value.Span{})
	return b.Build()
}

func TestRunLoadLiteralAndReturn(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)
	block := literalBlock(ir.Literal{Kind: ir.LitInt, Int: 42})

	result, err := Run(engine, stack, block, pipeline.Empty())
	require.NoError(t, err)
	v, ok := result.Value()
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(42), i)
}

func TestRunBinaryOpAddition(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)

	b := ir.NewBuilder(3)
	lhsIdx := b.AddLiteral(ir.Literal{Kind: ir.LitInt, Int: 2})
	rhsIdx := b.AddLiteral(ir.Literal{Kind: ir.LitInt, Int: 3})
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 0, Literal: lhsIdx}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 1, Literal: rhsIdx}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpBinaryOp, Dst: 2, Src: 0, Src2: 1, BinOp: ir.BinAdd}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 2}, value.Span{})
	block := b.Build()

	result, err := Run(engine, stack, block, pipeline.Empty())
	require.NoError(t, err)
	v, _ := result.Value()
	i, _ := v.AsInt()
	assert.Equal(t, int64(5), i)
}

func TestRunBranchIfSkipsWhenFalse(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)

	b := ir.NewBuilder(2)
	condIdx := b.AddLiteral(ir.Literal{Kind: ir.LitBool, Bool: false})
	thenIdx := b.AddLiteral(ir.Literal{Kind: ir.LitInt, Int: 1})
	elseIdx := b.AddLiteral(ir.Literal{Kind: ir.LitInt, Int: 2})

	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 0, Literal: condIdx}, value.Span{})
	branchPC := b.Emit(ir.Instruction{Op: ir.OpBranchIf, Src: 0}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 1, Literal: thenIdx}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 1}, value.Span{})
	elsePC := b.Len()
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 1, Literal: elseIdx}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 1}, value.Span{})
	b.PatchTarget(branchPC, elsePC)

	result, err := Run(engine, stack, b.Build(), pipeline.Empty())
	require.NoError(t, err)
	v, _ := result.Value()
	i, _ := v.AsInt()
	assert.Equal(t, int64(2), i)
}

func TestRunIterateDrainsListStream(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)

	// reg0 = input stream; reg1 = loop item; reg2 = accumulator list
	b := ir.NewBuilder(3)
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 2, Literal: b.AddLiteral(ir.Literal{Kind: ir.LitNothing})}, value.Span{})
	loopPC := b.Emit(ir.Instruction{Op: ir.OpIterate, Dst: 1, Src: 0}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpListPush, Dst: 2, Src: 1}, value.Span{})
	jumpBackPC := b.Emit(ir.Instruction{Op: ir.OpJump}, value.Span{})
	b.PatchTarget(jumpBackPC, loopPC)
	endPC := b.Len()
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 2}, value.Span{})
	b.PatchTarget(loopPC, endPC)
	block := b.Build()

	items := []value.Value{value.Int(1, value.Span{}), value.Int(2, value.Span{}), value.Int(3, value.Span{})}
	input := pipeline.FromListStream(pipeline.NewListStreamFromSlice(items))

	result, err := Run(engine, stack, block, input)
	require.NoError(t, err)
	v, ok := result.Value()
	require.True(t, ok)
	assert.Equal(t, value.KindList, v.Kind)
}

func TestArgumentFrameBalanceAfterCall(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)
	engine.RegisterDeclaration(1, &echoCommand{})

	b := ir.NewBuilder(2)
	litIdx := b.AddLiteral(ir.Literal{Kind: ir.LitInt, Int: 7})
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 0, Literal: litIdx}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpPushPositional, Src: 0}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpCall, Dst: 1, Src: 0, DeclID: 1}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 1}, value.Span{})
	block := b.Build()

	before := stack.ArgStack().Len()
	result, err := Run(engine, stack, block, pipeline.Empty())
	require.NoError(t, err)
	assert.Equal(t, before, stack.ArgStack().Len())

	v, _ := result.Value()
	i, _ := v.AsInt()
	assert.Equal(t, int64(7), i)
}

func TestErrorHandlerBindsLabeledError(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)

	const varID = 9
	handlerBase := stack.ErrStack().PushFrame()
	stack.ErrStack().Push(ErrorHandler{TargetPC: 2, VarID: varID, HasVar: true})

	b := ir.NewBuilder(2)
	// reg0 holds a non-bool, triggering a type mismatch in the Not op
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 0, Literal: b.AddLiteral(ir.Literal{Kind: ir.LitInt, Int: 1})}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpNot, Dst: 1, Src: 0}, value.Span{}) // errors: Not requires bool
	b.Emit(ir.Instruction{Op: ir.OpLoadVariable, Dst: 1, VarID: varID}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 1}, value.Span{})

	result, err := Run(engine, stack, b.Build(), pipeline.Empty())
	require.NoError(t, err)
	stack.ErrStack().LeaveFrame(handlerBase)

	v, ok := result.Value()
	require.True(t, ok)
	require.Equal(t, value.KindRecord, v.Kind)
	rec, _ := v.AsRecord()
	_, hasMsg := rec.Get("msg")
	assert.True(t, hasMsg)
}

func TestExportEnvMergesIntoCaller(t *testing.T) {
	engine := NewEngineState()
	parent := NewStack(engine)
	child := parent.Fork()

	require.NoError(t, child.StoreEnv("SPAM", value.String("eggs", value.Span{})))
	parent.ExportEnv(child)

	v, ok := parent.Env("SPAM")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "eggs", s)
}

func TestAutomaticEnvRejected(t *testing.T) {
	for _, name := range []string{"LAST_EXIT_CODE", "PWD", "FILE_PWD", "CURRENT_FILE"} {
		engine := NewEngineState()
		stack := NewStack(engine)
		err := stack.StoreEnv(name, value.Int(0, value.Span{}))
		require.Error(t, err, "expected %q to be rejected as automatic", name)
	}
}

func TestGlobLiteralExpandsAgainstPWD(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)
	stack.setAutomaticEnv("PWD", value.String("/work/project", value.Span{}))

	result, err := Run(engine, stack, globBlock("foo.txt", false), pipeline.Empty())
	require.NoError(t, err)
	v, ok := result.Value()
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, filepath.Join("/work/project", "foo.txt"), s)
}

func TestGlobLiteralNoExpandPreservesLiteral(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)
	stack.setAutomaticEnv("PWD", value.String("/work/project", value.Span{}))

	result, err := Run(engine, stack, globBlock("foo.txt", true), pipeline.Empty())
	require.NoError(t, err)
	v, ok := result.Value()
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "foo.txt", s)
}

func TestGlobLiteralDashPreservedRegardlessOfNoExpand(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)
	stack.setAutomaticEnv("PWD", value.String("/work/project", value.Span{}))

	result, err := Run(engine, stack, globBlock("-", false), pipeline.Empty())
	require.NoError(t, err)
	v, ok := result.Value()
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "-", s)
}

func TestGlobLiteralAbsolutePathUnchanged(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)
	stack.setAutomaticEnv("PWD", value.String("/work/project", value.Span{}))

	result, err := Run(engine, stack, globBlock("/etc/hosts", false), pipeline.Empty())
	require.NoError(t, err)
	v, ok := result.Value()
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "/etc/hosts", s)
}

// echoCommand returns its first positional argument unchanged, used to
// exercise Call dispatch without depending on any real built-in.
type echoCommand struct{}

func (echoCommand) Name() string               { return "echo" }
func (echoCommand) Usage() string              { return "echo its argument" }
func (echoCommand) ExtraUsage() string         { return "" }
func (echoCommand) Examples() []command.Example { return nil }
func (echoCommand) IsPlugin() (command.PluginInfo, bool) { return command.PluginInfo{}, false }
func (echoCommand) Signature() command.Signature {
	return command.Signature{Name: "echo", Positional: []command.PositionalArg{{Name: "value", Shape: command.TypeAny}}}
}
func (echoCommand) Run(ctx command.EngineContext, call *command.Call, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	v, err := call.RequiredPositional(0, command.TypeAny, "value")
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	return pipeline.FromValue(v), nil
}

// failingExternalCommand returns an ExternalStream with no stdout (already
// inherited directly to the terminal) and a non-zero exit code, exercising
// the `;`-sequencing abort path.
type failingExternalCommand struct{}

func (failingExternalCommand) Name() string                                   { return "ext-fail" }
func (failingExternalCommand) Usage() string                                  { return "" }
func (failingExternalCommand) ExtraUsage() string                             { return "" }
func (failingExternalCommand) Examples() []command.Example                    { return nil }
func (failingExternalCommand) IsPlugin() (command.PluginInfo, bool)           { return command.PluginInfo{}, false }
func (failingExternalCommand) Signature() command.Signature                  { return command.Signature{Name: "ext-fail"} }
func (failingExternalCommand) Run(ctx command.EngineContext, call *command.Call, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	ext := &pipeline.ExternalStream{ExitCode: pipeline.NewExitCodeFuture(func() (int, error) { return 1, nil })}
	return pipeline.FromExternalStream(ext), nil
}

// markerCommand records whether it was ever invoked, used to prove a
// downstream statement did not run.
type markerCommand struct{ invoked *bool }

func (m *markerCommand) Name() string                                 { return "marker" }
func (m *markerCommand) Usage() string                                { return "" }
func (m *markerCommand) ExtraUsage() string                           { return "" }
func (m *markerCommand) Examples() []command.Example                  { return nil }
func (m *markerCommand) IsPlugin() (command.PluginInfo, bool)         { return command.PluginInfo{}, false }
func (m *markerCommand) Signature() command.Signature                { return command.Signature{Name: "marker"} }
func (m *markerCommand) Run(ctx command.EngineContext, call *command.Call, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	*m.invoked = true
	return pipeline.Empty(), nil
}

func TestExternalFailureAbortsSemicolonSequence(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)
	engine.RegisterDeclaration(1, &failingExternalCommand{})
	invoked := false
	engine.RegisterDeclaration(2, &markerCommand{invoked: &invoked})

	b := ir.NewBuilder(2)
	b.Emit(ir.Instruction{Op: ir.OpCall, Dst: 0, Src: 0, DeclID: 1, CheckExternalFailed: true}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpCall, Dst: 1, Src: 1, DeclID: 2}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 1}, value.Span{})
	block := b.Build()

	_, err := Run(engine, stack, block, pipeline.Empty())
	require.Error(t, err)
	assert.False(t, invoked, "the second `;`-joined statement must not execute after an external failure")
}

func TestExternalSuccessContinuesSemicolonSequence(t *testing.T) {
	engine := NewEngineState()
	stack := NewStack(engine)
	engine.RegisterDeclaration(1, &echoCommand{})
	invoked := false
	engine.RegisterDeclaration(2, &markerCommand{invoked: &invoked})

	b := ir.NewBuilder(2)
	litIdx := b.AddLiteral(ir.Literal{Kind: ir.LitInt, Int: 1})
	b.Emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: 0, Literal: litIdx}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpPushPositional, Src: 0}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpCall, Dst: 0, Src: 0, DeclID: 1, CheckExternalFailed: true}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpCall, Dst: 1, Src: 1, DeclID: 2}, value.Span{})
	b.Emit(ir.Instruction{Op: ir.OpReturn, Src: 1}, value.Span{})
	block := b.Build()

	_, err := Run(engine, stack, block, pipeline.Empty())
	require.NoError(t, err)
	assert.True(t, invoked, "a non-external (or successful) result must not abort the sequence")
}
