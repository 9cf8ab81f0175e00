package eval

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintWritesListItemsOnePerLine(t *testing.T) {
	engine := NewEngineState()
	var stdout, stderr bytes.Buffer
	engine.SetOutputs(&stdout, &stderr)
	stack := NewStack(engine)

	items := []value.Value{value.Int(1, value.Span{}), value.Int(2, value.Span{})}
	p := pipeline.FromValue(value.List(items, value.Span{}))

	code, err := Print(engine, stack, p, false, false)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "1\n2\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestPrintForcesErrorValueToStderr(t *testing.T) {
	engine := NewEngineState()
	var stdout, stderr bytes.Buffer
	engine.SetOutputs(&stdout, &stderr)
	stack := NewStack(engine)

	p := pipeline.FromValue(value.ErrorValue(assertErr{"boom"}, value.Span{}))
	_, err := Print(engine, stack, p, false, false)
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "boom")
}

func TestPrintUsesRegisteredTableDeclaration(t *testing.T) {
	engine := NewEngineState()
	var stdout, stderr bytes.Buffer
	engine.SetOutputs(&stdout, &stderr)
	engine.RegisterDeclaration(1, tableMarkerCommand{})
	stack := NewStack(engine)

	p := pipeline.FromValue(value.Int(7, value.Span{}))
	_, err := Print(engine, stack, p, false, false)
	require.NoError(t, err)
	assert.Equal(t, "formatted(7)\n", stdout.String())
}

func TestPrintExternalStreamPassesThroughDirectly(t *testing.T) {
	engine := NewEngineState()
	var stdout, stderr bytes.Buffer
	engine.SetOutputs(&stdout, &stderr)
	stack := NewStack(engine)

	ext := &pipeline.ExternalStream{
		Stdout:   pipeline.NewByteStream(chunksOnceEval([]byte("hi"))),
		Stderr:   pipeline.NewByteStream(chunksOnceEval([]byte("warn"))),
		ExitCode: pipeline.NewExitCodeFuture(func() (int, error) { return 3, nil }),
	}
	code, err := Print(engine, stack, pipeline.FromExternalStream(ext), false, false)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "hi", stdout.String())
	assert.Equal(t, "warn", stderr.String())
}

func chunksOnceEval(b []byte) func() ([]byte, bool, error) {
	sent := false
	return func() ([]byte, bool, error) {
		if sent || len(b) == 0 {
			return nil, false, nil
		}
		sent = true
		return b, true, nil
	}
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

// tableMarkerCommand stands in for a registered "table" declaration: it
// replaces whatever Value it receives with a fixed "formatted(...)" string
// so the test can observe that Print actually consulted it.
type tableMarkerCommand struct{}

func (tableMarkerCommand) Name() string                             { return "table" }
func (tableMarkerCommand) Usage() string                            { return "" }
func (tableMarkerCommand) ExtraUsage() string                       { return "" }
func (tableMarkerCommand) Examples() []command.Example              { return nil }
func (tableMarkerCommand) IsPlugin() (command.PluginInfo, bool)     { return command.PluginInfo{}, false }
func (tableMarkerCommand) Signature() command.Signature {
	return command.Signature{Name: "table"}
}
func (tableMarkerCommand) Run(ctx command.EngineContext, call *command.Call, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	v, err := input.IntoValue(call.Span)
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	s, _ := v.AsInt()
	return pipeline.FromValue(value.String("formatted("+strconv.FormatInt(s, 10)+")", call.Span)), nil
}
