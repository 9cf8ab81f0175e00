package plugin

import (
	"io"
	"os"
	"path/filepath"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// Server is the plugin-side half of the protocol: it advertises a fixed set
// of command.Command implementations over stdio and answers the host's
// Signature/Run/CustomValueOp plugin-calls, issuing GetConfig/EvalClosure
// engine-calls back to the host when a command's Run needs them.
type Server struct {
	conn     *Conn
	commands map[string]command.Command
	identity Identity
}

// Serve builds a Server reading r/writing w (ordinarily os.Stdin/os.Stdout)
// advertising cmds, completes the Hello handshake, and blocks pumping
// messages until the host closes the connection.
func Serve(r io.Reader, w io.Writer, cmds []command.Command) error {
	s := &Server{
		commands: make(map[string]command.Command, len(cmds)),
		identity: ComputeIdentity(filepath.Base(os.Args[0]), ProtocolVersion),
	}
	for _, c := range cmds {
		s.commands[c.Name()] = c
	}
	conn, err := NewConn(r, w, s, nil)
	if err != nil {
		return err
	}
	s.conn = conn

	serveErr := make(chan error, 1)
	go func() { serveErr <- conn.Serve() }()

	if _, err := conn.SendHello(); err != nil {
		return err
	}
	return <-serveErr
}

// ServeStdio is the entry point a plugin's main() calls.
func ServeStdio(cmds []command.Command) error {
	return Serve(os.Stdin, os.Stdout, cmds)
}

// HandleCall answers one plugin-call, satisfying CallHandler.
func (s *Server) HandleCall(call CallEnvelope) CallResponseEnvelope {
	switch call.Kind {
	case PluginCallSignature:
		sigs := make([]SignatureWire, 0, len(s.commands))
		for _, c := range s.commands {
			sigs = append(sigs, SignatureWire{Name: c.Name(), Usage: c.Usage()})
		}
		return CallResponseEnvelope{Kind: PluginCallResponseSignature, Signatures: sigs}
	case PluginCallRun:
		return s.handleRun(call)
	case PluginCallCustomValueOp:
		return s.handleCustomValueOp(call)
	default:
		return CallResponseEnvelope{Kind: PluginCallResponseError, Error: &LabeledErrorWire{
			Kind: string(shellerr.KindGeneric), Msg: "unknown plugin call kind",
		}}
	}
}

func (s *Server) handleRun(call CallEnvelope) CallResponseEnvelope {
	if call.Run == nil {
		return CallResponseEnvelope{Kind: PluginCallResponseError, Error: &LabeledErrorWire{Msg: "missing run payload"}}
	}
	cmd, ok := s.commands[call.Run.Name]
	if !ok {
		return CallResponseEnvelope{Kind: PluginCallResponseError, Error: &LabeledErrorWire{
			Kind: string(shellerr.KindPluginLoad), Msg: "unknown command: " + call.Run.Name,
		}}
	}

	argStack := &argStackFromWire{args: call.Run.Args}
	callProj := argStack.toCall()
	if err := callProj.ValidateNamedSchemas(cmd.Signature()); err != nil {
		return CallResponseEnvelope{Kind: PluginCallResponseError, Error: toWireError(err)}
	}
	ctx := &pluginEngineContext{conn: s.conn, callCtx: call.PluginCallID, config: call.Run.Config}
	input := ReceivePipelineData(s.conn, call.Run.Input)

	result, err := cmd.Run(ctx, callProj, input)
	if err != nil {
		return CallResponseEnvelope{Kind: PluginCallResponseError, Error: toWireError(err)}
	}
	hdr, err := SendPipelineData(s.conn, result, value.Span{})
	if err != nil {
		return CallResponseEnvelope{Kind: PluginCallResponseError, Error: toWireError(err)}
	}
	return CallResponseEnvelope{Kind: PluginCallResponsePipelineData, Data: &hdr}
}

// handleCustomValueOp answers a ToBaseValue or Drop request against an
// opaque value this plugin minted, refusing the op outright if the value's
// identity doesn't match this process's own (VerifyOwner), which can only
// happen if the host mis-routed the call to the wrong plugin instance.
func (s *Server) handleCustomValueOp(call CallEnvelope) CallResponseEnvelope {
	if call.CustomValue == nil {
		return CallResponseEnvelope{Kind: PluginCallResponseError, Error: &LabeledErrorWire{Msg: "missing custom value payload"}}
	}
	cv := *call.CustomValue

	switch call.CustomValueOp {
	case CustomValueOpDrop:
		if err := VerifyOwner(cv, s.identity); err != nil {
			return CallResponseEnvelope{Kind: PluginCallResponseError, Error: toWireError(err)}
		}
		return CallResponseEnvelope{Kind: PluginCallResponsePipelineData, Data: &PipelineDataHeader{Kind: HeaderEmpty}}
	case CustomValueOpToBaseValue:
		base, err := ToBaseValue(cv, s.identity, value.Span{})
		if err != nil {
			return CallResponseEnvelope{Kind: PluginCallResponseError, Error: toWireError(err)}
		}
		return CallResponseEnvelope{Kind: PluginCallResponsePipelineData, Data: &PipelineDataHeader{Kind: HeaderValue, Value: &base}}
	default:
		return CallResponseEnvelope{Kind: PluginCallResponseError, Error: &LabeledErrorWire{
			Kind: string(shellerr.KindGeneric), Msg: "unknown custom value op",
		}}
	}
}

// argStackFromWire replays a plugin-call's wire-encoded EvaluatedArgs onto a
// fresh command.ArgumentStack so cmd.Run can use the exact same Call
// projection a locally-dispatched command would receive.
type argStackFromWire struct {
	args  []EvaluatedArg
	stack command.ArgumentStack
}

func (a *argStackFromWire) toCall() *command.Call {
	base := a.stack.PushFrame()
	for _, arg := range a.args {
		switch arg.Kind {
		case "positional":
			if arg.Val != nil {
				a.stack.Push(command.Argument{Kind: command.ArgPositional, Val: *arg.Val, Span: arg.Val.Span})
			}
		case "spread":
			a.stack.Push(command.Argument{Kind: command.ArgSpread, Vals: arg.Vals})
		case "flag":
			a.stack.Push(command.Argument{Kind: command.ArgFlag, Name: arg.Name})
		case "named":
			if arg.Val != nil {
				a.stack.Push(command.Argument{Kind: command.ArgNamed, Name: arg.Name, Val: *arg.Val, Span: arg.Val.Span})
			}
		}
	}
	length := a.stack.Len() - base
	return command.NewCall(0, value.Span{}, &a.stack, base, length)
}

// pluginEngineContext is the plugin-side command.EngineContext: Env/Config
// are answered from the cached config snapshot the host sent with the Run
// call, and EvalClosure is proxied back to the host as an EngineCall
// tagged with the originating plugin_call_id.
type pluginEngineContext struct {
	conn    *Conn
	callCtx uint64
	config  *value.Value
}

func (p *pluginEngineContext) Env(name string) (value.Value, bool) {
	if p.config == nil {
		return value.Value{}, false
	}
	rec, err := p.config.AsRecord()
	if err != nil {
		return value.Value{}, false
	}
	return rec.Get(name)
}

func (p *pluginEngineContext) Config() value.Value {
	if p.config == nil {
		return value.Nothing(value.Span{})
	}
	return *p.config
}

func (p *pluginEngineContext) EvalClosure(c value.Closure, args []value.Value, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	inHdr, err := SendPipelineData(p.conn, input, value.Span{})
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	resp, err := p.conn.EngineCall(p.callCtx, EngineCallEvalClosure, &EvalClosureCall{
		Closure: c, Positional: args, InputHeader: inHdr,
	})
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	if resp.Kind == EngineCallResponseError && resp.Error != nil {
		return pipeline.PipelineData{}, shellerr.New(shellerr.Kind(resp.Error.Kind), resp.Error.Msg)
	}
	if resp.Data == nil {
		return pipeline.Empty(), nil
	}
	return ReceivePipelineData(p.conn, *resp.Data), nil
}
