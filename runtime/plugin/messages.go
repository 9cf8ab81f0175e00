// Package plugin implements the plugin interface: the framed, multiplexed
// duplex message protocol between a host process and a child plugin
// process, including the Hello handshake, plugin-call/engine-call routing,
// and the stream bodies that carry PipelineData across the wire.
package plugin

import "github.com/opal-lang/shellcore/core/value"

// ProtocolInfo is exchanged in Hello: a version/feature bundle the receiver
// checks for compatibility before accepting any other message.
type ProtocolInfo struct {
	Version  string   `cbor:"version"`
	Features []string `cbor:"features"`
}

// MessageKind tags which variant of the top-level Message envelope is
// populated — cbor has no native tagged-union support, so the wire shape is
// one struct with every variant's fields optional, exactly the Kind +
// optional-fields idiom used throughout this codebase's in-memory types.
type MessageKind uint8

const (
	MsgHello MessageKind = iota
	MsgCall
	MsgCallResponse
	MsgEngineCall
	MsgEngineCallResponse
	MsgStream
)

// Message is the single envelope type framed and sent over the wire in
// both directions.
type Message struct {
	Kind MessageKind `cbor:"kind"`

	Hello *ProtocolInfo `cbor:"hello,omitempty"`

	Call             *CallEnvelope             `cbor:"call,omitempty"`
	CallResponse     *CallResponseEnvelope     `cbor:"call_response,omitempty"`
	EngineCall       *EngineCallEnvelope       `cbor:"engine_call,omitempty"`
	EngineCallResponse *EngineCallResponseEnvelope `cbor:"engine_call_response,omitempty"`
	Stream           *StreamMessage            `cbor:"stream,omitempty"`
}

// PluginCallKind tags CallEnvelope's payload.
type PluginCallKind uint8

const (
	PluginCallSignature PluginCallKind = iota
	PluginCallRun
	PluginCallCustomValueOp
)

// CallInfo is the evaluated call a Run plugin-call carries: the command
// name, its evaluated arguments (already coerced by the host's Call
// projection), an input pipeline-data header, and the plugin's resolved
// config.
type CallInfo struct {
	Name     string           `cbor:"name"`
	Args     []EvaluatedArg   `cbor:"args"`
	Input    PipelineDataHeader `cbor:"input"`
	Config   *value.Value     `cbor:"config,omitempty"`
}

// EvaluatedArg is one wire-encoded argument: Positional/Spread/Flag/Named,
// mirroring command.Argument's shape.
type EvaluatedArg struct {
	Kind string        `cbor:"kind"` // "positional" | "spread" | "flag" | "named"
	Name string        `cbor:"name,omitempty"`
	Val  *value.Value  `cbor:"val,omitempty"`
	Vals []value.Value `cbor:"vals,omitempty"`
}

// CustomValueOpKind tags an operation requested against an opaque custom
// value living inside a plugin.
type CustomValueOpKind uint8

const (
	CustomValueOpToBaseValue CustomValueOpKind = iota
	CustomValueOpDrop
)

// CallEnvelope is `Call(plugin_call_id, PluginCall)`.
type CallEnvelope struct {
	PluginCallID uint64 `cbor:"plugin_call_id"`
	Kind         PluginCallKind `cbor:"kind"`

	Run          *CallInfo         `cbor:"run,omitempty"`
	CustomValue  *CustomValue      `cbor:"custom_value,omitempty"`
	CustomValueOp CustomValueOpKind `cbor:"custom_value_op,omitempty"`
}

// PluginCallResponseKind tags CallResponseEnvelope's payload.
type PluginCallResponseKind uint8

const (
	PluginCallResponseSignature PluginCallResponseKind = iota
	PluginCallResponsePipelineData
	PluginCallResponseError
)

// LabeledErrorWire is the wire shape of a labeled error: the structured
// Kind/Msg/Help fields a ShellError carries, flattened for cbor transport.
type LabeledErrorWire struct {
	Kind string `cbor:"kind"`
	Msg  string `cbor:"msg"`
	Help string `cbor:"help,omitempty"`
}

// CallResponseEnvelope is `CallResponse(plugin_call_id, PluginCallResponse)`.
type CallResponseEnvelope struct {
	PluginCallID uint64 `cbor:"plugin_call_id"`
	Kind         PluginCallResponseKind `cbor:"kind"`

	Signatures []SignatureWire     `cbor:"signatures,omitempty"`
	Data       *PipelineDataHeader `cbor:"data,omitempty"`
	Error      *LabeledErrorWire   `cbor:"error,omitempty"`
}

// SignatureWire is the wire-transmissible projection of command.Signature,
// sent in response to a Signature plugin-call at registration time.
type SignatureWire struct {
	Name  string   `cbor:"name"`
	Usage string   `cbor:"usage"`
}

// EngineCallKind tags EngineCallEnvelope's payload: the only two
// engine-call variants a plugin may issue are GetConfig and EvalClosure.
type EngineCallKind uint8

const (
	EngineCallGetConfig EngineCallKind = iota
	EngineCallEvalClosure
)

// EngineCallEnvelope is `EngineCall{context, id, call}` — a plugin
// requesting a host service mid-Run.
type EngineCallEnvelope struct {
	Context uint64 `cbor:"context"` // originating plugin_call_id
	ID      uint64 `cbor:"id"`
	Kind    EngineCallKind `cbor:"kind"`

	EvalClosure *EvalClosureCall `cbor:"eval_closure,omitempty"`
}

// EvalClosureCall is EngineCall's EvalClosure payload.
type EvalClosureCall struct {
	Closure        value.Closure      `cbor:"closure"`
	Positional     []value.Value      `cbor:"positional"`
	InputHeader    PipelineDataHeader `cbor:"input_header"`
	RedirectStdout bool               `cbor:"redirect_stdout"`
	RedirectStderr bool               `cbor:"redirect_stderr"`
}

// EngineCallResponseKind tags EngineCallResponseEnvelope's payload.
type EngineCallResponseKind uint8

const (
	EngineCallResponseConfig EngineCallResponseKind = iota
	EngineCallResponsePipelineData
	EngineCallResponseError
)

// EngineCallResponseEnvelope answers an EngineCall.
type EngineCallResponseEnvelope struct {
	ID   uint64 `cbor:"id"`
	Kind EngineCallResponseKind `cbor:"kind"`

	Config *value.Value        `cbor:"config,omitempty"`
	Data   *PipelineDataHeader `cbor:"data,omitempty"`
	Error  *LabeledErrorWire   `cbor:"error,omitempty"`
}

// StreamMessageKind tags StreamMessage's payload: Data/End/Ack/Drop.
type StreamMessageKind uint8

const (
	StreamData StreamMessageKind = iota
	StreamEnd
	StreamAck
	StreamDrop
)

// StreamMessage is one `Stream(...)` frame.
type StreamMessage struct {
	StreamID uint64            `cbor:"stream_id"`
	Kind     StreamMessageKind `cbor:"kind"`

	Bytes  []byte        `cbor:"bytes,omitempty"`
	Values []value.Value `cbor:"values,omitempty"`
}

// PipelineDataHeaderKind tags which shape a pipeline-data header describes.
type PipelineDataHeaderKind uint8

const (
	HeaderEmpty PipelineDataHeaderKind = iota
	HeaderValue
	HeaderListStream
	HeaderExternalStream
)

// PipelineDataHeader carries no bytes: it describes how to reassemble a
// PipelineData on the receiving side. Stream bodies arrive as subsequent
// Stream messages referencing the stream_ids named here.
type PipelineDataHeader struct {
	Kind PipelineDataHeaderKind `cbor:"kind"`

	Value *value.Value `cbor:"value,omitempty"`

	ListStreamID uint64 `cbor:"list_stream_id,omitempty"`

	StdoutStreamID   uint64 `cbor:"stdout_stream_id,omitempty"`
	HasStdout        bool   `cbor:"has_stdout,omitempty"`
	StderrStreamID   uint64 `cbor:"stderr_stream_id,omitempty"`
	HasStderr        bool   `cbor:"has_stderr,omitempty"`
	ExitCodeStreamID uint64 `cbor:"exit_code_stream_id,omitempty"`
	HasExitCode      bool   `cbor:"has_exit_code,omitempty"`
	TrimEndNewline   bool   `cbor:"trim_end_newline,omitempty"`
}
