package plugin

import (
	"io"
	"sync"
	"sync/atomic"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/runtime/stream"
)

// CallHandler services an inbound Run/Signature/CustomValueOp plugin-call.
// Implemented by the plugin side (answering the host's Call) — the host
// side never receives inbound plugin-calls.
type CallHandler interface {
	HandleCall(CallEnvelope) CallResponseEnvelope
}

// EngineCallHandler services an inbound GetConfig/EvalClosure engine-call.
// Implemented by the host side (answering a plugin's EngineCall) — the
// plugin side never receives inbound engine-calls.
type EngineCallHandler interface {
	HandleEngineCall(EngineCallEnvelope) EngineCallResponseEnvelope
}

// Conn is one multiplexed duplex connection over the plugin protocol,
// symmetric between the host and plugin sides: each direction can both
// issue and answer calls, matching engine-calls being routed back to the
// originating host thread to avoid the deadlock of the host blocking on a
// plugin Run that itself blocks on an engine-call answered by that same
// thread.
type Conn struct {
	enc *Encoder
	dec *Decoder

	Streams *stream.Manager

	nextPluginCallID uint64
	nextEngineCallID uint64
	nextStreamID     uint64

	mu              sync.Mutex
	pendingCalls    map[uint64]chan CallResponseEnvelope
	pendingEngine   map[uint64]chan EngineCallResponseEnvelope
	pendingHello    chan ProtocolInfo

	callHandler   CallHandler
	engineHandler EngineCallHandler

	closed atomic.Bool
}

// NewConn wraps rw as one plugin-protocol connection. callHandler and
// engineHandler may be nil on the side that never serves that direction
// (a pure host passes a non-nil engineHandler and nil callHandler; a pure
// plugin the reverse).
func NewConn(r io.Reader, w io.Writer, callHandler CallHandler, engineHandler EngineCallHandler) (*Conn, error) {
	enc, err := NewEncoder(w)
	if err != nil {
		return nil, err
	}
	return &Conn{
		enc:           enc,
		dec:           NewDecoder(r),
		Streams:       stream.NewManager(),
		pendingCalls:  make(map[uint64]chan CallResponseEnvelope),
		pendingEngine: make(map[uint64]chan EngineCallResponseEnvelope),
		pendingHello:  make(chan ProtocolInfo, 1),
		callHandler:   callHandler,
		engineHandler: engineHandler,
	}, nil
}

// NewStreamID allocates the next stream_id this side of the connection
// will mint for an outgoing ListStream/ExternalStream body.
func (c *Conn) NewStreamID() stream.ID {
	return stream.ID(atomic.AddUint64(&c.nextStreamID, 1))
}

// Serve pumps decoded frames until the connection closes, dispatching each
// to its handler or to the pending-response channel that matches its id.
// It runs on its own goroutine and returns once the underlying reader fails
// or reaches EOF (returning nil for a clean EOF).
func (c *Conn) Serve() error {
	for {
		msg, err := c.dec.Decode()
		if err != nil {
			c.shutdown(err)
			if err == io.EOF {
				return nil
			}
			return err
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg Message) {
	switch msg.Kind {
	case MsgHello:
		if msg.Hello != nil {
			select {
			case c.pendingHello <- *msg.Hello:
			default:
			}
		}
	case MsgCall:
		c.handleInboundCall(*msg.Call)
	case MsgCallResponse:
		c.handleCallResponse(*msg.CallResponse)
	case MsgEngineCall:
		c.handleInboundEngineCall(*msg.EngineCall)
	case MsgEngineCallResponse:
		c.handleEngineCallResponse(*msg.EngineCallResponse)
	case MsgStream:
		c.handleStream(*msg.Stream)
	}
}

func (c *Conn) handleInboundCall(call CallEnvelope) {
	if c.callHandler == nil {
		return
	}
	go func() {
		resp := c.callHandler.HandleCall(call)
		resp.PluginCallID = call.PluginCallID
		_ = c.enc.Encode(Message{Kind: MsgCallResponse, CallResponse: &resp})
	}()
}

func (c *Conn) handleCallResponse(resp CallResponseEnvelope) {
	c.mu.Lock()
	ch, ok := c.pendingCalls[resp.PluginCallID]
	if ok {
		delete(c.pendingCalls, resp.PluginCallID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// handleInboundEngineCall services an engine-call issued by the plugin side
// on its own goroutine, so the connection's read loop is never blocked
// waiting on EvalClosure recursing back through this same connection.
func (c *Conn) handleInboundEngineCall(call EngineCallEnvelope) {
	if c.engineHandler == nil {
		return
	}
	go func() {
		resp := c.engineHandler.HandleEngineCall(call)
		resp.ID = call.ID
		_ = c.enc.Encode(Message{Kind: MsgEngineCallResponse, EngineCallResponse: &resp})
	}()
}

func (c *Conn) handleEngineCallResponse(resp EngineCallResponseEnvelope) {
	c.mu.Lock()
	ch, ok := c.pendingEngine[resp.ID]
	if ok {
		delete(c.pendingEngine, resp.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Conn) handleStream(sm StreamMessage) {
	id := stream.ID(sm.StreamID)
	switch sm.Kind {
	case StreamData:
		c.Streams.HandleData(id, stream.Data{Bytes: sm.Bytes, Values: sm.Values})
	case StreamEnd:
		c.Streams.HandleEnd(id)
	case StreamAck:
		c.Streams.HandleAck(id)
	case StreamDrop:
		c.Streams.HandleDrop(id)
	}
}

func (c *Conn) shutdown(err error) {
	c.closed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pendingCalls {
		ch <- CallResponseEnvelope{PluginCallID: id, Kind: PluginCallResponseError, Error: &LabeledErrorWire{
			Kind: string(shellerr.KindPluginLoad), Msg: "plugin connection closed",
		}}
	}
	for id, ch := range c.pendingEngine {
		ch <- EngineCallResponseEnvelope{ID: id, Kind: EngineCallResponseError, Error: &LabeledErrorWire{
			Kind: string(shellerr.KindPluginLoad), Msg: "plugin connection closed",
		}}
	}
	c.pendingCalls = make(map[uint64]chan CallResponseEnvelope)
	c.pendingEngine = make(map[uint64]chan EngineCallResponseEnvelope)
	close(c.pendingHello)
}

// Call sends a Call envelope and blocks for its matching CallResponse.
func (c *Conn) Call(call CallEnvelope) (CallResponseEnvelope, error) {
	if c.closed.Load() {
		return CallResponseEnvelope{}, shellerr.New(shellerr.KindPluginLoad, "plugin connection is closed")
	}
	id := atomic.AddUint64(&c.nextPluginCallID, 1)
	call.PluginCallID = id

	ch := make(chan CallResponseEnvelope, 1)
	c.mu.Lock()
	c.pendingCalls[id] = ch
	c.mu.Unlock()

	if err := c.enc.Encode(Message{Kind: MsgCall, Call: &call}); err != nil {
		c.mu.Lock()
		delete(c.pendingCalls, id)
		c.mu.Unlock()
		return CallResponseEnvelope{}, err
	}
	return <-ch, nil
}

// EngineCall sends an EngineCall envelope (issued by the plugin side,
// answered by the host) and blocks for its matching response. ctx names
// the plugin_call_id this engine-call is nested under, so the host can
// route GetConfig/EvalClosure back to the same EngineState/Stack frame
// servicing that Run.
func (c *Conn) EngineCall(ctx uint64, kind EngineCallKind, evalClosure *EvalClosureCall) (EngineCallResponseEnvelope, error) {
	if c.closed.Load() {
		return EngineCallResponseEnvelope{}, shellerr.New(shellerr.KindPluginLoad, "plugin connection is closed")
	}
	id := atomic.AddUint64(&c.nextEngineCallID, 1)
	env := EngineCallEnvelope{Context: ctx, ID: id, Kind: kind, EvalClosure: evalClosure}

	ch := make(chan EngineCallResponseEnvelope, 1)
	c.mu.Lock()
	c.pendingEngine[id] = ch
	c.mu.Unlock()

	if err := c.enc.Encode(Message{Kind: MsgEngineCall, EngineCall: &env}); err != nil {
		c.mu.Lock()
		delete(c.pendingEngine, id)
		c.mu.Unlock()
		return EngineCallResponseEnvelope{}, err
	}
	return <-ch, nil
}

// SendHello writes this side's Hello and waits for the peer's, delivered by
// Serve's dispatch loop (which must already be running on its own
// goroutine — SendHello never reads the connection directly, so it never
// races Serve for the next frame), failing the handshake (KindPluginLoad)
// on a protocol major-version mismatch before any other message is allowed
// to flow.
func (c *Conn) SendHello() (ProtocolInfo, error) {
	mine := HelloMessage()
	if err := c.enc.Encode(Message{Kind: MsgHello, Hello: &mine}); err != nil {
		return ProtocolInfo{}, err
	}
	peer, ok := <-c.pendingHello
	if !ok {
		return ProtocolInfo{}, shellerr.New(shellerr.KindPluginLoad, "connection closed before Hello was received")
	}
	if err := CheckCompatible(mine.Version, peer.Version); err != nil {
		return ProtocolInfo{}, err
	}
	return peer, nil
}

// SendStreamFrame lets a stream.Writer's emit callback serialize one
// StreamMessage onto this connection.
func (c *Conn) SendStreamFrame(sm StreamMessage) error {
	return c.enc.Encode(Message{Kind: MsgStream, Stream: &sm})
}
