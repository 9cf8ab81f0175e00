package plugin

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// ConfigPrefix is the prefix ConfigKeyFor puts in front of a plugin name,
// e.g. "inc" -> "shellcore_inc". GetConfig engine-calls do not use it:
// HandleEngineCall looks a plugin's override up by its plain name and
// otherwise answers with the whole session configuration record.
const ConfigPrefix = "shellcore_"

// Process is one spawned plugin child: its OS process, the duplex
// connection layered over its stdin/stdout, and the identity fingerprint
// every CustomValue it mints is stamped with.
type Process struct {
	Name     string
	Path     string
	Identity Identity

	cmd  *exec.Cmd
	conn *Conn

	engineCtx command.EngineContext
}

// Launch spawns the plugin binary at path, completes the Hello handshake,
// and starts its read loop. engineCtx services GetConfig/EvalClosure
// engine-calls the plugin issues mid-Run, routed back to whichever
// evaluator Stack originated the call.
func Launch(name, path string, engineCtx command.EngineContext) (*Process, error) {
	cmd := exec.Command(path, "--stdio")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, shellerr.Wrap(shellerr.KindPluginLoad, "open plugin stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, shellerr.Wrap(shellerr.KindPluginLoad, "open plugin stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, shellerr.Wrap(shellerr.KindPluginLoad, fmt.Sprintf("launch plugin %q", name), err)
	}

	p := &Process{Name: name, Path: path, cmd: cmd, engineCtx: engineCtx}
	conn, err := NewConn(stdout, stdin, nil, p)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	p.conn = conn

	go func() {
		_ = conn.Serve()
	}()

	hello, err := conn.SendHello()
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, shellerr.Wrap(shellerr.KindPluginLoad, fmt.Sprintf("plugin %q handshake failed", name), err)
	}
	p.Identity = ComputeIdentity(filepath.Base(path), hello.Version)
	return p, nil
}

// pluginConfigSource is an optional capability an EngineContext may
// implement to supply a plugin-specific config override (runtime/eval's
// Stack does, backed by the session's YAML-loaded Config.PluginConfigBlocks)
// in place of the whole session configuration record.
type pluginConfigSource interface {
	PluginConfig(name string) (value.Value, bool, error)
}

// HandleEngineCall answers a plugin's GetConfig/EvalClosure request by
// delegating to the evaluator Stack that launched this process, satisfying
// EngineCallHandler.
func (p *Process) HandleEngineCall(call EngineCallEnvelope) EngineCallResponseEnvelope {
	switch call.Kind {
	case EngineCallGetConfig:
		if src, ok := p.engineCtx.(pluginConfigSource); ok {
			if v, found, err := src.PluginConfig(p.Name); err != nil {
				return errEngineResp(err)
			} else if found {
				return EngineCallResponseEnvelope{Kind: EngineCallResponseConfig, Config: &v}
			}
		}
		cfg := p.engineCtx.Config()
		return EngineCallResponseEnvelope{Kind: EngineCallResponseConfig, Config: &cfg}
	case EngineCallEvalClosure:
		if call.EvalClosure == nil {
			return errEngineResp(shellerr.New(shellerr.KindPluginLoad, "missing eval_closure payload"))
		}
		input := ReceivePipelineData(p.conn, call.EvalClosure.InputHeader)
		result, err := p.engineCtx.EvalClosure(call.EvalClosure.Closure, call.EvalClosure.Positional, input)
		if err != nil {
			return errEngineResp(err)
		}
		hdr, err := SendPipelineData(p.conn, result, value.Span{})
		if err != nil {
			return errEngineResp(err)
		}
		return EngineCallResponseEnvelope{Kind: EngineCallResponsePipelineData, Data: &hdr}
	default:
		return errEngineResp(shellerr.New(shellerr.KindPluginLoad, "unknown engine call kind"))
	}
}

func errEngineResp(err error) EngineCallResponseEnvelope {
	return EngineCallResponseEnvelope{Kind: EngineCallResponseError, Error: toWireError(err)}
}

// toWireError flattens a ShellError (or any error) into the cbor-friendly
// LabeledErrorWire shape carried in a CallResponse/EngineCallResponse.
func toWireError(err error) *LabeledErrorWire {
	if se, ok := err.(*shellerr.ShellError); ok {
		return &LabeledErrorWire{Kind: string(se.Kind), Msg: se.Msg, Help: se.Help}
	}
	return &LabeledErrorWire{Kind: string(shellerr.KindGeneric), Msg: err.Error()}
}

// QuerySignatures issues a Signature plugin-call and returns the
// declarations this plugin advertises.
func (p *Process) QuerySignatures() ([]SignatureWire, error) {
	resp, err := p.conn.Call(CallEnvelope{Kind: PluginCallSignature})
	if err != nil {
		return nil, err
	}
	if resp.Kind == PluginCallResponseError && resp.Error != nil {
		return nil, shellerr.New(shellerr.Kind(resp.Error.Kind), resp.Error.Msg)
	}
	return resp.Signatures, nil
}

// Stop ends the connection and waits for the child to exit, classifying a
// signal-killed child distinctly from a clean exit.
func (p *Process) Stop() error {
	if closer, ok := p.cmd.Stdin.(io.Closer); ok {
		_ = closer.Close()
	}
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code, signaled, sig := classifyExit(exitErr.ProcessState)
		if signaled {
			return shellerr.New(shellerr.KindPluginLoad, fmt.Sprintf("plugin %q was killed by signal %s", p.Name, sig))
		}
		return shellerr.New(shellerr.KindPluginLoad, fmt.Sprintf("plugin %q exited with code %d", p.Name, code))
	}
	return shellerr.Wrap(shellerr.KindPluginLoad, fmt.Sprintf("plugin %q wait failed", p.Name), err)
}

// PluginCommand wraps one declaration a plugin advertises as a
// command.Command, forwarding Run over the host connection and
// reconstructing a lazy PipelineData from the response.
type PluginCommand struct {
	proc *Process
	name string
	wire SignatureWire
}

var _ command.Command = (*PluginCommand)(nil)

func (c *PluginCommand) Name() string       { return c.name }
func (c *PluginCommand) Usage() string      { return c.wire.Usage }
func (c *PluginCommand) ExtraUsage() string { return "" }
func (c *PluginCommand) Examples() []command.Example { return nil }

func (c *PluginCommand) IsPlugin() (command.PluginInfo, bool) {
	return command.PluginInfo{Path: c.proc.Path}, true
}

func (c *PluginCommand) Signature() command.Signature {
	return command.Signature{
		Name: c.name,
		Rest: &command.PositionalArg{Name: "args", Shape: command.TypeAny},
	}
}

func (c *PluginCommand) Run(ctx command.EngineContext, call *command.Call, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	args := toEvaluatedArgs(call)
	cfg := ctx.Config()
	inHdr, err := SendPipelineData(c.proc.conn, input, call.Span)
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	resp, err := c.proc.conn.Call(CallEnvelope{
		Kind: PluginCallRun,
		Run:  &CallInfo{Name: c.name, Args: args, Input: inHdr, Config: &cfg},
	})
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	if resp.Kind == PluginCallResponseError && resp.Error != nil {
		return pipeline.PipelineData{}, shellerr.New(shellerr.Kind(resp.Error.Kind), resp.Error.Msg).WithHelp(resp.Error.Help)
	}
	if resp.Data == nil {
		return pipeline.Empty(), nil
	}
	result := ReceivePipelineData(c.proc.conn, *resp.Data)
	if v, ok := result.Value(); ok {
		if cv, err := v.AsCustomValue(); err == nil {
			if err := VerifyOwner(cv, c.proc.Identity); err != nil {
				return pipeline.PipelineData{}, err
			}
		}
	}
	return result, nil
}

func toEvaluatedArgs(call *command.Call) []EvaluatedArg {
	pos := call.Positionals()
	out := make([]EvaluatedArg, len(pos))
	for i := range pos {
		v := pos[i]
		out[i] = EvaluatedArg{Kind: "positional", Val: &v}
	}
	return out
}

// Registry tracks every launched plugin process by name and can watch the
// plugin directory so a replaced binary stops and unregisters its process.
type Registry struct {
	mu        sync.Mutex
	processes map[string]*Process
	watcher   *fsnotify.Watcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{processes: make(map[string]*Process)}
}

// Register adds an already-launched process under name.
func (r *Registry) Register(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[p.Name] = p
}

// Lookup returns the registered process for name.
func (r *Registry) Lookup(name string) (*Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[name]
	return p, ok
}

// ConfigKeyFor returns the config record key a plugin named name should be
// looked up under, e.g. "inc" -> "shellcore_inc".
func ConfigKeyFor(name string) string {
	return ConfigPrefix + strings.TrimPrefix(name, ConfigPrefix)
}

// Watch starts watching dir for plugin binary replacement, invalidating
// (stopping and removing) the registered process whose Path changed; a
// later Lookup of that name reports it missing, and the Registry does not
// relaunch it.
func (r *Registry) Watch(dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return shellerr.Wrap(shellerr.KindPluginLoad, "start plugin directory watcher", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return shellerr.Wrap(shellerr.KindPluginLoad, "watch plugin directory", err)
	}
	r.watcher = w
	go r.watchLoop()
	return nil
}

func (r *Registry) watchLoop() {
	for event := range r.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
			continue
		}
		r.invalidate(event.Name)
	}
}

func (r *Registry) invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, p := range r.processes {
		if p.Path == path {
			_ = p.Stop()
			delete(r.processes, name)
		}
	}
}

// Close stops every registered plugin and the directory watcher.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.processes {
		_ = p.Stop()
	}
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
}
