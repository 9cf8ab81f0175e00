// Package eval implements the IR evaluator: the register-machine step loop,
// the per-call Stack (variables, argument frames, redirections, env), the
// error handler stack, and the declaration registry that resolves a Call's
// DeclID to a runnable command.
package eval

import (
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// Redirection describes one pending stdout/stderr destination captured by a
// RedirectOut/RedirectErr instruction and consumed by the next Call.
type Redirection struct {
	Path   string
	Append bool
}

// Stack is the evaluation context threaded through one call chain: a
// lexical mapping from variable id to Value, the shared argument stack, the
// error handler stack, pending redirection state, and environment
// variables. It is cheap to fork for a closure invocation (variables/env
// copy by value at the Go map level the same way the teacher's executor
// context forks scopes per nested command).
type Stack struct {
	vars   map[uint32]value.Value
	env    map[string]value.Value
	args   command.ArgumentStack
	errors ErrorHandlerStack

	pendingOut *Redirection
	pendingErr *Redirection

	openArgsBase *int

	engine *EngineState
}

// NewStack creates an empty evaluation context bound to engine.
func NewStack(engine *EngineState) *Stack {
	return &Stack{
		vars:   make(map[uint32]value.Value),
		env:    make(map[string]value.Value),
		engine: engine,
	}
}

// Fork creates a child Stack for a closure/block invocation, copying the
// current variable and env bindings (so mutations inside the child do not
// leak to the caller) but sharing the engine and starting with fresh
// argument/error-handler stacks.
func (s *Stack) Fork() *Stack {
	child := NewStack(s.engine)
	for k, v := range s.vars {
		child.vars[k] = v
	}
	for k, v := range s.env {
		child.env[k] = v
	}
	return child
}

// LoadVariable reads a lexical variable binding.
func (s *Stack) LoadVariable(id uint32) (value.Value, bool) {
	v, ok := s.vars[id]
	return v, ok
}

// StoreVariable writes a lexical variable binding.
func (s *Stack) StoreVariable(id uint32, v value.Value) {
	s.vars[id] = v
}

// automaticVars are the evaluator-managed environment keys a user program
// may never StoreEnv directly: PWD and FILE_PWD are always derived from the
// process's/script's actual location, CURRENT_FILE names the script being
// evaluated, and LAST_EXIT_CODE is written only by the evaluator when a
// Collect instruction drains an external command's output.
var automaticVars = map[string]bool{
	"PWD":            true,
	"FILE_PWD":       true,
	"CURRENT_FILE":   true,
	"LAST_EXIT_CODE": true,
}

// Env reads an environment variable. Satisfies command.EngineContext.
func (s *Stack) Env(name string) (value.Value, bool) {
	v, ok := s.env[name]
	return v, ok
}

// StoreEnv writes an environment variable, rejecting automatic names.
func (s *Stack) StoreEnv(name string, v value.Value) error {
	if automaticVars[name] {
		return automaticEnvErr(name)
	}
	s.env[name] = v
	return nil
}

// setAutomaticEnv bypasses the automatic-variable guard for the evaluator's
// own writes (e.g. updating LAST_EXIT_CODE after an external command).
func (s *Stack) setAutomaticEnv(name string, v value.Value) {
	s.env[name] = v
}

// ExportEnv merges child's env bindings into s, implementing `export-env`
// semantics: a block evaluated for its environment side effects has its
// resulting env mapping merged back into the caller's Stack.
func (s *Stack) ExportEnv(child *Stack) {
	for k, v := range child.env {
		s.env[k] = v
	}
}

// Config returns the resolved host configuration. Satisfies
// command.EngineContext.
func (s *Stack) Config() value.Value {
	return s.engine.Config()
}

// PluginConfig evaluates the per-plugin config override registered for name
// in the session's Config.PluginConfigBlocks, if any. Satisfies the
// runtime/plugin package's optional pluginConfigSource capability.
func (s *Stack) PluginConfig(name string) (value.Value, bool, error) {
	return s.engine.PluginConfigValue(name)
}

// EvalClosure invokes a closure's compiled block with the given positional
// bindings and input, used both by user-facing commands like `each` and by
// a plugin's EvalClosure engine call. Satisfies command.EngineContext.
func (s *Stack) EvalClosure(c value.Closure, args []value.Value, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	block, err := s.engine.Block(c.BlockID)
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	child := s.Fork()
	for _, captured := range c.Captures {
		child.StoreVariable(captured.VarID, captured.Value)
	}
	for i, paramVarID := range block.CapturedVars {
		if i < len(args) {
			child.StoreVariable(paramVarID, args[i])
		}
	}
	return Run(s.engine, child, block, input)
}

// ArgStack exposes the shared argument stack to Call dispatch.
func (s *Stack) ArgStack() *command.ArgumentStack { return &s.args }

// ErrStack exposes the error handler stack to Call dispatch.
func (s *Stack) ErrStack() *ErrorHandlerStack { return &s.errors }

// TakeRedirections returns and clears any pending redirections, per the
// Call-dispatch contract: redirect_out/redirect_err apply to exactly the
// next call.
func (s *Stack) TakeRedirections() (out, errR *Redirection) {
	out, errR = s.pendingOut, s.pendingErr
	s.pendingOut, s.pendingErr = nil, nil
	return
}

// SetPendingRedirectOut records a RedirectOut instruction's target.
func (s *Stack) SetPendingRedirectOut(r Redirection) { s.pendingOut = &r }

// SetPendingRedirectErr records a RedirectErr instruction's target.
func (s *Stack) SetPendingRedirectErr(r Redirection) { s.pendingErr = &r }

// openArgsFrame lazily records args_base the first time an argument is
// pushed since the last call, so a Call instruction with no preceding
// PushPositional/PushFlag/PushNamed still resolves a well-defined
// (empty) frame.
func (s *Stack) openArgsFrame() int {
	if s.openArgsBase == nil {
		base := s.args.PushFrame()
		s.openArgsBase = &base
	}
	return *s.openArgsBase
}

// openArgsFrameBase returns the current call's args_base, opening an empty
// frame if nothing was pushed.
func (s *Stack) openArgsFrameBase() int {
	return s.openArgsFrame()
}

// clearOpenArgsFrame resets frame tracking after a Call instruction has run
// leave_frame, so the next argument push starts a fresh frame.
func (s *Stack) clearOpenArgsFrame() {
	s.openArgsBase = nil
}
