package command

import (
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// Example is one documented usage shown in a command's help text.
type Example struct {
	Description string
	Example     string
	Expected    *value.Value
}

// PluginInfo reports the filename and optional interpreter path a
// plugin-backed declaration launches, or ok=false for a built-in.
type PluginInfo struct {
	Path      string
	ShellPath string
}

// EngineContext is the minimal read-mostly view of evaluator state a
// command's Run implementation needs: environment lookup, resolved config,
// and closure evaluation for commands that accept a block (`each`, `where`,
// a plugin's engine-call EvalClosure). Defined here rather than imported
// from runtime/eval so this package never depends on the evaluator —
// runtime/eval's Stack satisfies this interface instead.
type EngineContext interface {
	Env(name string) (value.Value, bool)
	Config() value.Value
	EvalClosure(c value.Closure, args []value.Value, input pipeline.PipelineData) (pipeline.PipelineData, error)
}

// Command is the ABI every built-in and every plugin-declaration wrapper
// implements; the evaluator's Call dispatch invokes Run uniformly for
// either kind.
type Command interface {
	Name() string
	Signature() Signature
	Usage() string
	ExtraUsage() string
	Examples() []Example
	Run(ctx EngineContext, call *Call, input pipeline.PipelineData) (pipeline.PipelineData, error)

	// IsPlugin reports the plugin binary/shell paths for a
	// plugin-declaration wrapper, or ok=false for a built-in.
	IsPlugin() (info PluginInfo, ok bool)
}
