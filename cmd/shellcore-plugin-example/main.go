// Command shellcore-plugin-example is a sample out-of-process plugin
// exercising the full plugin ABI: a required int, a required string, a
// boolean switch, an optional positional, a named flag, and a rest
// parameter — the same parameter shapes nu_plugin_example's "example1"
// signature demonstrates.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
	"github.com/opal-lang/shellcore/runtime/pipeline"
	"github.com/opal-lang/shellcore/runtime/plugin"
)

// configSchemaJSON constrains the `--config` flag to a record with a
// required "retries" integer and an optional "url" string, demonstrating
// Flag.RecordSchema structural validation end to end.
const configSchemaJSON = `{
	"type": "object",
	"properties": {
		"retries": {"type": "integer", "minimum": 0},
		"url": {"type": "string"}
	},
	"required": ["retries"],
	"additionalProperties": false
}`

var configSchema = mustCompileConfigSchema()

func mustCompileConfigSchema() *jsonschema.Schema {
	schema, err := command.CompileRecordSchema("shellcore-example-config.json", []byte(configSchemaJSON))
	if err != nil {
		panic(err)
	}
	return schema
}

func main() {
	// Every diagnostic goes to stderr: writing to stdout would corrupt the
	// framed protocol the host is decoding from this process's stdout pipe.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := plugin.ServeStdio([]command.Command{exampleCommand{}}); err != nil {
		fmt.Fprintln(os.Stderr, "shellcore-plugin-example:", err)
		os.Exit(1)
	}
}

type exampleCommand struct{}

func (exampleCommand) Name() string       { return "shellcore-example" }
func (exampleCommand) Usage() string      { return "PluginSignature example 1 for plugin development" }
func (exampleCommand) ExtraUsage() string { return "" }

func (exampleCommand) Examples() []command.Example {
	return []command.Example{
		{Description: "Print values", Example: "shellcore-example 3 'bb' 4 --flag --named foo r1 r2 r3"},
	}
}

func (exampleCommand) IsPlugin() (command.PluginInfo, bool) {
	return command.PluginInfo{}, true
}

func (exampleCommand) Signature() command.Signature {
	return command.Signature{
		Name: "shellcore-example",
		Positional: []command.PositionalArg{
			{Name: "a", Desc: "required integer value", Shape: command.TypeInt},
			{Name: "b", Desc: "required string value", Shape: command.TypeString},
			{Name: "opt", Desc: "optional integer value", Shape: command.TypeInt, Optional: true},
		},
		Rest: &command.PositionalArg{Name: "rest", Desc: "rest value string", Shape: command.TypeString},
		Named: []command.Flag{
			{Long: "flag", Desc: "a flag for the signature", Shape: command.TypeNothing},
			{Long: "named", Desc: "named string", Shape: command.TypeString},
			{Long: "config", Desc: "structured retry/url options", Shape: command.TypeRecord, RecordSchema: configSchema},
		},
	}
}

func (exampleCommand) Run(ctx command.EngineContext, call *command.Call, input pipeline.PipelineData) (pipeline.PipelineData, error) {
	a, err := call.RequiredPositional(0, command.TypeInt, "a")
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	b, err := call.RequiredPositional(1, command.TypeString, "b")
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	flag := call.HasFlag("flag")
	opt, hasOpt, err := call.OptionalPositional(2, command.TypeInt, "opt")
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	named, hasNamed, err := call.Named("named", command.TypeString)
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	config, hasConfig, err := call.Named("config", command.TypeRecord)
	if err != nil {
		return pipeline.PipelineData{}, err
	}
	rest := call.Rest(3)

	slog.Debug("shellcore-example invoked", "a", a.Debug(), "b", b.Debug(), "flag", flag)
	if hasOpt {
		slog.Debug("optional value found", "opt", opt.Debug())
	} else {
		slog.Debug("no optional value found")
	}
	if hasNamed {
		slog.Debug("named value found", "named", named.Debug())
	} else {
		slog.Debug("no named value found")
	}
	slog.Debug("rest values", "count", len(rest))

	rec := value.NewRecord()
	rec.Insert("a", a)
	rec.Insert("b", b)
	rec.Insert("flag", value.Bool(flag, call.Span))
	if hasOpt {
		rec.Insert("opt", opt)
	}
	if hasNamed {
		rec.Insert("named", named)
	}
	if hasConfig {
		rec.Insert("config", config)
	}
	if len(rest) > 0 {
		rec.Insert("rest", value.List(rest, call.Span))
	}
	return pipeline.FromValue(value.RecordValue(rec, call.Span)), nil
}
