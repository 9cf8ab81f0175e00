// Command shellcore-run loads a compiled IR block from a JSON file and
// evaluates it, printing the resulting value. It exists for development and
// debugging — producing a compiled block is out of scope for this module,
// so most callers feed it output from an external compiler.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opal-lang/shellcore/core/ir"
	"github.com/opal-lang/shellcore/runtime/eval"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	var configPath string

	root := &cobra.Command{
		Use:   "shellcore-run <block.json>",
		Short: "Evaluate a compiled IR block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			return runBlock(args[0], configPath)
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable step-level evaluator logging")
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML settings file (stream_high_water_mark, ui, plugin_config_blocks)")
	return root
}

func runBlock(path, configPath string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading block file: %w", err)
	}

	var block ir.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return fmt.Errorf("parsing compiled block: %w", err)
	}

	engine := eval.NewEngineState()
	if configPath != "" {
		cfg, err := eval.LoadConfig(configPath)
		if err != nil {
			return err
		}
		engine.SetHostConfig(cfg)
	}
	stack := eval.NewStack(engine)

	result, err := eval.Run(engine, stack, &block, pipeline.Empty())
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if !engine.HostConfig().UI.Quiet {
		if _, err := eval.Print(engine, stack, result, false, false); err != nil {
			return fmt.Errorf("printing result: %w", err)
		}
	} else if err := result.Drain(); err != nil {
		return fmt.Errorf("draining result: %w", err)
	}
	return nil
}
