package eval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// UIConfig mirrors the teacher's ir.UIConfig: presentation flags that never
// change evaluation semantics, only how results and diagnostics are shown.
type UIConfig struct {
	ColorMode string `yaml:"color_mode"`
	Quiet     bool   `yaml:"quiet"`
	CI        bool   `yaml:"ci"`
}

// Config is the host's resolved settings file, loaded once at startup and
// shared read-only across every Stack in the session. PluginConfigBlocks
// maps a plugin name to the id of a compiled block (registered via
// EngineState.RegisterBlock) whose result becomes that plugin's GetConfig
// answer instead of the session's whole configuration record.
type Config struct {
	StreamHighWaterMark int               `yaml:"stream_high_water_mark"`
	UI                  UIConfig          `yaml:"ui"`
	PluginConfigBlocks  map[string]uint32 `yaml:"plugin_config_blocks"`
}

// DefaultConfig is used when no config file is supplied.
func DefaultConfig() Config {
	return Config{StreamHighWaterMark: 8, UI: UIConfig{ColorMode: "auto"}}
}

// LoadConfig reads and parses a YAML settings file at path, starting from
// DefaultConfig so an incomplete file only overrides the keys it mentions.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// SetHostConfig installs the session's resolved settings.
func (e *EngineState) SetHostConfig(cfg Config) { e.hostConfig = cfg }

// HostConfig returns the session's resolved settings.
func (e *EngineState) HostConfig() Config { return e.hostConfig }

// PluginConfigValue evaluates the block registered for name under
// PluginConfigBlocks, returning ok=false if no override is configured for
// that plugin (the caller should fall back to the whole config record).
func (e *EngineState) PluginConfigValue(name string) (v value.Value, ok bool, err error) {
	id, has := e.hostConfig.PluginConfigBlocks[name]
	if !has {
		return value.Value{}, false, nil
	}
	block, err := e.Block(id)
	if err != nil {
		return value.Value{}, false, err
	}
	stack := NewStack(e)
	result, err := Run(e, stack, block, pipeline.Empty())
	if err != nil {
		return value.Value{}, false, err
	}
	resolved, err := result.IntoValue(block.SpanAt(0))
	if err != nil {
		return value.Value{}, false, err
	}
	return resolved, true, nil
}
