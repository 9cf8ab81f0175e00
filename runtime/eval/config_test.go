package eval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opal-lang/shellcore/core/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverridesOnlyMentionedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shellcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream_high_water_mark: 32\nui:\n  quiet: true\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.StreamHighWaterMark)
	assert.True(t, cfg.UI.Quiet)
	assert.Equal(t, "auto", cfg.UI.ColorMode)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPluginConfigValueEvaluatesRegisteredBlock(t *testing.T) {
	block := literalBlock(ir.Literal{Kind: ir.LitInt, Int: 99})
	engine := NewEngineState()
	engine.RegisterBlock(1, block)
	engine.SetHostConfig(Config{PluginConfigBlocks: map[string]uint32{"inc": 1}})

	v, ok, err := engine.PluginConfigValue("inc")
	require.NoError(t, err)
	require.True(t, ok)
	n, err := v.AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(99), n)

	_, ok, err = engine.PluginConfigValue("not-configured")
	require.NoError(t, err)
	assert.False(t, ok)
}
