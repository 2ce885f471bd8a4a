package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/core"
)

func TestConfigCheck(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "check", filepath.Join("assets", "testbed.toml")})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Anima Graph Testbed: 1280x720")
	assert.Contains(t, out.String(), "binding 3 textures")
	assert.Contains(t, out.String(), "sampled_image x16")
}

func TestConfigCheckRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("width: 0\n"), 0o644))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"config", "check", path})
	assert.ErrorContains(t, cmd.Execute(), "window size")
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--config", filepath.Join("assets", "testbed.toml"), "--hot-reload=false", "--log-level", "warn"}))

	opts := &options{}
	opts.configPath, _ = cmd.Flags().GetString("config")
	opts.hotReload, _ = cmd.Flags().GetBool("hot-reload")
	opts.logLevel, _ = cmd.Flags().GetString("log-level")
	cfg, err := opts.config(cmd)
	require.NoError(t, err)

	assert.False(t, cfg.HotReload)
	assert.True(t, cfg.Validation, "unset flags keep the file value")
	assert.Equal(t, core.LogLevelWarn, cfg.LogLevel)
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags(nil))
	cfg, err := (&options{}).config(cmd)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultConfig(), cfg)
}
