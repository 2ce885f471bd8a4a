package testbed

import (
	"context"
	"encoding/binary"
	gomath "math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

func loadConfig(t *testing.T) core.Config {
	t.Helper()
	cfg, err := core.LoadConfig(filepath.Join("..", "assets", "testbed.toml"))
	require.NoError(t, err)
	cfg.ShaderRoot = filepath.Join("..", "assets", "shaders")
	return cfg
}

func TestConfigDeclaresSampledTextures(t *testing.T) {
	cfg := loadConfig(t)
	require.Len(t, cfg.Bindless, 4)
	assert.Equal(t, "sampled_image", cfg.Bindless[3].Type)
	assert.Equal(t, uint32(16), cfg.Bindless[3].Count)
	assert.True(t, cfg.HotReload)
}

func TestFullscreenShadersCompile(t *testing.T) {
	for _, file := range []string{"grid.wgsl", "fullscreen.wgsl"} {
		text, err := os.ReadFile(filepath.Join("..", "assets", "shaders", file))
		require.NoError(t, err)
		m, err := shader.CompileWGSL(file, string(text), gpu.StageVertex)
		require.NoError(t, err, file)
		assert.Equal(t, "vs_main", m.EntryPoint)
		assert.Zero(t, m.Stride(), "the vertex index drives %s", file)
		assert.Equal(t, shader.SPIRVMagic, m.Code[0])
	}
}

func TestTriangle(t *testing.T) {
	b := triangle()
	require.Len(t, b, 3*vertexSize)
	// second component of the first vertex is its height
	assert.Equal(t, float32(0.5), gomath.Float32frombits(binary.LittleEndian.Uint32(b[4:])))
}

type stubLoader struct {
	loaded map[string]int
}

func (l *stubLoader) Load(_ context.Context, src shader.Source, stage gpu.ShaderStage) (*shader.Module, error) {
	l.loaded[src.Path()]++
	return &shader.Module{Name: src.String(), Stage: stage, EntryPoint: "main", Code: []uint32{shader.SPIRVMagic}}, nil
}

func TestGameRendersFrames(t *testing.T) {
	cfg := loadConfig(t)
	dev := gputest.NewDevice()
	surface := gputest.NewSurface(cfg.Width, cfg.Height, 3)
	loader := &stubLoader{loaded: make(map[string]int)}
	world, err := renderer.New(dev, surface, cfg, loader)
	require.NoError(t, err)

	game := NewTestGame(cfg)
	require.NoError(t, game.FnInitialize(world))
	for i := 0; i < 3; i++ {
		require.NoError(t, game.FnUpdate(world, 0.016))
		require.NoError(t, world.DrawFrame(context.Background()))
	}
	assert.Equal(t, uint32(3), world.FrameIndex())
	passes, err := world.Graph().Compiled()
	require.NoError(t, err)
	assert.Len(t, passes, 3)
	assert.Contains(t, loader.loaded, "shaders://present.wgsl")
	assert.Equal(t, 3, dev.Created("Pipeline"))

	require.NoError(t, game.FnOnResize(640, 480))
	assert.Equal(t, uint32(640), game.State.(*gameState).width)

	require.NoError(t, world.Destroy())
	assert.Empty(t, dev.Leaks())
}
