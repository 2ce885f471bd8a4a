package shader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

func writeShader(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestFileLoaderCachesByKeyAndStage(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "textured.wgsl", []byte(texturedWGSL))
	l := NewFileLoader(dir)
	ctx := context.Background()

	src := FromPath("shaders://textured.wgsl")
	vs, err := l.Load(ctx, src, gpu.StageVertex)
	require.NoError(t, err)
	again, err := l.Load(ctx, src, gpu.StageVertex)
	require.NoError(t, err)
	assert.Same(t, vs, again)
	assert.Equal(t, 1, l.Loads())

	fs, err := l.Load(ctx, src, gpu.StageFragment)
	require.NoError(t, err)
	assert.Equal(t, "fs_main", fs.EntryPoint)
	assert.Equal(t, 2, l.Loads())

	assert.Equal(t, 2, l.Invalidate(filepath.Join(dir, "textured.wgsl")))
	_, err = l.Load(ctx, src, gpu.StageVertex)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Loads())
}

func TestFileLoaderSPIRVFile(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "vert.spv", wordsToBytes(vertexModule()))
	l := NewFileLoader(dir)

	m, err := l.Load(context.Background(), FromPath("vert.spv"), gpu.StageVertex)
	require.NoError(t, err)
	assert.Len(t, m.Attributes, 2)
}

func TestFileLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "shader.glsl", []byte("void main() {}"))
	writeShader(t, dir, "bad.spv", []byte{1, 2, 3, 4})
	l := NewFileLoader(dir)
	ctx := context.Background()

	_, err := l.Load(ctx, FromPath("shaders://shader.glsl"), gpu.StageVertex)
	assert.ErrorIs(t, err, ErrInvalidExtension)
	var shaderErr *core.ShaderError
	require.True(t, errors.As(err, &shaderErr))
	assert.Equal(t, "vertex", shaderErr.Stage)

	_, err = l.Load(ctx, FromPath("shaders://bad.spv"), gpu.StageVertex)
	assert.ErrorIs(t, err, ErrInvalidSPIRV)

	_, err = l.Load(ctx, FromPath("shaders://missing.wgsl"), gpu.StageVertex)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = l.Load(ctx, Source{}, gpu.StageVertex)
	assert.ErrorIs(t, err, ErrNoSource)

	assert.Equal(t, 0, l.Loads(), "failed loads are not cached")
}

func TestFileLoaderConcurrentLoads(t *testing.T) {
	l := NewFileLoader("")
	src := FromSPIRV(vertexModule())

	var wg sync.WaitGroup
	mods := make([]*Module, 8)
	for i := range mods {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := l.Load(context.Background(), src, gpu.StageVertex)
			assert.NoError(t, err)
			mods[i] = m
		}(i)
	}
	wg.Wait()
	for _, m := range mods[1:] {
		assert.Same(t, mods[0], m)
	}
	assert.Equal(t, 1, l.Loads())
}

func TestLoadStages(t *testing.T) {
	l := NewFileLoader("")
	src := FromWGSL(texturedWGSL)

	vs, fs, err := LoadStages(context.Background(), l, src, src)
	require.NoError(t, err)
	assert.Equal(t, gpu.StageVertex, vs.Stage)
	assert.Equal(t, gpu.StageFragment, fs.Stage)

	_, _, err = LoadStages(context.Background(), l, src, Source{})
	assert.ErrorIs(t, err, ErrNoSource)
}
