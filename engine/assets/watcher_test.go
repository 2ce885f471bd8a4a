package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watch(t *testing.T, root string, settle time.Duration) <-chan string {
	t.Helper()
	bus := core.NewEventBus()
	changed := make(chan string, 16)
	bus.Register(core.EventShaderChanged, t, func(_ core.SystemEventCode, _ interface{}, data core.EventContext) bool {
		changed <- data.Path
		return true
	})
	sw, err := NewShaderWatcher(root, bus, settle)
	require.NoError(t, err)
	t.Cleanup(func() { sw.Close() })
	return changed
}

func next(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no shader change reported")
		return ""
	}
}

func TestShaderWatcherReportsWrites(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "scene.wgsl")
	require.NoError(t, os.WriteFile(file, []byte("// v1"), 0o644))
	changed := watch(t, root, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(file, []byte("// v2"), 0o644))
	assert.Equal(t, file, next(t, changed))
}

func TestShaderWatcherIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	changed := watch(t, root, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "present.spv"), []byte{3, 2, 35, 7}, 0o644))
	assert.Equal(t, filepath.Join(root, "present.spv"), next(t, changed))
}

func TestShaderWatcherCoalescesBursts(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "burst.wgsl")
	changed := watch(t, root, 300*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(file, []byte{byte('a' + i)}, 0o644))
	}
	assert.Equal(t, file, next(t, changed))
	select {
	case p := <-changed:
		t.Fatalf("unexpected second change for %s", p)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestShaderWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	changed := watch(t, root, 20*time.Millisecond)

	dir := filepath.Join(root, "post")
	require.NoError(t, os.Mkdir(dir, 0o755))
	file := filepath.Join(dir, "blur.wgsl")
	require.Eventually(t, func() bool {
		if err := os.WriteFile(file, []byte("// blur"), 0o644); err != nil {
			return false
		}
		select {
		case p := <-changed:
			return p == file
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShaderWatcherCloseTwice(t *testing.T) {
	sw, err := NewShaderWatcher(t.TempDir(), core.NewEventBus(), 0)
	require.NoError(t, err)
	assert.NoError(t, sw.Close())
	assert.Error(t, sw.Close())
}

func TestShaderWatcherMissingRoot(t *testing.T) {
	_, err := NewShaderWatcher(filepath.Join(t.TempDir(), "missing"), core.NewEventBus(), 0)
	assert.Error(t, err)
}

func TestIsShaderFile(t *testing.T) {
	assert.True(t, IsShaderFile("a/b.wgsl"))
	assert.True(t, IsShaderFile("b.spv"))
	assert.False(t, IsShaderFile("b.glsl"))
	assert.False(t, IsShaderFile("wgsl"))
}
