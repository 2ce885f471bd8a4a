package shader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

type cacheKey struct {
	Key
	stage gpu.ShaderStage
}

// FileLoader resolves sources from disk or memory and caches the reflected
// modules. Cached modules are shared and must not be mutated.
type FileLoader struct {
	Root string

	mu    sync.RWMutex
	cache map[cacheKey]*Module
	group singleflight.Group
	loads int
}

func NewFileLoader(root string) *FileLoader {
	return &FileLoader{Root: root, cache: make(map[cacheKey]*Module)}
}

// Resolve maps a source path to a file path. Paths starting with Scheme are
// joined with Root, as are other relative paths.
func (l *FileLoader) Resolve(path string) string {
	if rest, ok := strings.CutPrefix(path, Scheme); ok {
		return filepath.Join(l.Root, filepath.FromSlash(rest))
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.Root, path)
}

func (l *FileLoader) Load(ctx context.Context, src Source, stage gpu.ShaderStage) (*Module, error) {
	if src.IsNone() {
		return nil, ErrNoSource
	}
	key := cacheKey{Key: src.Key(), stage: stage}

	l.mu.RLock()
	m, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, err, _ := l.group.Do(fmt.Sprintf("%v/%s/%x/%d", key.Kind, key.Path, key.Digest, stage), func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := l.load(src, stage)
		if err != nil {
			return nil, &core.ShaderError{Source: src.String(), Stage: stage.String(), Err: err}
		}
		l.mu.Lock()
		l.cache[key] = m
		l.loads++
		l.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

func (l *FileLoader) load(src Source, stage gpu.ShaderStage) (*Module, error) {
	switch src.kind {
	case KindSPIRV:
		return ReflectSPIRV(src.String(), src.words, stage)
	case KindWGSL:
		return CompileWGSL(src.String(), src.text, stage)
	}

	file := l.Resolve(src.path)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".wgsl":
		return CompileWGSL(src.path, string(data), stage)
	case ".spv":
		words, err := BytesToWords(data)
		if err != nil {
			return nil, err
		}
		return ReflectSPIRV(src.path, words, stage)
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidExtension, filepath.Ext(file))
}

// Invalidate drops every cached stage loaded from path. It returns the
// number of entries removed.
func (l *FileLoader) Invalidate(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k := range l.cache {
		if k.Kind == KindPath && (k.Path == path || l.Resolve(k.Path) == path) {
			delete(l.cache, k)
			n++
		}
	}
	if n > 0 {
		core.LogDebug("shader cache: invalidated %d entries for %s", n, path)
	}
	return n
}

// Loads returns how many modules were loaded from their source rather than
// the cache.
func (l *FileLoader) Loads() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loads
}

// LoadStages loads the vertex and fragment stages concurrently.
func LoadStages(ctx context.Context, loader Loader, vertex, fragment Source) (*Module, *Module, error) {
	var vs, fs *Module
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		vs, err = loader.Load(gctx, vertex, gpu.StageVertex)
		return err
	})
	g.Go(func() (err error) {
		fs, err = loader.Load(gctx, fragment, gpu.StageFragment)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vs, fs, nil
}
