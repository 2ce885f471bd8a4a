// Package assets watches asset directories on disk.
package assets

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-graph/engine/core"
)

// DefaultSettle is how long a file has to stay quiet before its change is
// reported. Editors tend to write a file in several steps.
const DefaultSettle = 100 * time.Millisecond

// ShaderWatcher fires core.EventShaderChanged on a bus whenever a shader
// file under its root is created or written. Paths are reported as
// fsnotify sees them, which is the root joined with the file's relative
// path.
type ShaderWatcher struct {
	bus    *core.EventBus
	settle time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	pending  map[string]*time.Timer
	isClosed bool
}

// NewShaderWatcher watches root and every directory below it. A settle of
// zero uses DefaultSettle.
func NewShaderWatcher(root string, bus *core.EventBus, settle time.Duration) (*ShaderWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	sw := &ShaderWatcher{
		bus:     bus,
		settle:  settle,
		watcher: fsWatch,
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}
	if err := sw.watchRecursive(root); err != nil {
		fsWatch.Close()
		return nil, err
	}
	sw.wg.Add(1)
	go sw.run()
	core.LogInfo("Watching shaders in %s.", root)
	return sw, nil
}

func (sw *ShaderWatcher) run() {
	defer sw.wg.Done()
	for {
		select {
		case e, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handle(e)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %s", err)
		case <-sw.done:
			return
		}
	}
}

func (sw *ShaderWatcher) handle(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := sw.watchRecursive(e.Name); err != nil {
				core.LogWarn("shader watcher: %s", err)
			}
			return
		}
	}
	if e.Op&(fsnotify.Create|fsnotify.Write) == 0 || !IsShaderFile(e.Name) {
		return
	}
	sw.schedule(filepath.Clean(e.Name))
}

// schedule restarts the settle timer of path.
func (sw *ShaderWatcher) schedule(path string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.isClosed {
		return
	}
	if t, ok := sw.pending[path]; ok {
		t.Stop()
	}
	sw.pending[path] = time.AfterFunc(sw.settle, func() {
		sw.mu.Lock()
		delete(sw.pending, path)
		closed := sw.isClosed
		sw.mu.Unlock()
		if closed {
			return
		}
		core.LogDebug("shader changed: %s", path)
		sw.bus.Fire(core.EventShaderChanged, sw, core.EventContext{Path: path})
	})
}

// watchRecursive adds root and all directories under it to the watch list.
func (sw *ShaderWatcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return sw.watcher.Add(path)
		}
		return nil
	})
}

// Close stops watching. Pending notifications are dropped.
func (sw *ShaderWatcher) Close() error {
	sw.mu.Lock()
	if sw.isClosed {
		sw.mu.Unlock()
		return errors.New("shader watcher already closed")
	}
	sw.isClosed = true
	for path, t := range sw.pending {
		t.Stop()
		delete(sw.pending, path)
	}
	sw.mu.Unlock()

	close(sw.done)
	err := sw.watcher.Close()
	sw.wg.Wait()
	return err
}

// IsShaderFile reports whether path has an extension the shader loader
// understands.
func IsShaderFile(path string) bool {
	switch filepath.Ext(path) {
	case ".wgsl", ".spv":
		return true
	}
	return false
}
