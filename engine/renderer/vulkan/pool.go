package vulkan

import "sync"

// objects maps the opaque uint64 handles handed out through the gpu package
// to the Vulkan objects behind them. Zero is never issued.
type objects[T any] struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]T
}

func (o *objects[T]) add(v T) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.live == nil {
		o.live = make(map[uint64]T)
	}
	o.next++
	o.live[o.next] = v
	return o.next
}

func (o *objects[T]) get(id uint64) (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.live[id]
	return v, ok
}

// take removes id and returns what it pointed at.
func (o *objects[T]) take(id uint64) (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.live[id]
	if ok {
		delete(o.live, id)
	}
	return v, ok
}

func (o *objects[T]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live)
}

// drain empties the table and returns the objects that were still live.
func (o *objects[T]) drain() []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]T, 0, len(o.live))
	for _, v := range o.live {
		out = append(out, v)
	}
	o.live = nil
	return out
}

// removeIf drops every entry for which fn returns true.
func (o *objects[T]) removeIf(fn func(T) bool) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, v := range o.live {
		if fn(v) {
			delete(o.live, id)
			n++
		}
	}
	return n
}
