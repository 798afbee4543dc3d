package registry

import "sync"

// Registry is a concurrency-safe map for long-lived per-key state objects
// (one recording session per guild, for instance).
type Registry[K comparable, V any] struct {
	mu   sync.RWMutex
	objs map[K]V
}

func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{objs: make(map[K]V)}
}

func (r *Registry[K, V]) Set(key K, obj V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objs[key] = obj
}

func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.objs[key]
	return v, ok
}

// GetOrCreate returns the value for key, calling create under the lock if absent.
func (r *Registry[K, V]) GetOrCreate(key K, create func() V) V {
	if v, ok := r.Get(key); ok {
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.objs[key]; ok {
		return v
	}
	v := create()
	r.objs[key] = v
	return v
}

// SetIfAbsent stores obj only when key is free and reports whether it did.
func (r *Registry[K, V]) SetIfAbsent(key K, obj V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objs[key]; ok {
		return false
	}
	r.objs[key] = obj
	return true
}

func (r *Registry[K, V]) Delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objs, key)
}

// Snapshot returns a copy of the current entries.
func (r *Registry[K, V]) Snapshot() map[K]V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[K]V, len(r.objs))
	for k, v := range r.objs {
		out[k] = v
	}
	return out
}

func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objs)
}

func (r *Registry[K, V]) MustGet(key K) V {
	if v, ok := r.Get(key); ok {
		return v
	}
	panic("registry: object not found")
}
