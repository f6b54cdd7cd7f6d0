package wikifolio

import (
	"strings"
	"sync"
)

// Registry maps identity keys to entity instances so that equal identities
// always resolve to the same object.
type Registry[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

func NewRegistry[V any]() *Registry[V] {
	return &Registry[V]{items: make(map[string]V)}
}

// InstanceOf returns the instance registered under key, creating it with
// create on first use.
func (r *Registry[V]) InstanceOf(key string, create func() V) V {
	key = normalizeKey(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[key]; ok {
		return v
	}
	v := create()
	r.items[key] = v
	return v
}

// Lookup returns the instance for key without creating one.
func (r *Registry[V]) Lookup(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[normalizeKey(key)]
	return v, ok
}

// Alias registers v under an additional key. An existing registration wins
// and is returned.
func (r *Registry[V]) Alias(key string, v V) V {
	key = normalizeKey(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[key]; ok {
		return existing
	}
	r.items[key] = v
	return v
}

// Rebind points key at v, replacing any existing registration.
func (r *Registry[V]) Rebind(key string, v V) {
	r.mu.Lock()
	r.items[normalizeKey(key)] = v
	r.mu.Unlock()
}

// Len is the number of registered keys, aliases included.
func (r *Registry[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
