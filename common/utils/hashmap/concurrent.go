package hashmap

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// ConcurrentMap is a sharded HashMap keyed by strings.
type ConcurrentMap[V any] struct {
	backend cmap.ConcurrentMap[string, V]
}

// NewConcurrentMap creates a ConcurrentMap. The shard count is a process-wide setting of the
// backing library, so the most recent value wins.
func NewConcurrentMap[V any](shards int) *ConcurrentMap[V] {
	if shards > 0 {
		cmap.SHARD_COUNT = shards
	}
	return &ConcurrentMap[V]{
		backend: cmap.New[V](),
	}
}

func (m *ConcurrentMap[V]) Delete(key string) {
	m.backend.Remove(key)
}

func (m *ConcurrentMap[V]) Load(key string) (V, bool) {
	return m.backend.Get(key)
}

// LoadAndDelete removes the key atomically. Of several concurrent callers for the same key, exactly
// one observes exists == true.
func (m *ConcurrentMap[V]) LoadAndDelete(key string) (retVal V, retExists bool) {
	m.backend.RemoveCb(key, func(key string, val V, exists bool) bool {
		retVal = val
		retExists = exists
		return exists
	})
	return
}

func (m *ConcurrentMap[V]) LoadOrStore(key string, value V) (V, bool) {
	var (
		actual V
		loaded bool
	)
	m.backend.Upsert(key, value, func(exist bool, valueInMap V, newValue V) V {
		if exist {
			actual, loaded = valueInMap, true
			return valueInMap
		}
		actual = newValue
		return newValue
	})
	return actual, loaded
}

func (m *ConcurrentMap[V]) Range(cb func(string, V) bool) {
	next := true
	for item := range m.backend.IterBuffered() {
		if next {
			next = cb(item.Key, item.Val)
		}
		// The buffered iterator must be drained even after the callback asks to stop.
	}
}

func (m *ConcurrentMap[V]) Store(key string, val V) {
	m.backend.Set(key, val)
}

func (m *ConcurrentMap[V]) Len() int {
	return m.backend.Count()
}
