package hashmap

import (
	"sync"
	"sync/atomic"
)

// SyncMap is a HashMap backed by sync.Map.
type SyncMap[K comparable, V any] struct {
	backend sync.Map
	size    atomic.Int64
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{}
}

func (m *SyncMap[K, V]) Delete(key K) {
	m.LoadAndDelete(key)
}

func (m *SyncMap[K, V]) Load(key K) (ret V, ok bool) {
	v, ok := m.backend.Load(key)
	ret, _ = v.(V)
	return
}

func (m *SyncMap[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	v, loaded := m.backend.LoadAndDelete(key)
	if loaded {
		m.size.Add(-1)
		value, _ = v.(V)
	}
	return
}

func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.backend.LoadOrStore(key, value)
	if !loaded {
		m.size.Add(1)
	}
	actual, _ = v.(V)
	return
}

func (m *SyncMap[K, V]) Range(cb func(K, V) bool) {
	m.backend.Range(func(key any, value any) bool {
		v, _ := value.(V)
		return cb(key.(K), v)
	})
}

func (m *SyncMap[K, V]) Store(key K, val V) {
	if _, loaded := m.backend.Swap(key, val); !loaded {
		m.size.Add(1)
	}
}

func (m *SyncMap[K, V]) Len() int {
	return int(m.size.Load())
}
