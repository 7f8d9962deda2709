package hashmap

// BaseHashMap is the subset of sync.Map-style operations shared by every map in this package.
type BaseHashMap[K any, V any] interface {
	Delete(K)
	Load(K) (val V, loaded bool)
	LoadAndDelete(K) (val V, exists bool)
	LoadOrStore(K, V) (val V, loaded bool)

	// Range iterates over the map's key/value pairs. Iteration stops once the callback returns false.
	Range(func(K, V) (contd bool))

	Store(K, V)
}

type HashMap[K any, V any] interface {
	BaseHashMap[K, V]
	Len() int
}
