package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
)

// MemoryStore keeps the most recent entries in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, Entry]
	size    int
	closed  bool
}

// NewMemoryStore creates a MemoryStore retaining at most size entries. A non-positive size means
// no limit.
func NewMemoryStore(size int) *MemoryStore {
	return &MemoryStore{
		entries: orderedmap.NewOrderedMap[string, Entry](),
		size:    size,
	}
}

func key(entry Entry) string {
	return fmt.Sprintf("%s/%d", entry.Session, entry.Line)
}

// Append records the entry. Appending an entry with the session and line of a retained entry
// replaces it and moves it to the end.
func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	k := key(entry)
	s.entries.Delete(k)
	s.entries.Set(k, entry)

	for s.size > 0 && s.entries.Len() > s.size {
		s.entries.Delete(s.entries.Front().Key)
	}
	return nil
}

func (s *MemoryStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries := make([]Entry, 0, s.entries.Len())
	for el := s.entries.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value)
	}
	return entries, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len(), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
