package hashmap_test

import (
	"fmt"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-bridge/common/utils/hashmap"
)

func exerciseHashMap(m hashmap.HashMap[string, int]) {
	m.Store("a", 1)
	v, ok := m.Load("a")
	Expect(ok).To(BeTrue())
	Expect(v).To(Equal(1))

	actual, loaded := m.LoadOrStore("a", 2)
	Expect(loaded).To(BeTrue())
	Expect(actual).To(Equal(1))

	actual, loaded = m.LoadOrStore("b", 2)
	Expect(loaded).To(BeFalse())
	Expect(actual).To(Equal(2))
	Expect(m.Len()).To(Equal(2))

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return false
	})
	Expect(visited).To(Equal(1))

	v, ok = m.LoadAndDelete("a")
	Expect(ok).To(BeTrue())
	Expect(v).To(Equal(1))

	_, ok = m.LoadAndDelete("a")
	Expect(ok).To(BeFalse())

	m.Delete("b")
	Expect(m.Len()).To(Equal(0))
}

var _ = Describe("HashMap implementations", func() {
	It("ConcurrentMap will support the HashMap operations", func() {
		exerciseHashMap(hashmap.NewConcurrentMap[int](8))
	})

	It("SyncMap will support the HashMap operations", func() {
		exerciseHashMap(hashmap.NewSyncMap[string, int]())
	})

	It("ConcurrentMap.LoadAndDelete will succeed for exactly one concurrent caller", func() {
		m := hashmap.NewConcurrentMap[int](8)
		for i := 0; i < 64; i++ {
			m.Store(fmt.Sprintf("k%d", i), i)
		}

		var removed atomic.Int32
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 64; i++ {
					if _, ok := m.LoadAndDelete(fmt.Sprintf("k%d", i)); ok {
						removed.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		Expect(removed.Load()).To(Equal(int32(64)))
		Expect(m.Len()).To(Equal(0))
	})
})
