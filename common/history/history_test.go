package history_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/utils"
)

func inputs(entries []history.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Input)
	}
	return out
}

func appendAll(store history.Store, session string, codes ...string) {
	for i, code := range codes {
		Expect(store.Append(context.Background(), history.Entry{Session: session, Line: i + 1, Input: code})).To(Succeed())
	}
}

var _ = Describe("MemoryStore", func() {
	ctx := context.Background()

	It("will evict the oldest entries beyond its size", func() {
		store := history.NewMemoryStore(3)
		appendAll(store, "s1", "a", "b", "c", "d")

		entries, err := store.Entries(ctx)
		Expect(err).To(BeNil())
		Expect(inputs(entries)).To(Equal([]string{"b", "c", "d"}))

		n, _ := store.Len(ctx)
		Expect(n).To(Equal(3))
	})

	It("will replace an entry recorded twice", func() {
		store := history.NewMemoryStore(0)
		appendAll(store, "s1", "a", "b")
		Expect(store.Append(ctx, history.Entry{Session: "s1", Line: 1, Input: "a2"})).To(Succeed())

		entries, _ := store.Entries(ctx)
		Expect(inputs(entries)).To(Equal([]string{"b", "a2"}))
	})

	It("will refuse to be used after closing", func() {
		store := history.NewMemoryStore(0)
		Expect(store.Close()).To(Succeed())
		Expect(errors.Is(store.Append(ctx, history.Entry{}), history.ErrStoreClosed)).To(BeTrue())
	})
})

var _ = Describe("Select", func() {
	ctx := context.Background()
	var store *history.MemoryStore

	BeforeEach(func() {
		store = history.NewMemoryStore(0)
		appendAll(store, "old", "x = 1", "print(x)")
		appendAll(store, "s1", "y = 2", "print(y)", "y = 2", "z = 3")
	})

	It("will return the last n entries", func() {
		entries, err := history.Select(ctx, store, history.Query{AccessType: history.AccessTail, N: 2}, "s1")
		Expect(err).To(BeNil())
		Expect(inputs(entries)).To(Equal([]string{"y = 2", "z = 3"}))

		entries, _ = history.Select(ctx, store, history.Query{AccessType: history.AccessTail}, "s1")
		Expect(entries).To(HaveLen(6))
	})

	It("will return a range of the current session", func() {
		entries, err := history.Select(ctx, store, history.Query{AccessType: history.AccessRange, Start: 2, Stop: 4}, "s1")
		Expect(err).To(BeNil())
		Expect(inputs(entries)).To(Equal([]string{"print(y)", "y = 2"}))

		entries, _ = history.Select(ctx, store, history.Query{AccessType: history.AccessRange, Session: "old"}, "s1")
		Expect(inputs(entries)).To(Equal([]string{"x = 1", "print(x)"}))
	})

	It("will search by pattern", func() {
		entries, err := history.Select(ctx, store, history.Query{AccessType: history.AccessSearch, Pattern: "print*"}, "s1")
		Expect(err).To(BeNil())
		Expect(inputs(entries)).To(Equal([]string{"print(x)", "print(y)"}))

		entries, _ = history.Select(ctx, store, history.Query{AccessType: history.AccessSearch, Pattern: "y = *", Unique: true}, "s1")
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Line).To(Equal(3))
	})

	It("will match globs the way fnmatch does", func() {
		appendAll(store, "paths", "open('foo/bar')", "x = 1\ny = 2", "a[1] = 5", "b = 6")

		search := func(pattern string) []string {
			entries, err := history.Select(ctx, store, history.Query{AccessType: history.AccessSearch, Pattern: pattern}, "paths")
			Expect(err).To(BeNil())
			return inputs(entries)
		}

		Expect(search("*foo*bar*")).To(Equal([]string{"open('foo/bar')"}))
		Expect(search("open('foo?bar')")).To(Equal([]string{"open('foo/bar')"}))
		Expect(search("x = 1*y = 2")).To(Equal([]string{"x = 1\ny = 2"}))
		Expect(search("[ab]*")).To(Equal([]string{"a[1] = 5", "b = 6"}))
		Expect(search("[!a]*")).NotTo(ContainElement("a[1] = 5"))
		Expect(search("a[[]1] = ?")).To(Equal([]string{"a[1] = 5"}))

		// Patterns are anchored; a bare substring matches nothing.
		Expect(search("foo")).To(BeEmpty())
	})

	It("will reject unknown access types", func() {
		_, err := history.Select(ctx, store, history.Query{AccessType: "everything"}, "s1")
		Expect(errors.Is(err, history.ErrUnknownAccessType)).To(BeTrue())
	})
})

var _ = Describe("NewStore", func() {
	It("will build a memory store by default", func() {
		store, err := history.NewStore(context.Background(), history.Options{Size: 5})
		Expect(err).To(BeNil())
		Expect(store).To(BeAssignableToTypeOf(&history.MemoryStore{}))
	})

	It("will reject unknown backends", func() {
		_, err := history.NewStore(context.Background(), history.Options{Backend: "etcd"})
		Expect(errors.Is(err, history.ErrUnknownBackend)).To(BeTrue())
	})
})

var _ = Describe("RedisStore", func() {
	It("will keep a bounded list in redis", func() {
		addr := utils.GetEnv("REDIS_ADDR", "")
		if addr == "" {
			Skip("REDIS_ADDR is not set")
		}

		ctx := context.Background()
		key := fmt.Sprintf("notebook-bridge-test:%d", GinkgoRandomSeed())
		store := history.NewRedisStore(addr, utils.GetEnv("REDIS_PASSWORD", ""), 0, key, 2)
		defer store.Close()
		Expect(store.Ping(ctx)).To(Succeed())

		appendAll(store, "s1", "a", "b", "c")
		entries, err := store.Entries(ctx)
		Expect(err).To(BeNil())
		Expect(inputs(entries)).To(Equal([]string{"b", "c"}))
	})
})
