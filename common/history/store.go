package history

import (
	"context"
	"fmt"
)

// Options configures the store built by NewStore.
type Options struct {
	Backend       string
	Size          int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewStore builds the store selected by opts.Backend. A redis store must be reachable.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(opts.Size), nil
	case BackendRedis:
		store := NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, DefaultRedisKey, opts.Size)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
