package history

import (
	"context"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "notebook-bridge:history"

// RedisStore keeps entries in a Redis list, so that history survives restarts of the bridge.
type RedisStore struct {
	log logger.Logger

	client *redis.Client
	key    string
	size   int
}

// NewRedisStore creates a RedisStore. The connection is established lazily by the client; use Ping
// to check that the server is reachable.
func NewRedisStore(addr string, password string, db int, key string, size int) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}

	s := &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		key:  key,
		size: size,
	}
	config.InitLogger(&s.log, s)
	return s
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrapf(s.client.Ping(ctx).Err(), "failed to reach redis at %s", s.client.Options().Addr)
}

func (s *RedisStore) Append(ctx context.Context, entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, encoded)
	if s.size > 0 {
		pipe.LTrim(ctx, s.key, int64(-s.size), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("Failed to append %v to history list \"%s\": %v", entry, s.key, err)
		return errors.Wrap(err, "failed to append history entry")
	}
	return nil
}

func (s *RedisStore) Entries(ctx context.Context) ([]Entry, error) {
	encoded, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read history entries")
	}

	entries := make([]Entry, 0, len(encoded))
	for _, raw := range encoded {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.log.Warn("Skipping malformed history entry %q: %v", raw, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	return int(n), errors.Wrap(err, "failed to read history length")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
