package verification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pulsecare:verify:"

// redisRetention keeps a record readable past its validity window so a late
// submission reads back an expired record instead of finding nothing. Redis
// drops the key afterwards on its own, taking the place of the SQL sweep.
const redisRetention = DefaultTTL

// compareAndDeleteScript deletes the key only when the stored code matches
// the submitted one, in a single server-side step.
var compareAndDeleteScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local rec = cjson.decode(raw)
if rec['code'] == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// RedisStore keeps verification codes in Redis with a key TTL of the record
// validity plus a retention margin, so abandoned codes vanish without a
// sweep while expiry stays observable to the consumer.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed code store.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("verification: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, redisKeyPrefix+rec.Email, raw, redisKeyTTL(rec, time.Now())).Err()
}

// redisKeyTTL returns how long the key lives: the remaining validity plus
// the retention margin. A record that is already past its expiry still gets
// the full margin so Get and CompareAndDelete can observe it.
func redisKeyTTL(rec Record, now time.Time) time.Duration {
	remaining := rec.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining + redisRetention
}

func (s *RedisStore) Get(ctx context.Context, email string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+email).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, email string) error {
	return s.client.Del(ctx, redisKeyPrefix+email).Err()
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, email, code string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{redisKeyPrefix + email}, code).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
