package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goliatone/go-errors"
)

// The first hit of a window sets the expiry so the counter resets on its own.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

var decrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
	return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisStore keeps counters in redis so limits hold across instances
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a redis backed store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (r *RedisStore) key(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	res, err := incrementScript.Run(ctx, r.client, []string{r.key(key)}, window.Milliseconds()).Result()
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, errors.CategoryExternal, "redis increment failed").
			WithMetadata(map[string]any{"key": key})
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, time.Time{}, errors.New("redis increment returned an unexpected reply", errors.CategoryExternal).
			WithMetadata(map[string]any{"key": key, "reply": fmt.Sprint(res)})
	}

	count, _ := values[0].(int64)
	ttl, _ := values[1].(int64)

	return int(count), r.now().Add(time.Duration(ttl) * time.Millisecond), nil
}

func (r *RedisStore) Decrement(ctx context.Context, key string) error {
	if err := decrementScript.Run(ctx, r.client, []string{r.key(key)}).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, errors.CategoryExternal, "redis decrement failed").
			WithMetadata(map[string]any{"key": key})
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "redis reset failed").
			WithMetadata(map[string]any{"key": key})
	}
	return nil
}
