package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a keyed counter with TTL, injected wherever a process needs to
// throttle by key. Backing it with Redis keeps the count correct when more
// than one instance is running.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type redisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client, prefix string) Counter {
	return &redisCounter{client: client, prefix: prefix}
}

// incrScript bumps the key and sets its expiry only on first increment, so
// the window is anchored at the first request.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func (c *redisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := fmt.Sprintf("%s:%s", c.prefix, key)
	n, err := incrScript.Run(ctx, c.client, []string{full}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr counter: %w", err)
	}
	return n, nil
}
