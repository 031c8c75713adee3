package devicelock

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	redis.call('SET', KEYS[1], ARGV[1])
	return ARGV[1]
end
return cur
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis shares the lock table across server instances.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Acquire(ctx context.Context, fingerprint, eventID string) (string, error) {
	holder, err := acquireScript.Run(ctx, r.client, []string{Key(fingerprint)}, eventID).Text()
	if err != nil {
		return "", fmt.Errorf("acquiring device lock: %w", err)
	}
	return holder, nil
}

func (r *Redis) Release(ctx context.Context, fingerprint, eventID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{Key(fingerprint)}, eventID).Err(); err != nil {
		return fmt.Errorf("releasing device lock: %w", err)
	}
	return nil
}
