package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dayTTL = 25 * time.Hour // a little over a day covers clock skew at the boundary

// Redis is a Redis-backed Limiter for horizontally-scaled deployments,
// mirroring the INCR-then-conditionally-EXPIRE login-attempt pattern.
type Redis struct {
	client *redis.Client
	limit  int
	now    func() time.Time
}

func NewRedis(client *redis.Client, limit int) *Redis {
	return &Redis{client: client, limit: limit, now: time.Now}
}

func (r *Redis) key(userID string) string {
	return fmt.Sprintf("songdl:ratelimit:%s:%s", userID, r.now().UTC().Format("2006-01-02"))
}

func (r *Redis) Test(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Get(ctx, r.key(userID)).Int()
	if err != nil {
		if err == redis.Nil {
			return true, nil
		}
		return false, err
	}
	return n < r.limit, nil
}

func (r *Redis) Hit(ctx context.Context, userID string) (bool, error) {
	key := r.key(userID)
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, dayTTL).Err(); err != nil {
			return false, err
		}
	}
	if n > int64(r.limit) {
		return false, nil
	}
	return true, nil
}
