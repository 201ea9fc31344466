package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// AcquireAcceptLock takes a short per-gig lock shielding the accept path from
// thundering retries. The gig document's version check is the real guard;
// this only thins the herd.
func (c *Cache) AcquireAcceptLock(ctx context.Context, gigID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "accept:"+gigID, "1", ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseAcceptLock(ctx context.Context, gigID string) error {
	return c.client.Del(ctx, "accept:"+gigID).Err()
}

// AcquireSweepLock prevents overlapping escrow sweep runs across worker
// replicas.
func (c *Cache) AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "escrow:sweep-lock", "1", ttl)
	return res.Val(), res.Err()
}
