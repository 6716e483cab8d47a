package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

// Claimer hands out short-lived exclusive claims on an appointment so that
// scanners running in several processes do not send the same reminder.
type Claimer interface {
	Claim(ctx context.Context, appointmentID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, appointmentID uuid.UUID) error
}

type RedisClaimer struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisClaimer(rdb redis.Cmdable, prefix string) *RedisClaimer {
	if prefix == "" {
		prefix = "appointly:reminder"
	}
	return &RedisClaimer{rdb: rdb, prefix: prefix}
}

func (c *RedisClaimer) key(id uuid.UUID) string {
	return c.prefix + ":" + id.String()
}

func (c *RedisClaimer) Claim(ctx context.Context, appointmentID uuid.UUID, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, c.key(appointmentID), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (c *RedisClaimer) Release(ctx context.Context, appointmentID uuid.UUID) error {
	return c.rdb.Del(ctx, c.key(appointmentID)).Err()
}

// RedisReadyCheck pings the server.
func RedisReadyCheck(rdb redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// MemoryClaimer keeps claims in process. It only deduplicates within one
// process and is used when no Redis is configured.
type MemoryClaimer struct {
	claims *xsync.MapOf[uuid.UUID, time.Time]
	now    func() time.Time
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{
		claims: xsync.NewMapOf[uuid.UUID, time.Time](),
		now:    time.Now,
	}
}

func (c *MemoryClaimer) Claim(ctx context.Context, appointmentID uuid.UUID, ttl time.Duration) (bool, error) {
	now := c.now()
	claimed := false
	c.claims.Compute(appointmentID, func(expires time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Before(expires) {
			return expires, false
		}
		claimed = true
		return now.Add(ttl), false
	})
	return claimed, nil
}

func (c *MemoryClaimer) Release(ctx context.Context, appointmentID uuid.UUID) error {
	c.claims.Delete(appointmentID)
	return nil
}
