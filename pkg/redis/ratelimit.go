package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// FixedWindowAllow counts a hit against scope in the current window and
// reports whether the count is still within limit. Windows are aligned to
// the clock so every api replica shares the same bucket.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.cmd == nil {
		return false, 0, errNotInitialized
	}
	if window <= 0 {
		return false, 0, fmt.Errorf("rate limit window must be positive, got %s", window)
	}

	key := c.RateLimitKey(scope + ":" + c.windowBucket(window))
	count, err := c.cmd.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := c.cmd.ExpireNX(ctx, key, window).Err(); err != nil {
			return count <= limit, count, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= limit, count, nil
}

func (c *Client) windowBucket(window time.Duration) string {
	now := time.Now
	if c.clock != nil {
		now = c.clock
	}
	return strconv.FormatInt(now().UnixNano()/int64(window), 10)
}
