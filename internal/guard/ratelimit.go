package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

const (
	RouteCreateOrder = "create-order"

	RateLimitWindow = 60 * time.Second
	GuestLimit      = 6  // requests per window, unauthenticated
	AuthLimit       = 12 // requests per window, authenticated
)

// Identity returns the rate-limit bucket and ceiling for a caller. Empty
// userID means guest: keyed by derived IP with the stricter ceiling.
func Identity(userID, clientIP string) (identifier string, limit int) {
	if userID != "" {
		return "user:" + userID, AuthLimit
	}
	return "ip:" + clientIP, GuestLimit
}

// RedisLimiter is a fixed-window counter in Redis. The state is shared by
// every instance of the handler, which is what makes the ceiling meaningful
// for a horizontally-scaled service.
type RedisLimiter struct {
	Redis *redis.Client
}

// Allow increments the window counter and reports whether the caller is still
// under limit. The first hit in a window arms the expiry.
func (l *RedisLimiter) Allow(ctx context.Context, route, identifier string, limit int) (bool, error) {
	key := fmt.Sprintf(redisx.KeyRateLimit, route, identifier)
	n, err := l.Redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.Redis.Expire(ctx, key, RateLimitWindow).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(limit), nil
}
