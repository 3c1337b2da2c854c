package redisx

import "time"

const (
	// Idempotency hint for order creation: idem:order:create:{idempotency_key}
	// holds the created order ref. The DB unique constraint stays the source of
	// truth; this only short-circuits replay reads.
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Full order cache: order:{order_id} -> serialized order with items.
	KeyOrderCache = "order:%s"

	// Rate-limit window counter: ratelimit:{route}:{identifier}
	KeyRateLimit = "ratelimit:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
)
