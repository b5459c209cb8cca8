package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "pixelvariant:ratelimit"

var ErrCostExceedsCapacity = errors.New("rate limit cost exceeds bucket capacity")

// Limit is a bucket of Capacity tokens that refills completely over Window.
type Limit struct {
	Capacity int
	Window   time.Duration
}

func (l Limit) validate() error {
	if l.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if l.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	return nil
}

// tokensPerMS is never zero: windows under a millisecond count as one.
func (l Limit) tokensPerMS() float64 {
	return float64(l.Capacity) / float64(max(l.Window.Milliseconds(), 1))
}

// Decision is the outcome of one bucket check. RetryAfter is zero unless the
// request was refused.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// KEYS[1] bucket hash; ARGV capacity, tokens/ms, now ms, cost, ttl ms.
// Replies {allowed, whole tokens left, retry-after ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
tokens = math.min(capacity, tokens + math.max(0, now - at) * rate)

local allowed, wait = 0, 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "at", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

// RedisTokenBucket keeps one bucket per subject in a Redis hash. Every API
// replica pointed at the same Redis draws from the same budget.
type RedisTokenBucket struct {
	client redis.UniversalClient
	limit  Limit
	prefix string
	now    func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, limit Limit, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := limit.validate(); err != nil {
		return nil, err
	}
	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisTokenBucket{client: client, limit: limit, prefix: keyPrefix, now: time.Now}, nil
}

func (b *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return b.prefix + ":" + subject
}

func (b *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return b.AllowN(ctx, subject, 1)
}

// AllowN draws cost tokens at once. A cost above capacity is refused without
// a round trip.
func (b *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	cost = max(cost, 1)
	if cost > b.limit.Capacity {
		return Decision{}, fmt.Errorf("%w: cost %d, capacity %d", ErrCostExceedsCapacity, cost, b.limit.Capacity)
	}

	reply, err := takeScript.Run(ctx, b.client, []string{b.key(subject)},
		b.limit.Capacity,
		b.limit.tokensPerMS(),
		b.now().UTC().UnixMilli(),
		cost,
		(2 * b.limit.Window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket: %w", err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket: unexpected reply length %d", len(reply))
	}

	return Decision{
		Allowed:    reply[0] == 1,
		Remaining:  reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}
