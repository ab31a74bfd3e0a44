package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// Limiter counts requests per credential in fixed one-minute windows.
type Limiter struct {
	redis  *redis.Client
	limit  int64
	prefix string
}

func New(rdb *redis.Client, perMinute int64) *Limiter {
	return &Limiter{redis: rdb, limit: perMinute, prefix: "geminimock:ratelimit"}
}

func (l *Limiter) Limit() int64 {
	return l.limit
}

// Allow increments the window counter for credential. The raw credential
// never reaches redis; only a hash prefix does.
func (l *Limiter) Allow(ctx context.Context, credential string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, credentialKey(credential), windowStart.Format("200601021504"))
	res, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= l.limit, res, windowEnd, nil
}

func credentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}
