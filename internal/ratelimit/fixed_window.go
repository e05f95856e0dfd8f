// Package ratelimit throttles inbound messages per sender.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

const DefaultPrefix = "storeops:ratelimit"

// SenderLimiter allows at most limit messages per sender per fixed window,
// counted in Redis so every replica shares the quota.
type SenderLimiter struct {
	limit  int
	window time.Duration
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewSenderLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*SenderLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SenderLimiter{limit: limit, window: window, client: client, prefix: prefix, now: time.Now}, nil
}

// Allow counts one message for sender. Redis failures are returned with a
// false verdict; callers choose whether to fail open.
func (l *SenderLimiter) Allow(ctx context.Context, sender string) (bool, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		sender = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%d", l.prefix, sender, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{key}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", sender, err)
	}
	return count <= int64(l.limit), nil
}
