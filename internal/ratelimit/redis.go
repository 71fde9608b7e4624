package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outflowhq/outflow/pkg/logger"
	"github.com/outflowhq/outflow/pkg/models"
)

// consumeScriptSource atomically increments the window counter and rolls
// back when the ceiling is exceeded, so a denied call never consumes budget.
// Returns the counter value, or -1 when denied.
const consumeScriptSource = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
	redis.call("DECR", KEYS[1])
	return -1
end
return count
`

var consumeScript = redis.NewScript(consumeScriptSource)

// RedisLimiter is the Redis-backed Limiter shared by all worker processes.
type RedisLimiter struct {
	client   *redis.Client
	policies Policies
	prefix   string
	log      *logger.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, policies Policies, prefix string, log *logger.Logger) *RedisLimiter {
	if prefix == "" {
		prefix = "outflow:ratelimit"
	}
	return &RedisLimiter{
		client:   client,
		policies: policies,
		prefix:   prefix,
		log:      log.WithComponent("rate-limiter"),
		now:      time.Now,
	}
}

// CheckAndConsume atomically consumes one unit of the account's budget for
// the action, or reports how long to back off.
func (l *RedisLimiter) CheckAndConsume(ctx context.Context, accountID string, action models.ActionType) (Decision, error) {
	policy := l.policies.For(action)
	if policy.Ceiling <= 0 || policy.Window <= 0 {
		return Decision{}, fmt.Errorf("no rate-limit policy for action %q", action)
	}

	now := l.now().UTC()
	start := windowStart(now, policy.Window)
	key := l.key(accountID, action, start)

	count, err := consumeScript.Run(ctx, l.client, []string{key},
		policy.Ceiling, policy.Window.Milliseconds(),
	).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate-limit script failed: %w", err)
	}

	if count < 0 {
		retryAfter := start.Add(policy.Window).Sub(now)
		l.log.Debug("rate limit exceeded",
			"account_id", accountID,
			"action", string(action),
			"ceiling", policy.Ceiling,
			"retry_after", retryAfter,
		)
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Decision{Allowed: true, Remaining: policy.Ceiling - int(count)}, nil
}

func (l *RedisLimiter) key(accountID string, action models.ActionType, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", l.prefix, accountID, action, start.Unix())
}
