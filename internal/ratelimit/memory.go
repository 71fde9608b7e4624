package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

// MemoryLimiter is a process-local Limiter for development and tests. It is
// not shared across workers; production uses RedisLimiter.
type MemoryLimiter struct {
	policies Policies

	mu      sync.Mutex
	windows map[string]*memoryWindow

	// now is swappable for tests.
	now func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(policies Policies) *MemoryLimiter {
	return &MemoryLimiter{
		policies: policies,
		windows:  make(map[string]*memoryWindow),
		now:      time.Now,
	}
}

// CheckAndConsume consumes one unit of budget under a single mutex, so the
// counter can never overshoot the ceiling regardless of caller concurrency.
func (l *MemoryLimiter) CheckAndConsume(_ context.Context, accountID string, action models.ActionType) (Decision, error) {
	policy := l.policies.For(action)
	if policy.Ceiling <= 0 || policy.Window <= 0 {
		return Decision{}, fmt.Errorf("no rate-limit policy for action %q", action)
	}

	now := l.now().UTC()
	start := windowStart(now, policy.Window)
	key := fmt.Sprintf("%s:%s", accountID, action)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &memoryWindow{start: start}
		l.windows[key] = w
	}

	if w.count >= policy.Ceiling {
		return Decision{
			Allowed:    false,
			RetryAfter: start.Add(policy.Window).Sub(now),
		}, nil
	}

	w.count++
	return Decision{Allowed: true, Remaining: policy.Ceiling - w.count}, nil
}
