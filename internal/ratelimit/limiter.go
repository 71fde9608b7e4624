// Package ratelimit enforces per-account, per-action-type ceilings over fixed
// wall-clock windows. The counters are the only state shared by concurrent
// workflow instances, so check-and-consume must be atomic.
package ratelimit

import (
	"context"
	"time"

	"github.com/outflowhq/outflow/pkg/config"
	"github.com/outflowhq/outflow/pkg/models"
)

// Decision is the outcome of a consume attempt.
type Decision struct {
	Allowed bool

	// Remaining is the budget left in the current window after this call.
	Remaining int

	// RetryAfter is how long until the window resets. Set when denied.
	RetryAfter time.Duration
}

// Limiter decides whether an account may perform an action right now,
// consuming one unit of budget when it may.
type Limiter interface {
	CheckAndConsume(ctx context.Context, accountID string, action models.ActionType) (Decision, error)
}

// Policy is the ceiling and window length for one action type.
type Policy struct {
	Ceiling int
	Window  time.Duration
}

// Policies maps action types onto their limits, with a fallback default.
type Policies struct {
	Default Policy
	Actions map[models.ActionType]Policy
}

// For returns the policy for an action type.
func (p Policies) For(action models.ActionType) Policy {
	if pol, ok := p.Actions[action]; ok {
		return pol
	}
	return p.Default
}

// PoliciesFromConfig builds rate-limit policies from configuration.
func PoliciesFromConfig(cfg config.RateLimitConfig) Policies {
	policies := Policies{
		Default: Policy{Ceiling: cfg.Default.Ceiling, Window: cfg.Default.Window},
		Actions: make(map[models.ActionType]Policy, len(cfg.Actions)),
	}
	for action, limit := range cfg.Actions {
		policies.Actions[models.ActionType(action)] = Policy{
			Ceiling: limit.Ceiling,
			Window:  limit.Window,
		}
	}
	return policies
}

// windowStart returns the start of the fixed window containing now.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}
