package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Action names a rate limit bucket.
type Action string

const (
	ActionGeneral       Action = "general"
	ActionAPI           Action = "api"
	ActionLogin         Action = "login"
	ActionRegister      Action = "register"
	ActionMFA           Action = "mfa"
	ActionPasswordReset Action = "password_reset"
	ActionVerifyEmail   Action = "verify_email"
	ActionWebAuthn      Action = "webauthn"
)

// Policy is the (max, window) pair for one action.
type Policy struct {
	Max    int
	Window time.Duration
}

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
	// Degraded is set when the counter store was unreachable and the check failed open.
	Degraded bool
}

// Limiter is a fixed-window counter store.
type Limiter interface {
	// Increment bumps key and starts its window when the count becomes 1.
	// Returns the new count and the remaining time to live of the window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// Get returns the current count, 0 when absent.
	Get(ctx context.Context, key string) (int64, error)
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// LimitError is returned by callers that gate an operation on a Result.
type LimitError struct {
	Action Action
	Result Result
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Action, e.Result.RetryAfter.Round(time.Second))
}
