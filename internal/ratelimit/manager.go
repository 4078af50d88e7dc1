package ratelimit

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Manager enforces per-action limits and tracks failed attempts.
type Manager struct {
	settings Settings
	nowFn    func() time.Time
	shared   Limiter
	local    *MemoryLimiter

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager. A nil shared limiter keeps all counters in
// process memory.
func NewManager(settings Settings, shared Limiter, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if settings.Policies == nil {
		settings.Policies = DefaultPolicies()
	}
	if settings.LockoutThreshold <= 0 {
		settings.LockoutThreshold = defaultLockoutThreshold
	}
	if settings.LockoutWindow <= 0 {
		settings.LockoutWindow = defaultLockoutWindow
	}
	if settings.OutageMode == "" {
		settings.OutageMode = OutageModeOpen
	}
	return &Manager{
		settings: settings,
		nowFn:    nowFn,
		shared:   shared,
		local:    NewMemoryLimiter(nowFn),
	}
}

// Policy returns the limit for action. Unknown actions use the general bucket.
func (m *Manager) Policy(action Action) Policy {
	if policy, ok := m.settings.Policies[action]; ok {
		return policy
	}
	return m.settings.Policies[ActionGeneral]
}

// Check counts one request against the action bucket for subject. Counter
// store failures never deny a request.
func (m *Manager) Check(ctx context.Context, action Action, subject string) Result {
	if m == nil {
		return Result{Allowed: true}
	}
	policy := m.Policy(action)
	key := KeyFor(action, subject)
	if key == "" || policy.Max <= 0 {
		return Result{Allowed: true, Limit: policy.Max, Remaining: policy.Max}
	}
	now := m.nowFn()

	limiter, degraded := m.backend(now)
	if limiter == nil {
		return m.failOpen(policy, now)
	}
	count, ttl, errIncr := limiter.Increment(ctx, key, policy.Window)
	if errIncr != nil {
		m.tripBreaker(errIncr, now)
		if m.settings.OutageMode == OutageModeLocal {
			count, ttl, _ = m.local.Increment(ctx, key, policy.Window)
			degraded = true
		} else {
			return m.failOpen(policy, now)
		}
	}
	result := buildResult(policy, count, ttl, now)
	result.Degraded = degraded
	return result
}

// Reset clears the action bucket for subject.
func (m *Manager) Reset(ctx context.Context, action Action, subject string) {
	m.delete(ctx, KeyFor(action, subject))
}

// IncrementFailure records a failed attempt and returns the running count.
// Returns 0 when the counter store is unavailable.
func (m *Manager) IncrementFailure(ctx context.Context, subject string) int64 {
	key := FailureKey(subject)
	if m == nil || key == "" {
		return 0
	}
	now := m.nowFn()
	limiter, _ := m.backend(now)
	if limiter == nil {
		return 0
	}
	count, _, errIncr := limiter.Increment(ctx, key, m.settings.LockoutWindow)
	if errIncr != nil {
		m.tripBreaker(errIncr, now)
		if m.settings.OutageMode != OutageModeLocal {
			return 0
		}
		count, _, _ = m.local.Increment(ctx, key, m.settings.LockoutWindow)
	}
	return count
}

// Failures returns the current failed-attempt count for subject.
func (m *Manager) Failures(ctx context.Context, subject string) int64 {
	key := FailureKey(subject)
	if m == nil || key == "" {
		return 0
	}
	now := m.nowFn()
	limiter, _ := m.backend(now)
	if limiter == nil {
		return 0
	}
	count, errGet := limiter.Get(ctx, key)
	if errGet != nil {
		m.tripBreaker(errGet, now)
		if m.settings.OutageMode != OutageModeLocal {
			return 0
		}
		count, _ = m.local.Get(ctx, key)
	}
	return count
}

// Locked reports whether subject reached the lockout threshold.
func (m *Manager) Locked(ctx context.Context, subject string) bool {
	if m == nil {
		return false
	}
	return m.Failures(ctx, subject) >= int64(m.settings.LockoutThreshold)
}

// LockoutWindow returns how long a lockout lasts.
func (m *Manager) LockoutWindow() time.Duration {
	return m.settings.LockoutWindow
}

// ResetFailures clears the failed-attempt counter for subject.
func (m *Manager) ResetFailures(ctx context.Context, subject string) {
	m.delete(ctx, FailureKey(subject))
}

func (m *Manager) delete(ctx context.Context, key string) {
	if m == nil || key == "" {
		return
	}
	_ = m.local.Delete(ctx, key)
	if m.shared == nil {
		return
	}
	now := m.nowFn()
	if m.isBreakerActive(now) {
		return
	}
	if errDelete := m.shared.Delete(ctx, key); errDelete != nil {
		m.tripBreaker(errDelete, now)
	}
}

// backend picks the limiter for this call. Returns nil when the shared store
// is down and outage mode is open.
func (m *Manager) backend(now time.Time) (Limiter, bool) {
	if m.shared == nil {
		return m.local, false
	}
	if !m.isBreakerActive(now) {
		return m.shared, false
	}
	if m.settings.OutageMode == OutageModeLocal {
		return m.local, true
	}
	return nil, true
}

func (m *Manager) failOpen(policy Policy, now time.Time) Result {
	return Result{
		Allowed:   true,
		Limit:     policy.Max,
		Remaining: policy.Max,
		Reset:     now.Add(policy.Window).UTC(),
		Degraded:  true,
	}
}

func buildResult(policy Policy, count int64, ttl time.Duration, now time.Time) Result {
	if ttl <= 0 || ttl > policy.Window {
		ttl = policy.Window
	}
	remaining := int64(policy.Max) - count
	if remaining < 0 {
		remaining = 0
	}
	result := Result{
		Allowed:   count <= int64(policy.Max),
		Limit:     policy.Max,
		Remaining: int(remaining),
		Reset:     now.Add(ttl).UTC(),
	}
	if !result.Allowed {
		result.RetryAfter = ttl
	}
	return result
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil || m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).WithField("outage_mode", m.settings.OutageMode).Warn("rate limit: redis unavailable")
}
