package ratelimiter

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

const (
	OperationLogin  = "login"
	OperationSignup = "signup"
)

// Policy bounds the attempts allowed for one operation before a cooldown.
type Policy struct {
	MaxAttempts int
	Cooldown    time.Duration
}

func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		OperationLogin:  {MaxAttempts: 5, Cooldown: 15 * time.Minute},
		OperationSignup: {MaxAttempts: 3, Cooldown: 60 * time.Minute},
	}
}

// Decision is the answer of AttemptLimiter.Check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Message    string
}

type attemptEntry struct {
	attempts      int
	lastAttempt   time.Time
	cooldownUntil time.Time
}

// AttemptLimiter counts attempts per operation and identifier and enforces a
// cooldown once an operation exceeds its policy.
type AttemptLimiter struct {
	mu       sync.Mutex
	entries  map[string]*attemptEntry
	policies map[string]Policy
	fallback Policy
	now      func() time.Time
}

func NewAttemptLimiter(policies map[string]Policy) *AttemptLimiter {
	return newAttemptLimiterWithClock(policies, time.Now)
}

// NewAttemptLimiterWithClock is NewAttemptLimiter with an injected clock.
func NewAttemptLimiterWithClock(policies map[string]Policy, now func() time.Time) *AttemptLimiter {
	return newAttemptLimiterWithClock(policies, now)
}

func newAttemptLimiterWithClock(policies map[string]Policy, now func() time.Time) *AttemptLimiter {
	if now == nil {
		now = time.Now
	}
	merged := DefaultPolicies()
	for op, p := range policies {
		op = strings.ToLower(strings.TrimSpace(op))
		if op == "" || p.MaxAttempts <= 0 || p.Cooldown <= 0 {
			continue
		}
		merged[op] = p
	}
	return &AttemptLimiter{
		entries:  make(map[string]*attemptEntry),
		policies: merged,
		fallback: merged[OperationLogin],
		now:      now,
	}
}

// Policy returns the policy applied to op.
func (l *AttemptLimiter) Policy(op string) Policy {
	if p, ok := l.policies[strings.ToLower(strings.TrimSpace(op))]; ok {
		return p
	}
	return l.fallback
}

// Check records one attempt of op by id and reports whether it may proceed.
func (l *AttemptLimiter) Check(id, op string) Decision {
	key := entryKey(id, op)
	policy := l.Policy(op)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		l.entries[key] = &attemptEntry{attempts: 1, lastAttempt: now}
		return Decision{Allowed: true}
	}
	if !e.cooldownUntil.IsZero() {
		if now.Before(e.cooldownUntil) {
			return denied(op, e.cooldownUntil.Sub(now))
		}
		l.entries[key] = &attemptEntry{attempts: 1, lastAttempt: now}
		return Decision{Allowed: true}
	}

	e.attempts++
	e.lastAttempt = now
	if e.attempts > policy.MaxAttempts {
		e.cooldownUntil = now.Add(policy.Cooldown)
		return denied(op, policy.Cooldown)
	}
	return Decision{Allowed: true}
}

// Reset forgets every attempt of op by id.
func (l *AttemptLimiter) Reset(id, op string) {
	key := entryKey(id, op)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Attempts reports the attempts currently counted for op by id.
func (l *AttemptLimiter) Attempts(id, op string) int {
	key := entryKey(id, op)
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.attempts
	}
	return 0
}

func denied(op string, remaining time.Duration) Decision {
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return Decision{
		Allowed:    false,
		RetryAfter: remaining,
		Message:    fmt.Sprintf("Too many %s attempts. Please try again in %d %s.", strings.ToLower(strings.TrimSpace(op)), minutes, unit),
	}
}

func entryKey(id, op string) string {
	return strings.ToLower(strings.TrimSpace(op)) + ":" + strings.ToLower(strings.TrimSpace(id))
}
