package limiters

import "time"

const (
	// DefaultLockoutThreshold is the failure count that triggers a lock.
	DefaultLockoutThreshold = 5
	// DefaultLockoutWindow is how long a triggered lock lasts.
	DefaultLockoutWindow = 15 * time.Minute
)

// LockoutConfig holds the lockout policy. Zero fields take the defaults.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

// LockoutState is the slice of an account record the policy reads and writes.
type LockoutState struct {
	FailedAttempts int
	// LockedUntil is epoch milliseconds; zero means no lock was ever set.
	LockedUntil int64
}

// Lockout decides when repeated failures suspend an account.
type Lockout struct {
	config LockoutConfig
}

// NewLockout returns a Lockout with defaults filled in.
func NewLockout(cfg LockoutConfig) *Lockout {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLockoutThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultLockoutWindow
	}
	return &Lockout{config: cfg}
}

// Threshold reports the configured failure threshold.
func (l *Lockout) Threshold() int { return l.config.Threshold }

// Window reports the configured lock duration.
func (l *Lockout) Window() time.Duration { return l.config.Window }

// IsLocked reports whether s holds a lock that has not yet elapsed.
func (l *Lockout) IsLocked(s LockoutState, now time.Time) bool {
	return s.LockedUntil != 0 && now.UnixMilli() < s.LockedUntil
}

// Remaining returns how long the lock in s still lasts, or zero.
func (l *Lockout) Remaining(s LockoutState, now time.Time) time.Duration {
	if !l.IsLocked(s, now) {
		return 0
	}
	return time.Duration(s.LockedUntil-now.UnixMilli()) * time.Millisecond
}

// Normalize drops a lock whose window has elapsed together with the counter
// that produced it, so the next failure starts a fresh count.
func (l *Lockout) Normalize(s LockoutState, now time.Time) LockoutState {
	if s.LockedUntil != 0 && !l.IsLocked(s, now) {
		return LockoutState{}
	}
	return s
}

// RecordFailure counts one failed attempt. lockedNow is true when this
// failure reached the threshold and started a lock.
func (l *Lockout) RecordFailure(s LockoutState, now time.Time) (next LockoutState, lockedNow bool) {
	next = l.Normalize(s, now)
	next.FailedAttempts++
	if next.FailedAttempts >= l.config.Threshold && !l.IsLocked(next, now) {
		next.LockedUntil = now.Add(l.config.Window).UnixMilli()
		lockedNow = true
	}
	return next, lockedNow
}

// RecordSuccess clears the failure counter. The lock field is left alone;
// a successful attempt is not reachable while locked.
func (l *Lockout) RecordSuccess(s LockoutState) LockoutState {
	s.FailedAttempts = 0
	return s
}
