package gatekeeper

import (
	"context"
	"errors"
	"strings"
	"time"

	internalaudit "github.com/loanflow/gatekeeper/internal/audit"
	"github.com/loanflow/gatekeeper/internal/limiters"
	internalmetrics "github.com/loanflow/gatekeeper/internal/metrics"
	"github.com/loanflow/gatekeeper/internal/notify"
	"github.com/loanflow/gatekeeper/jwt"
	"github.com/loanflow/gatekeeper/password"
	"go.uber.org/zap"
)

// maxAccountUpdateRetries bounds the read-modify-write loop against
// concurrent writers of the same account.
const maxAccountUpdateRetries = 4

// errNoChange lets a mutate callback finish updateAccount without a write.
var errNoChange = errors.New("no change")

// Engine runs login, refresh, registration and one-time code flows and
// authenticates presented tokens.
type Engine struct {
	config       Config
	store        AccountStore
	logger       *zap.Logger
	now          func() time.Time
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	lockout      *limiters.Lockout
	audit        *internalaudit.Dispatcher[AuditEvent]
	notifier     *notify.Async
	metrics      *internalmetrics.Metrics
}

// Close drains queued audit events and notifications.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifier.Close()
	e.audit.Close()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotificationsDropped reports mails discarded because the queue was full.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.notifier.Dropped()
}

// MetricsSnapshot copies the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

// AccessTTL reports the lifetime of issued access tokens.
func (e *Engine) AccessTTL() time.Duration { return e.config.JWT.AccessTTL }

// RefreshTTL reports the lifetime of issued refresh tokens.
func (e *Engine) RefreshTTL() time.Duration { return e.config.JWT.RefreshTTL }

// RefreshPath reports the only path refresh tokens are accepted at.
func (e *Engine) RefreshPath() string { return e.config.JWT.RefreshPath }

// Authenticate turns an access token into a verified identity. Every
// failure, whatever its cause, is reported as ErrUnauthorized.
func (e *Engine) Authenticate(ctx context.Context, token string) (Identity, error) {
	if e == nil {
		return Identity{}, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(time.Since(start)) }()

	if _, err := e.jwtManager.Decode(token); err != nil {
		return e.authFailure(err)
	}
	v, err := e.jwtManager.Verify(token, jwt.KindAccess)
	if err != nil {
		return e.authFailure(err)
	}
	role, ok := ParseRole(v.Role())
	if !ok {
		return e.authFailure(errors.New("unknown role claim"))
	}

	e.metricInc(MetricAuthenticateSuccess)
	return Identity{subject: v.Subject(), role: role}, nil
}

func (e *Engine) authFailure(cause error) (Identity, error) {
	e.metricInc(MetricAuthenticateFailure)
	e.logger.Debug("token rejected", zap.Error(cause))
	return Identity{}, ErrUnauthorized
}

// Login checks the lockout state, then the password, and mints an access
// and a refresh token. A locked account is rejected before the password is
// looked at. Unknown emails and wrong passwords both yield
// ErrInvalidCredentials after comparable work.
func (e *Engine) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		e.passwordHash.VerifyDummy(pw)
		return nil, ErrInvalidCredentials
	}

	acc, err := e.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.passwordHash.VerifyDummy(pw)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, email, ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, e.storeErr(err)
	}

	now := e.now()
	if e.lockout.IsLocked(lockStateOf(acc), now) {
		e.metricInc(MetricLoginLockedRejected)
		e.emitAudit(ctx, auditEventLoginLocked, false, email, ErrAccountLocked, nil)
		return nil, &LockedError{Until: time.UnixMilli(acc.LockedUntil)}
	}

	ok, err := e.passwordHash.Verify(pw, acc.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrPasswordTooLong) {
		e.logger.Error("stored password hash unreadable", zap.String("email", email), zap.Error(err))
	}
	if !ok {
		return nil, e.recordLoginFailure(ctx, email, now)
	}

	if e.config.Account.RequireVerified && !acc.Verified {
		e.metricInc(MetricLoginUnverified)
		e.emitAudit(ctx, auditEventLoginFailure, false, email, ErrAccountUnverified, nil)
		return nil, ErrAccountUnverified
	}

	var rehash string
	if e.config.Password.UpgradeOnLogin {
		if needs, err := e.passwordHash.NeedsRehash(acc.PasswordHash); err == nil && needs {
			if h, err := e.passwordHash.Hash(pw); err == nil {
				rehash = h
			}
		}
	}

	saved, err := e.updateAccount(ctx, email, func(a *Account) error {
		if a.PasswordHash != acc.PasswordHash {
			// Password replaced since it was checked.
			return ErrInvalidCredentials
		}
		if e.lockout.IsLocked(lockStateOf(*a), now) {
			return &LockedError{Until: time.UnixMilli(a.LockedUntil)}
		}
		next := e.lockout.RecordSuccess(e.lockout.Normalize(lockStateOf(*a), now))
		applyLockState(a, next)
		a.LastLogin = now.UnixMilli()
		if rehash != "" {
			a.PasswordHash = rehash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := e.issueTokens(saved, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, email, nil, nil)
	return result, nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, email string, now time.Time) error {
	var (
		lockedNow bool
		until     int64
	)
	_, err := e.updateAccount(ctx, email, func(a *Account) error {
		next, locked := e.lockout.RecordFailure(lockStateOf(*a), now)
		applyLockState(a, next)
		lockedNow, until = locked, next.LockedUntil
		return nil
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricLoginFailure)
	if lockedNow {
		e.metricInc(MetricAccountLocked)
		e.logger.Warn("account locked after repeated failures",
			zap.String("email", email),
			zap.Int("threshold", e.lockout.Threshold()),
			zap.Duration("window", e.lockout.Window()),
		)
		e.emitAudit(ctx, auditEventAccountLocked, false, email, ErrAccountLocked, nil)
		return &LockedError{Until: time.UnixMilli(until)}
	}

	e.emitAudit(ctx, auditEventLoginFailure, false, email, ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

func (e *Engine) issueTokens(acc Account, now time.Time) (*LoginResult, error) {
	access, err := e.jwtManager.IssueAccess(acc.Email, string(acc.Role))
	if err != nil {
		return nil, err
	}
	refresh, err := e.jwtManager.IssueRefresh(acc.Email, string(acc.Role))
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Subject:          acc.Email,
		Role:             acc.Role,
		AccessToken:      access,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshToken:     refresh,
		RefreshExpiresAt: now.Add(e.config.JWT.RefreshTTL),
	}, nil
}

// Refresh exchanges a refresh token presented at presentedPath for a new
// access token. The role is read from the current account record. The
// refresh token is not rotated and stays usable until it expires.
func (e *Engine) Refresh(ctx context.Context, refreshToken, presentedPath string) (*RefreshResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	v, err := e.jwtManager.VerifyRefresh(refreshToken, presentedPath)
	if err != nil {
		e.logger.Debug("refresh token rejected", zap.Error(err))
		return nil, e.refreshFailure(ctx, "")
	}

	acc, err := e.store.FindAccountByEmail(ctx, v.Subject())
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, e.refreshFailure(ctx, v.Subject())
		}
		return nil, e.storeErr(err)
	}

	access, err := e.jwtManager.IssueAccess(acc.Email, string(acc.Role))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, acc.Email, nil, nil)
	return &RefreshResult{
		Subject:         acc.Email,
		Role:            acc.Role,
		AccessToken:     access,
		AccessExpiresAt: e.now().Add(e.config.JWT.AccessTTL),
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, subject string) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, subject, ErrRefreshInvalid, nil)
	return ErrRefreshInvalid
}

// updateAccount applies mutate to the freshly read account and saves it
// with a version check, retrying when another writer got there first.
func (e *Engine) updateAccount(ctx context.Context, email string, mutate func(*Account) error) (Account, error) {
	for attempt := 0; attempt < maxAccountUpdateRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Account{}, err
		}

		acc, err := e.store.FindAccountByEmail(ctx, email)
		if err != nil {
			return Account{}, e.storeErr(err)
		}
		if err := mutate(&acc); err != nil {
			if errors.Is(err, errNoChange) {
				return acc, nil
			}
			return Account{}, err
		}

		if err := ctx.Err(); err != nil {
			return Account{}, err
		}
		saved, err := e.store.SaveAccount(ctx, acc)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Account{}, e.storeErr(err)
		}
		e.metricInc(MetricStoreConflict)
	}

	e.logger.Warn("account update kept conflicting", zap.String("email", email))
	e.emitAudit(ctx, auditEventStoreConflictExceed, false, email, ErrAccountConflict, nil)
	return Account{}, ErrAccountConflict
}

func (e *Engine) storeErr(err error) error {
	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	e.logger.Error("account store failure", zap.Error(err))
	if errors.Is(err, ErrAccountStoreUnavailable) {
		return err
	}
	return storeUnavailable(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func lockStateOf(acc Account) limiters.LockoutState {
	return limiters.LockoutState{FailedAttempts: acc.FailedAttempts, LockedUntil: acc.LockedUntil}
}

func applyLockState(acc *Account, s limiters.LockoutState) {
	acc.FailedAttempts = s.FailedAttempts
	acc.LockedUntil = s.LockedUntil
}
