package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loanflow/gatekeeper/internal/notify"
	"github.com/loanflow/gatekeeper/internal/otp"
	"github.com/loanflow/gatekeeper/password"
	"go.uber.org/zap"
)

// SendVerificationOTP mails a fresh email-verification code.
func (e *Engine) SendVerificationOTP(ctx context.Context, email string) (OTPOutcome, error) {
	return e.GenerateOTP(ctx, email, PurposeVerifyEmail)
}

// SendResetOTP mails a fresh password-reset code.
func (e *Engine) SendResetOTP(ctx context.Context, email string) (OTPOutcome, error) {
	return e.GenerateOTP(ctx, email, PurposeResetPassword)
}

// GenerateOTP stores a new code in the purpose slot, replacing any
// outstanding one, and queues it for delivery. Unknown emails yield
// OTPSuppressed with a nil error.
func (e *Engine) GenerateOTP(ctx context.Context, email string, purpose OTPPurpose) (OTPOutcome, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	ttl, ok := e.otpTTL(purpose)
	if email == "" || !ok {
		return 0, ErrInvalidRequest
	}

	code, err := otp.Generate()
	if err != nil {
		return 0, err
	}
	now := e.now()

	var outcome OTPOutcome
	acc, err := e.updateAccount(ctx, email, func(a *Account) error {
		if purpose == PurposeVerifyEmail && a.Verified {
			outcome = OTPAlreadyVerified
			return errNoChange
		}
		*a.otpSlot(purpose) = OTPSlot{Code: code, ExpiresAt: now.Add(ttl).UnixMilli()}
		outcome = OTPSent
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricOTPSuppressed)
			e.emitAudit(ctx, auditEventOTPRequested, false, email, nil, purposeMetadata(purpose))
			return OTPSuppressed, nil
		}
		return 0, err
	}
	if outcome != OTPSent {
		return outcome, nil
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPRequested, true, email, nil, purposeMetadata(purpose))
	e.notifier.Enqueue(ctx, otpMessage(acc, purpose, code, ttl))
	return OTPSent, nil
}

// ConsumeOTP checks code against the purpose slot. On a match before expiry
// it clears the slot and runs apply on the account in the same write, so a
// code is accepted at most once. An expired code is left in place.
func (e *Engine) ConsumeOTP(ctx context.Context, email string, purpose OTPPurpose, code string, apply func(*Account) error) error {
	if e == nil {
		return ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if _, ok := e.otpTTL(purpose); email == "" || !ok {
		return ErrInvalidRequest
	}
	now := e.now()

	_, err := e.updateAccount(ctx, email, func(a *Account) error {
		slot := a.otpSlot(purpose)
		if !otp.Equal(slot.Code, code) {
			return ErrOTPInvalid
		}
		if now.UnixMilli() >= slot.ExpiresAt {
			return ErrOTPExpired
		}
		*slot = OTPSlot{}
		if apply != nil {
			return apply(a)
		}
		return nil
	})

	switch {
	case err == nil:
		e.metricInc(MetricOTPConsumed)
		e.emitAudit(ctx, auditEventOTPConsumed, true, email, nil, purposeMetadata(purpose))
		return nil
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrOTPInvalid):
		e.metricInc(MetricOTPInvalid)
		e.emitAudit(ctx, auditEventOTPRejected, false, email, ErrOTPInvalid, purposeMetadata(purpose))
		return ErrOTPInvalid
	case errors.Is(err, ErrOTPExpired):
		e.metricInc(MetricOTPExpired)
		e.emitAudit(ctx, auditEventOTPRejected, false, email, ErrOTPExpired, purposeMetadata(purpose))
		return ErrOTPExpired
	}
	return err
}

// VerifyEmail consumes a verification code and marks the account verified.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) error {
	err := e.ConsumeOTP(ctx, email, PurposeVerifyEmail, code, func(a *Account) error {
		a.Verified = true
		return nil
	})
	if err == nil {
		e.metricInc(MetricEmailVerified)
	}
	return err
}

// ResetPassword consumes a reset code and replaces the password hash. The
// new password is checked before the code so a policy failure leaves the
// code usable. A reset also lifts any active lockout.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return ErrPasswordPolicy
		}
		return err
	}

	err = e.ConsumeOTP(ctx, email, PurposeResetPassword, code, func(a *Account) error {
		a.PasswordHash = hash
		a.FailedAttempts = 0
		a.LockedUntil = 0
		return nil
	})
	if err == nil {
		e.metricInc(MetricPasswordReset)
	}
	return err
}

// ForceVerify marks the account verified without a code and discards any
// outstanding verification code in the same write. Callers gate it behind
// an ADMIN identity.
func (e *Engine) ForceVerify(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidRequest
	}

	changed := false
	_, err := e.updateAccount(ctx, email, func(a *Account) error {
		changed = false
		if a.Verified && a.VerifyOTP == (OTPSlot{}) {
			return errNoChange
		}
		a.Verified = true
		a.VerifyOTP = OTPSlot{}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return err
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventForceVerified, true, email, nil, nil)
	e.logger.Info("email force verified", zap.String("email", email))
	return nil
}

func (e *Engine) otpTTL(purpose OTPPurpose) (time.Duration, bool) {
	switch purpose {
	case PurposeVerifyEmail:
		return e.config.OTP.VerifyTTL, true
	case PurposeResetPassword:
		return e.config.OTP.ResetTTL, true
	}
	return 0, false
}

func purposeMetadata(purpose OTPPurpose) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	}
}

func otpMessage(acc Account, purpose OTPPurpose, code string, ttl time.Duration) notify.Message {
	msg := notify.Message{To: acc.Email}
	switch purpose {
	case PurposeVerifyEmail:
		msg.Kind = notify.KindVerifyEmail
		msg.Subject = "Verify your LoanFlow email"
		msg.Body = fmt.Sprintf("Your verification code is %s. It expires in %s.\n", code, humanDuration(ttl))
	case PurposeResetPassword:
		msg.Kind = notify.KindPasswordReset
		msg.Subject = "Reset your LoanFlow password"
		msg.Body = fmt.Sprintf("Your password reset code is %s. It expires in %s.\n"+
			"If you did not ask for a reset, ignore this message.\n", code, humanDuration(ttl))
	}
	return msg
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
