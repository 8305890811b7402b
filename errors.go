package gatekeeper

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned by Authenticate for any missing, malformed,
	// forged or expired credential. The cause is deliberately not exposed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a verified identity lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified is returned on login before the email is verified.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAccountExists is returned when registering an email already in use.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned by an AccountStore for unknown emails.
	ErrAccountNotFound = errors.New("account not found")
	// ErrVersionConflict is returned by AccountStore.SaveAccount when the
	// stored version no longer matches the one that was read.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrAccountConflict is returned when an account update kept losing the
	// compare-and-swap race.
	ErrAccountConflict = errors.New("account update conflict")
	// ErrAccountStoreUnavailable wraps backend failures of the AccountStore.
	ErrAccountStoreUnavailable = errors.New("account store unavailable")
	// ErrRefreshInvalid is returned for any refresh token that cannot mint a
	// new access token.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrOTPInvalid is returned when no code is outstanding or the code does not match.
	ErrOTPInvalid = errors.New("invalid otp")
	// ErrOTPExpired is returned when the matching code is past its expiry.
	ErrOTPExpired = errors.New("otp expired")
	// ErrInvalidRequest is returned for malformed input such as an empty email.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPasswordPolicy is returned when a new password is outside the allowed length.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrEngineNotReady is returned by methods called on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError reports an active lock together with the instant it ends.
// errors.Is(err, ErrAccountLocked) holds for it.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
}
