package gatekeeper

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/loanflow/gatekeeper/internal/audit"
	internalmetrics "github.com/loanflow/gatekeeper/internal/metrics"
	"github.com/loanflow/gatekeeper/internal/notify"
	"go.uber.org/zap"
)

// Role is the closed set of roles embedded in issued tokens.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole accepts exactly the known role names.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// OTPPurpose selects which one-time code slot of an account is used.
type OTPPurpose string

const (
	PurposeVerifyEmail   OTPPurpose = "verify-email"
	PurposeResetPassword OTPPurpose = "reset-password"
)

// OTPSlot holds at most one outstanding code. An empty Code means no code.
type OTPSlot struct {
	Code string
	// ExpiresAt is epoch milliseconds.
	ExpiresAt int64
}

// Account is the user record. The engine reads it by email and writes it
// back through AccountStore.SaveAccount.
type Account struct {
	UserID         string
	Email          string
	Name           string
	PasswordHash   string
	Role           Role
	Verified       bool
	VerifyOTP      OTPSlot
	ResetOTP       OTPSlot
	FailedAttempts int
	// LockedUntil is epoch milliseconds; zero means never locked.
	LockedUntil int64
	// LastLogin is epoch milliseconds of the last successful login.
	LastLogin int64
	// Version is maintained by the store and advances on every save.
	Version int64
}

func (a *Account) otpSlot(purpose OTPPurpose) *OTPSlot {
	switch purpose {
	case PurposeVerifyEmail:
		return &a.VerifyOTP
	case PurposeResetPassword:
		return &a.ResetOTP
	}
	return nil
}

// AccountStore persists accounts keyed by email.
//
// SaveAccount must behave as a compare-and-swap: it writes acc only if the
// stored Version still equals acc.Version, and returns the stored record
// with the advanced Version. Otherwise it returns ErrVersionConflict.
type AccountStore interface {
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
	CreateAccount(ctx context.Context, acc Account) (Account, error)
	SaveAccount(ctx context.Context, acc Account) (Account, error)
}

// Notification is one outbound mail.
type Notification = notify.Message

// Notifier delivers notifications. The engine queues calls to it on
// background workers.
type Notifier = notify.Sender

// Identity is a subject and role taken from a token whose signature, expiry
// and kind were verified. Only Engine.Authenticate produces one.
type Identity struct {
	subject string
	role    Role
}

func (i Identity) Subject() string { return i.subject }
func (i Identity) Role() Role      { return i.role }

// Valid reports whether i came from a successful authentication.
func (i Identity) Valid() bool { return i.subject != "" && i.role != "" }

// LoginResult carries the tokens minted by a successful login.
type LoginResult struct {
	Subject          string
	Role             Role
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshResult carries the access token minted from a refresh token. The
// refresh token itself is not replaced.
type RefreshResult struct {
	Subject         string
	Role            Role
	AccessToken     string
	AccessExpiresAt time.Time
}

// RegisterRequest is the input for Register and RegisterAdmin.
type RegisterRequest struct {
	Email    string
	Name     string
	Password string
}

// Profile is the caller-facing view of an account. It carries no secrets.
type Profile struct {
	UserID    string
	Email     string
	Name      string
	Role      Role
	Verified  bool
	LastLogin time.Time
}

// OTPOutcome tells the caller what GenerateOTP did. HTTP handlers render
// every outcome the same way so account existence is not revealed.
type OTPOutcome uint8

const (
	// OTPSent means a code was stored and a notification queued.
	OTPSent OTPOutcome = iota + 1
	// OTPAlreadyVerified means a verification code was requested for a
	// verified account. Nothing was stored or sent.
	OTPAlreadyVerified
	// OTPSuppressed means the email is unknown. Nothing was stored or sent.
	OTPSuppressed
)

func (o OTPOutcome) String() string {
	switch o {
	case OTPSent:
		return "sent"
	case OTPAlreadyVerified:
		return "already_verified"
	case OTPSuppressed:
		return "suppressed"
	}
	return "unknown"
}

// AuditEvent is a security event delivered to the configured AuditSink.
type AuditEvent = internalaudit.Event

// AuditSink consumes audit events off the request path.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel, mostly for tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs audit events through zap.
type ZapSink = internalaudit.ZapSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}

// MetricID indexes an engine counter.
type MetricID = internalmetrics.MetricID

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricLoginSuccess        = internalmetrics.MetricLoginSuccess
	MetricLoginFailure        = internalmetrics.MetricLoginFailure
	MetricLoginLockedRejected = internalmetrics.MetricLoginLockedRejected
	MetricLoginUnverified     = internalmetrics.MetricLoginUnverified
	MetricAccountLocked       = internalmetrics.MetricAccountLocked
	MetricRefreshSuccess      = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure      = internalmetrics.MetricRefreshFailure
	MetricAuthenticateSuccess = internalmetrics.MetricAuthenticateSuccess
	MetricAuthenticateFailure = internalmetrics.MetricAuthenticateFailure
	MetricRoleDenied          = internalmetrics.MetricRoleDenied
	MetricRateLimitHit        = internalmetrics.MetricRateLimitHit
	MetricAccountCreated      = internalmetrics.MetricAccountCreated
	MetricAccountDuplicate    = internalmetrics.MetricAccountDuplicate
	MetricOTPIssued           = internalmetrics.MetricOTPIssued
	MetricOTPSuppressed       = internalmetrics.MetricOTPSuppressed
	MetricOTPConsumed         = internalmetrics.MetricOTPConsumed
	MetricOTPInvalid          = internalmetrics.MetricOTPInvalid
	MetricOTPExpired          = internalmetrics.MetricOTPExpired
	MetricEmailVerified       = internalmetrics.MetricEmailVerified
	MetricPasswordReset       = internalmetrics.MetricPasswordReset
	MetricStoreConflict       = internalmetrics.MetricStoreConflict
	MetricNotificationFailed  = internalmetrics.MetricNotificationFailed
	MetricAuthenticateLatency = internalmetrics.MetricAuthenticateLatency
)
