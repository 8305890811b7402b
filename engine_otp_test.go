package gatekeeper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loanflow/gatekeeper/internal/notify"
)

func TestVerificationCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "na@loanflow.test", Password: "right-password"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	outcome, err := env.engine.SendVerificationOTP(ctx, "na@loanflow.test")
	if err != nil || outcome != OTPSent {
		t.Fatalf("SendVerificationOTP = %v, %v", outcome, err)
	}

	msg := env.notifier.next(t)
	code := env.store.get(t, "na@loanflow.test").VerifyOTP.Code
	if msg.Kind != notify.KindVerifyEmail || msg.To != "na@loanflow.test" {
		t.Fatalf("unexpected notification: %+v", msg)
	}
	if len(code) != 6 || !strings.Contains(msg.Body, code) || !strings.Contains(msg.Body, "24 hours") {
		t.Fatalf("notification body does not carry the code: %q", msg.Body)
	}

	if err := env.engine.VerifyEmail(ctx, "na@loanflow.test", code); err != nil {
		t.Fatalf("VerifyEmail error: %v", err)
	}
	acc := env.store.get(t, "na@loanflow.test")
	if !acc.Verified || acc.VerifyOTP != (OTPSlot{}) {
		t.Fatalf("expected verified account with cleared slot, got %+v", acc)
	}

	if err := env.engine.VerifyEmail(ctx, "na@loanflow.test", code); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("second use: expected ErrOTPInvalid, got %v", err)
	}
}

func TestVerificationRequestForVerifiedAccountIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "ol@loanflow.test", "right-password", RoleUser)
	before := env.store.get(t, "ol@loanflow.test")

	outcome, err := env.engine.SendVerificationOTP(context.Background(), "ol@loanflow.test")
	if err != nil || outcome != OTPAlreadyVerified {
		t.Fatalf("SendVerificationOTP = %v, %v", outcome, err)
	}
	after := env.store.get(t, "ol@loanflow.test")
	if after.Version != before.Version || after.VerifyOTP.Code != "" {
		t.Fatal("verified account was written")
	}
	env.notifier.expectNone(t)
}

func TestResetCodeExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "pa@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	if _, err := env.engine.SendResetOTP(ctx, "pa@loanflow.test"); err != nil {
		t.Fatalf("SendResetOTP error: %v", err)
	}
	msg := env.notifier.next(t)
	if msg.Kind != notify.KindPasswordReset || !strings.Contains(msg.Body, "15 minutes") {
		t.Fatalf("unexpected notification: %+v", msg)
	}
	code := env.store.get(t, "pa@loanflow.test").ResetOTP.Code

	env.clock.Advance(15*time.Minute + time.Second)
	if err := env.engine.ResetPassword(ctx, "pa@loanflow.test", code, "new-password-1"); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "pa@loanflow.test", "right-password"); err != nil {
		t.Fatalf("old password must still work: %v", err)
	}
}

func TestResetCodeAtExactExpiryIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "qi@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	if _, err := env.engine.SendResetOTP(ctx, "qi@loanflow.test"); err != nil {
		t.Fatalf("SendResetOTP error: %v", err)
	}
	code := env.store.get(t, "qi@loanflow.test").ResetOTP.Code

	env.clock.Advance(15 * time.Minute)
	if err := env.engine.ConsumeOTP(ctx, "qi@loanflow.test", PurposeResetPassword, code, nil); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired at expiry instant, got %v", err)
	}
}

func TestResetPasswordReplacesCredentialAndLiftsLock(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "ro@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, "ro@loanflow.test", "wrong-password")
	}
	if _, err := env.engine.SendResetOTP(ctx, "ro@loanflow.test"); err != nil {
		t.Fatalf("SendResetOTP error: %v", err)
	}
	code := env.store.get(t, "ro@loanflow.test").ResetOTP.Code

	env.clock.Advance(14 * time.Minute)
	if err := env.engine.ResetPassword(ctx, "ro@loanflow.test", code, "brand-new-password"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}

	if _, err := env.engine.Login(ctx, "ro@loanflow.test", "right-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password accepted after reset: %v", err)
	}
	if _, err := env.engine.Login(ctx, "ro@loanflow.test", "brand-new-password"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, "ro@loanflow.test", code, "another-password"); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("reset code reused: %v", err)
	}
}

func TestResetPasswordPolicyFailureKeepsCode(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "su@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	if _, err := env.engine.SendResetOTP(ctx, "su@loanflow.test"); err != nil {
		t.Fatalf("SendResetOTP error: %v", err)
	}
	code := env.store.get(t, "su@loanflow.test").ResetOTP.Code

	if err := env.engine.ResetPassword(ctx, "su@loanflow.test", code, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, "su@loanflow.test", code, "long-enough-now"); err != nil {
		t.Fatalf("code burned by policy failure: %v", err)
	}
}

func TestNewCodeReplacesOutstandingOne(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "ta@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	var first string
	for {
		if _, err := env.engine.SendResetOTP(ctx, "ta@loanflow.test"); err != nil {
			t.Fatalf("SendResetOTP error: %v", err)
		}
		first = env.store.get(t, "ta@loanflow.test").ResetOTP.Code
		if _, err := env.engine.SendResetOTP(ctx, "ta@loanflow.test"); err != nil {
			t.Fatalf("SendResetOTP error: %v", err)
		}
		if env.store.get(t, "ta@loanflow.test").ResetOTP.Code != first {
			break
		}
	}

	if err := env.engine.ConsumeOTP(ctx, "ta@loanflow.test", PurposeResetPassword, first, nil); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("superseded code accepted: %v", err)
	}
}

func TestOTPFlowsDoNotRevealAccountExistence(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "uma@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	known, knownErr := env.engine.SendResetOTP(ctx, "uma@loanflow.test")
	unknown, unknownErr := env.engine.SendResetOTP(ctx, "ghost@loanflow.test")
	if knownErr != nil || unknownErr != nil {
		t.Fatalf("send errors differ: %v vs %v", knownErr, unknownErr)
	}
	if known != OTPSent || unknown != OTPSuppressed {
		t.Fatalf("unexpected outcomes: %v, %v", known, unknown)
	}
	if msg := env.notifier.next(t); msg.To != "uma@loanflow.test" {
		t.Fatalf("unexpected recipient %s", msg.To)
	}
	env.notifier.expectNone(t)

	wrongCode := env.engine.ResetPassword(ctx, "uma@loanflow.test", "000000", "long-enough-now")
	noAccount := env.engine.ResetPassword(ctx, "ghost@loanflow.test", "000000", "long-enough-now")
	if wrongCode != noAccount || !errors.Is(noAccount, ErrOTPInvalid) {
		t.Fatalf("consume errors differ: %v vs %v", wrongCode, noAccount)
	}
}

func TestConsumeWithoutOutstandingCode(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "vi@loanflow.test", "right-password", RoleUser)

	if err := env.engine.ConsumeOTP(context.Background(), "vi@loanflow.test", PurposeResetPassword, "", nil); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid for empty slot, got %v", err)
	}
	if err := env.engine.ConsumeOTP(context.Background(), "vi@loanflow.test", OTPPurpose("bogus"), "123456", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unknown purpose, got %v", err)
	}
}

func TestConcurrentConsumeHasSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "wu@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	if _, err := env.engine.SendResetOTP(ctx, "wu@loanflow.test"); err != nil {
		t.Fatalf("SendResetOTP error: %v", err)
	}
	code := env.store.get(t, "wu@loanflow.test").ResetOTP.Code

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		applied int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := env.engine.ConsumeOTP(ctx, "wu@loanflow.test", PurposeResetPassword, code, func(*Account) error {
				mu.Lock()
				applied++
				mu.Unlock()
				return nil
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrOTPInvalid) && !errors.Is(err, ErrAccountConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", winners)
	}
	if applied < 1 {
		t.Fatal("apply never ran")
	}
	if slot := env.store.get(t, "wu@loanflow.test").ResetOTP; slot != (OTPSlot{}) {
		t.Fatalf("expected cleared slot, got %+v", slot)
	}
}

func TestForceVerifyClearsOutstandingCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "vi@loanflow.test", Password: "right-password"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := env.engine.SendVerificationOTP(ctx, "vi@loanflow.test"); err != nil {
		t.Fatalf("SendVerificationOTP error: %v", err)
	}
	code := env.store.get(t, "vi@loanflow.test").VerifyOTP.Code

	if err := env.engine.ForceVerify(ctx, " VI@loanflow.test "); err != nil {
		t.Fatalf("ForceVerify error: %v", err)
	}
	acc := env.store.get(t, "vi@loanflow.test")
	if !acc.Verified {
		t.Fatal("expected account to be verified")
	}
	if acc.VerifyOTP != (OTPSlot{}) {
		t.Fatalf("expected verify slot to be cleared, got %+v", acc.VerifyOTP)
	}
	if err := env.engine.VerifyEmail(ctx, "vi@loanflow.test", code); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("old code still accepted: %v", err)
	}

	saves := env.store.saveCount()
	if err := env.engine.ForceVerify(ctx, "vi@loanflow.test"); err != nil {
		t.Fatalf("repeat ForceVerify error: %v", err)
	}
	if env.store.saveCount() != saves {
		t.Fatal("expected no write for an already verified account")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricEmailVerified]; got != 1 {
		t.Fatalf("expected one verification counted, got %d", got)
	}
}

func TestForceVerifyUnknownAccount(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.ForceVerify(context.Background(), "nobody@loanflow.test"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := env.engine.ForceVerify(context.Background(), "  "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
