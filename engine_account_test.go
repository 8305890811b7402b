package gatekeeper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loanflow/gatekeeper/internal/notify"
)

func TestRegisterCreatesUnverifiedUser(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Account.SendWelcome = true })
	ctx := context.Background()

	profile, err := env.engine.Register(ctx, RegisterRequest{
		Email:    " Xena@LoanFlow.test",
		Name:     " Xena Warrior ",
		Password: "right-password",
	})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if profile.Email != "xena@loanflow.test" || profile.Name != "Xena Warrior" || profile.Role != RoleUser || profile.Verified {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if _, err := uuid.Parse(profile.UserID); err != nil {
		t.Fatalf("expected uuid user id, got %q", profile.UserID)
	}

	acc := env.store.get(t, "xena@loanflow.test")
	if !strings.HasPrefix(acc.PasswordHash, "$argon2id$") || strings.Contains(acc.PasswordHash, "right-password") {
		t.Fatalf("unexpected stored hash: %s", acc.PasswordHash)
	}

	msg := env.notifier.next(t)
	if msg.Kind != notify.KindWelcome || msg.To != "xena@loanflow.test" || !strings.Contains(msg.Body, "Xena Warrior") {
		t.Fatalf("unexpected welcome mail: %+v", msg)
	}
}

func TestRegisterAdminAssignsAdminRole(t *testing.T) {
	env := newTestEnv(t)
	profile, err := env.engine.RegisterAdmin(context.Background(), RegisterRequest{
		Email:    "yara@loanflow.test",
		Password: "right-password",
	})
	if err != nil {
		t.Fatalf("RegisterAdmin error: %v", err)
	}
	if profile.Role != RoleAdmin {
		t.Fatalf("expected ADMIN, got %s", profile.Role)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"empty email", RegisterRequest{Password: "right-password"}, ErrInvalidRequest},
		{"not an email", RegisterRequest{Email: "zed", Password: "right-password"}, ErrInvalidRequest},
		{"display name", RegisterRequest{Email: "Zed <zed@loanflow.test>", Password: "right-password"}, ErrInvalidRequest},
		{"short password", RegisterRequest{Email: "zed@loanflow.test", Password: "short"}, ErrPasswordPolicy},
		{"long password", RegisterRequest{Email: "zed@loanflow.test", Password: strings.Repeat("p", 1025)}, ErrPasswordPolicy},
	}
	for _, tc := range cases {
		if _, err := env.engine.Register(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := RegisterRequest{Email: "abe@loanflow.test", Password: "right-password"}

	if _, err := env.engine.Register(ctx, req); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	req.Email = "ABE@loanflow.test"
	if _, err := env.engine.Register(ctx, req); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricAccountDuplicate]; got != 1 {
		t.Fatalf("expected duplicate metric 1, got %d", got)
	}
}

func TestProfileHidesSecrets(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "bea@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, "bea@loanflow.test", "right-password"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	profile, err := env.engine.Profile(ctx, "bea@loanflow.test")
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if !profile.Verified || !profile.LastLogin.Equal(env.clock.Now()) {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	if _, err := env.engine.Profile(ctx, "missing@loanflow.test"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestConcurrentFailuresAreAllCounted(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Lockout.Threshold = 100 })
	env.seed(t, "cal@loanflow.test", "right-password", RoleUser)
	ctx := context.Background()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		counted   int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Login(ctx, "cal@loanflow.test", "wrong-password")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrInvalidCredentials):
				counted++
			case errors.Is(err, ErrAccountConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if counted+conflicts != attempts {
		t.Fatalf("lost results: counted=%d conflicts=%d", counted, conflicts)
	}
	if got := env.store.get(t, "cal@loanflow.test").FailedAttempts; got != counted {
		t.Fatalf("failed attempts = %d, want %d", got, counted)
	}
}

func TestAuditEventsReachSink(t *testing.T) {
	sink := NewChannelSink(64)
	store := newFakeStore()
	clock := newTestClock()
	engine, err := New().
		WithConfig(testConfig()).
		WithAccountStore(store).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	defer engine.Close()

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if _, err := engine.Login(ctx, "dan@loanflow.test", "whatever-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	select {
	case ev := <-sink.Events():
		if ev.EventType != "login_failure" || ev.Success || ev.IP != "203.0.113.7" || ev.Error != "invalid_credentials" {
			t.Fatalf("unexpected audit event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audit event not delivered")
	}
}
