package stores

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loanflow/gatekeeper"
)

func sampleAccount(email string) gatekeeper.Account {
	return gatekeeper.Account{
		UserID:       "5f0c6a59-3b1e-4d5e-9c55-2f1b8f0f7a10",
		Email:        email,
		Name:         "Rita Lender",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		Role:         gatekeeper.RoleUser,
	}
}

// exerciseAccountStore runs the behavior every AccountStore must share.
func exerciseAccountStore(t *testing.T, store gatekeeper.AccountStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.FindAccountByEmail(ctx, "rita@loanflow.test"); !errors.Is(err, gatekeeper.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	created, err := store.CreateAccount(ctx, sampleAccount("rita@loanflow.test"))
	if err != nil {
		t.Fatalf("CreateAccount error: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}
	if _, err := store.CreateAccount(ctx, sampleAccount("rita@loanflow.test")); !errors.Is(err, gatekeeper.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	stale, err := store.FindAccountByEmail(ctx, "rita@loanflow.test")
	if err != nil {
		t.Fatalf("FindAccountByEmail error: %v", err)
	}

	fresh := stale
	fresh.Verified = true
	fresh.ResetOTP = gatekeeper.OTPSlot{Code: "482913", ExpiresAt: 1767225600000}
	fresh.FailedAttempts = 2
	saved, err := store.SaveAccount(ctx, fresh)
	if err != nil {
		t.Fatalf("SaveAccount error: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}

	stale.Name = "Overwriter"
	if _, err := store.SaveAccount(ctx, stale); !errors.Is(err, gatekeeper.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale write, got %v", err)
	}

	got, err := store.FindAccountByEmail(ctx, "rita@loanflow.test")
	if err != nil {
		t.Fatalf("FindAccountByEmail error: %v", err)
	}
	if got != saved {
		t.Fatalf("stored account mismatch:\n got %+v\nwant %+v", got, saved)
	}

	// Clearing a slot must persist the zero value.
	got.ResetOTP = gatekeeper.OTPSlot{}
	if _, err := store.SaveAccount(ctx, got); err != nil {
		t.Fatalf("SaveAccount error: %v", err)
	}
	cleared, _ := store.FindAccountByEmail(ctx, "rita@loanflow.test")
	if cleared.ResetOTP != (gatekeeper.OTPSlot{}) {
		t.Fatalf("expected cleared slot, got %+v", cleared.ResetOTP)
	}

	missing := sampleAccount("ghost@loanflow.test")
	missing.Version = 1
	if _, err := store.SaveAccount(ctx, missing); !errors.Is(err, gatekeeper.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for unknown save, got %v", err)
	}
}

// exerciseConcurrentIncrements checks that CAS retries lose no update.
func exerciseConcurrentIncrements(t *testing.T, store gatekeeper.AccountStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.CreateAccount(ctx, sampleAccount("sam@loanflow.test")); err != nil {
		t.Fatalf("CreateAccount error: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				acc, err := store.FindAccountByEmail(ctx, "sam@loanflow.test")
				if err != nil {
					t.Errorf("FindAccountByEmail error: %v", err)
					return
				}
				acc.FailedAttempts++
				_, err = store.SaveAccount(ctx, acc)
				if err == nil {
					return
				}
				if !errors.Is(err, gatekeeper.ErrVersionConflict) {
					t.Errorf("SaveAccount error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	acc, err := store.FindAccountByEmail(ctx, "sam@loanflow.test")
	if err != nil {
		t.Fatalf("FindAccountByEmail error: %v", err)
	}
	if acc.FailedAttempts != workers {
		t.Fatalf("expected %d increments, got %d", workers, acc.FailedAttempts)
	}
	if acc.Version != workers+1 {
		t.Fatalf("expected version %d, got %d", workers+1, acc.Version)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseAccountStore(t, NewMemoryStore())
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	exerciseConcurrentIncrements(t, NewMemoryStore())
}

func TestMemoryStoreHonorsCanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.CreateAccount(ctx, sampleAccount("tom@loanflow.test")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("canceled create must not store")
	}
}

func TestAccountCodecRoundTrip(t *testing.T) {
	acc := sampleAccount("uli@loanflow.test")
	acc.Role = gatekeeper.RoleAdmin
	acc.Verified = true
	acc.VerifyOTP = gatekeeper.OTPSlot{Code: "100000", ExpiresAt: 1767225600000}
	acc.ResetOTP = gatekeeper.OTPSlot{Code: "999999", ExpiresAt: 1767226500000}
	acc.FailedAttempts = 4
	acc.LockedUntil = 1767227400000
	acc.LastLogin = 1767220000000
	acc.Version = 42

	data, err := encodeAccount(acc)
	if err != nil {
		t.Fatalf("encodeAccount error: %v", err)
	}
	got, err := decodeAccount(data)
	if err != nil {
		t.Fatalf("decodeAccount error: %v", err)
	}
	if got != acc {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, acc)
	}
}

func TestAccountCodecRejectsCorruptInput(t *testing.T) {
	data, err := encodeAccount(sampleAccount("vic@loanflow.test"))
	if err != nil {
		t.Fatalf("encodeAccount error: %v", err)
	}

	cases := map[string][]byte{
		"empty":         nil,
		"bad version":   append([]byte{9}, data[1:]...),
		"truncated":     data[:len(data)-3],
		"trailing byte": append(append([]byte{}, data...), 0),
	}
	for name, input := range cases {
		if _, err := decodeAccount(input); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}

func TestGormRecordMapping(t *testing.T) {
	acc := sampleAccount("wes@loanflow.test")
	acc.Verified = true
	acc.VerifyOTP = gatekeeper.OTPSlot{Code: "123456", ExpiresAt: 10}
	acc.LockedUntil = 20
	acc.Version = 3

	if got := recordFromAccount(acc).toAccount(); got != acc {
		t.Fatalf("record mapping mismatch:\n got %+v\nwant %+v", got, acc)
	}

	cols := updateColumns(acc)
	for _, immutable := range []string{"user_id", "email", "created_at"} {
		if _, ok := cols[immutable]; ok {
			t.Fatalf("update must not touch %s", immutable)
		}
	}
	if cols["reset_otp_code"] != "" || cols["version"] != int64(3) {
		t.Fatalf("unexpected update columns: %v", cols)
	}
}
