package gatekeeper

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loanflow/gatekeeper/internal/notify"
	"github.com/loanflow/gatekeeper/password"
	"go.uber.org/zap"
)

// Register creates a USER account and queues a welcome mail. The account
// starts unverified.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (Profile, error) {
	return e.register(ctx, req, RoleUser)
}

// RegisterAdmin creates an ADMIN account. Callers gate it behind an ADMIN
// identity; the engine itself does not check who is asking.
func (e *Engine) RegisterAdmin(ctx context.Context, req RegisterRequest) (Profile, error) {
	return e.register(ctx, req, RoleAdmin)
}

func (e *Engine) register(ctx context.Context, req RegisterRequest, role Role) (Profile, error) {
	if e == nil {
		return Profile{}, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		return Profile{}, ErrInvalidRequest
	}
	name := strings.TrimSpace(req.Name)

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return Profile{}, ErrPasswordPolicy
		}
		return Profile{}, err
	}

	created, err := e.store.CreateAccount(ctx, Account{
		UserID:       uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricAccountDuplicate)
			e.emitAudit(ctx, auditEventAccountDuplicate, false, email, ErrAccountExists, nil)
			return Profile{}, ErrAccountExists
		}
		return Profile{}, e.storeErr(err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreated, true, email, nil, func() map[string]string {
		return map[string]string{"role": string(role)}
	})
	e.logger.Info("account created", zap.String("email", email), zap.String("role", string(role)))

	if e.config.Account.SendWelcome {
		e.notifier.Enqueue(ctx, welcomeMessage(created))
	}

	return profileOf(created), nil
}

// Profile returns the public view of the account registered under email.
func (e *Engine) Profile(ctx context.Context, email string) (Profile, error) {
	if e == nil {
		return Profile{}, ErrEngineNotReady
	}
	acc, err := e.store.FindAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Profile{}, e.storeErr(err)
	}
	return profileOf(acc), nil
}

func profileOf(acc Account) Profile {
	p := Profile{
		UserID:   acc.UserID,
		Email:    acc.Email,
		Name:     acc.Name,
		Role:     acc.Role,
		Verified: acc.Verified,
	}
	if acc.LastLogin > 0 {
		p.LastLogin = time.UnixMilli(acc.LastLogin).UTC()
	}
	return p
}

// validEmail accepts a bare address, no display name.
func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func welcomeMessage(acc Account) notify.Message {
	greeting := "Hello"
	if acc.Name != "" {
		greeting = "Hello " + acc.Name
	}
	return notify.Message{
		Kind:    notify.KindWelcome,
		To:      acc.Email,
		Subject: "Welcome to LoanFlow",
		Body: greeting + ",\n\nYour LoanFlow account has been created. " +
			"Verify your email address to start applying for loans.\n",
	}
}
