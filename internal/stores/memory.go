package stores

import (
	"context"
	"sync"

	"github.com/loanflow/gatekeeper"
)

// MemoryStore keeps accounts in process memory. It suits tests and single
// instance development; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]gatekeeper.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]gatekeeper.Account)}
}

func (s *MemoryStore) FindAccountByEmail(ctx context.Context, email string) (gatekeeper.Account, error) {
	if err := ctx.Err(); err != nil {
		return gatekeeper.Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[email]
	if !ok {
		return gatekeeper.Account{}, gatekeeper.ErrAccountNotFound
	}
	return acc, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, acc gatekeeper.Account) (gatekeeper.Account, error) {
	if err := ctx.Err(); err != nil {
		return gatekeeper.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.Email]; ok {
		return gatekeeper.Account{}, gatekeeper.ErrAccountExists
	}
	acc.Version = 1
	s.accounts[acc.Email] = acc
	return acc, nil
}

func (s *MemoryStore) SaveAccount(ctx context.Context, acc gatekeeper.Account) (gatekeeper.Account, error) {
	if err := ctx.Err(); err != nil {
		return gatekeeper.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[acc.Email]
	if !ok {
		return gatekeeper.Account{}, gatekeeper.ErrAccountNotFound
	}
	if cur.Version != acc.Version {
		return gatekeeper.Account{}, gatekeeper.ErrVersionConflict
	}
	acc.Version++
	s.accounts[acc.Email] = acc
	return acc, nil
}

// Len reports the number of stored accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
