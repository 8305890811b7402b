package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/loanflow/gatekeeper"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one binary-encoded record per account under
// <prefix>:<email>. Records carry no TTL.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gk:acct"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStore) key(email string) string {
	return s.prefix + ":" + email
}

func (s *RedisStore) FindAccountByEmail(ctx context.Context, email string) (gatekeeper.Account, error) {
	data, err := s.redis.Get(ctx, s.key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return gatekeeper.Account{}, gatekeeper.ErrAccountNotFound
		}
		return gatekeeper.Account{}, unavailable(err)
	}

	acc, err := decodeAccount(data)
	if err != nil {
		return gatekeeper.Account{}, unavailable(err)
	}
	return acc, nil
}

func (s *RedisStore) CreateAccount(ctx context.Context, acc gatekeeper.Account) (gatekeeper.Account, error) {
	acc.Version = 1
	encoded, err := encodeAccount(acc)
	if err != nil {
		return gatekeeper.Account{}, err
	}

	created, err := s.redis.SetNX(ctx, s.key(acc.Email), encoded, 0).Result()
	if err != nil {
		return gatekeeper.Account{}, unavailable(err)
	}
	if !created {
		return gatekeeper.Account{}, gatekeeper.ErrAccountExists
	}
	return acc, nil
}

// SaveAccount writes acc if the stored version still matches. The key is
// watched across the read and the MULTI/EXEC write, so a concurrent writer
// makes this call fail with ErrVersionConflict rather than overwrite.
func (s *RedisStore) SaveAccount(ctx context.Context, acc gatekeeper.Account) (gatekeeper.Account, error) {
	key := s.key(acc.Email)
	var saved gatekeeper.Account

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		current, err := decodeAccount(data)
		if err != nil {
			return err
		}
		if current.Version != acc.Version {
			return gatekeeper.ErrVersionConflict
		}

		next := acc
		next.Version++
		encoded, err := encodeAccount(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}

		saved = next
		return nil
	}, key)

	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, gatekeeper.ErrVersionConflict):
		return gatekeeper.Account{}, gatekeeper.ErrVersionConflict
	case errors.Is(err, redis.Nil):
		return gatekeeper.Account{}, gatekeeper.ErrAccountNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return gatekeeper.Account{}, err
	default:
		return gatekeeper.Account{}, unavailable(err)
	}
}

// Ping checks connectivity for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", gatekeeper.ErrAccountStoreUnavailable, err)
}
