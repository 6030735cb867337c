package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps credential store failures.
var ErrStoreUnavailable = errors.New("credential store unavailable")

// CredentialStore persists the single credential slot. Load returns "" when empty.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// Load implements CredentialStore.
func (s *MemoryStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// Save implements CredentialStore.
func (s *MemoryStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// Clear implements CredentialStore.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// RedisStore keeps the credential under "<prefix>:cred:<deviceID>". When the token is
// a JWT with an exp claim the key expires with it.
type RedisStore struct {
	redis redis.UniversalClient
	key   string
	now   func() time.Time
}

// NewRedisStore creates a RedisStore for one device.
func NewRedisStore(client redis.UniversalClient, prefix, deviceID string) *RedisStore {
	if prefix == "" {
		prefix = "gorecycle"
	}
	return &RedisStore{
		redis: client,
		key:   prefix + ":cred:" + deviceID,
		now:   time.Now,
	}
}

// Load implements CredentialStore.
//
//	Performance: 1 Redis GET.
func (s *RedisStore) Load(ctx context.Context) (string, error) {
	token, err := s.redis.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// Save implements CredentialStore. An already expired JWT clears the slot.
//
//	Performance: 1 Redis SET.
func (s *RedisStore) Save(ctx context.Context, token string) error {
	var ttl time.Duration
	if exp, ok := expiresAt(token); ok {
		ttl = exp.Sub(s.now())
		if ttl <= 0 {
			return s.Clear(ctx)
		}
	}
	if err := s.redis.Set(ctx, s.key, token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Clear implements CredentialStore.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
