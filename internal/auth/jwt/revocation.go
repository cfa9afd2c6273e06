package jwt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RevocationSet reports whether a token has been revoked. Implementations
// must be safe for concurrent use.
type RevocationSet interface {
	IsRevoked(ctx context.Context, key string) (bool, error)
}

// RevocationKey returns the lookup key for a token: its "jti" claim when
// present, otherwise the hex sha256 of the raw token.
func RevocationKey(tokenID, raw string) string {
	if tokenID != "" {
		return tokenID
	}
	sum := sha256.Sum256([]byte(raw))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// MemoryRevocationSet is an in-process revocation set. Updates install a
// fresh snapshot; readers never observe a partially built set.
type MemoryRevocationSet struct {
	keys atomic.Pointer[map[string]struct{}]
}

// NewMemoryRevocationSet creates a set holding the given keys.
func NewMemoryRevocationSet(keys ...string) *MemoryRevocationSet {
	s := &MemoryRevocationSet{}
	s.Replace(keys)
	return s
}

// IsRevoked implements RevocationSet.
func (s *MemoryRevocationSet) IsRevoked(_ context.Context, key string) (bool, error) {
	_, ok := (*s.keys.Load())[key]
	return ok, nil
}

// Replace installs a new complete set of revoked keys.
func (s *MemoryRevocationSet) Replace(keys []string) {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	s.keys.Store(&m)
}

// Revoke adds a key, copying the current snapshot.
func (s *MemoryRevocationSet) Revoke(key string) {
	for {
		cur := s.keys.Load()
		next := make(map[string]struct{}, len(*cur)+1)
		for k := range *cur {
			next[k] = struct{}{}
		}
		next[key] = struct{}{}
		if s.keys.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// Len returns the number of revoked keys.
func (s *MemoryRevocationSet) Len() int {
	return len(*s.keys.Load())
}

// DefaultRevocationSetKey is the Redis set holding revoked token keys.
const DefaultRevocationSetKey = "gateway:revoked_tokens"

// RedisRevocationSet looks revocations up in a Redis set.
type RedisRevocationSet struct {
	client redis.UniversalClient
	setKey string
}

// NewRedisRevocationSet creates a Redis-backed revocation set.
func NewRedisRevocationSet(client redis.UniversalClient, setKey string) *RedisRevocationSet {
	if setKey == "" {
		setKey = DefaultRevocationSetKey
	}
	return &RedisRevocationSet{client: client, setKey: setKey}
}

// IsRevoked implements RevocationSet.
func (s *RedisRevocationSet) IsRevoked(ctx context.Context, key string) (bool, error) {
	revoked, err := s.client.SIsMember(ctx, s.setKey, key).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup failed: %w", err)
	}
	return revoked, nil
}

// Revoke adds a key to the set.
func (s *RedisRevocationSet) Revoke(ctx context.Context, key string) error {
	if err := s.client.SAdd(ctx, s.setKey, key).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// Ping checks that the Redis server is reachable.
func (s *RedisRevocationSet) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisRevocationSet) Close() error {
	return s.client.Close()
}
