package redis

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
	"github.com/paperhub/guest-hub/pkg/circuitbreaker"
)

// bytesCache is the subset of Cache the guest store needs.
type bytesCache interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// GuestKVStore implements guest.KVStore on Redis.
//
// Snapshot keys embed the guest ID, which is a bearer credential, so keys are
// hashed before they reach Redis. Every write refreshes the TTL, so only
// guests that go quiet for the whole TTL expire.
type GuestKVStore struct {
	cache   bytesCache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker

	onBreakerChange func(name string, from, to circuitbreaker.State)
}

// Compile-time check.
var _ guest.KVStore = (*GuestKVStore)(nil)

// GuestStoreOption configures a GuestKVStore.
type GuestStoreOption func(*GuestKVStore)

// WithTTL sets the snapshot TTL. Zero disables expiry.
func WithTTL(ttl time.Duration) GuestStoreOption {
	return func(s *GuestKVStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) GuestStoreOption {
	return func(s *GuestKVStore) {
		if cb != nil {
			s.breaker = cb
		}
	}
}

// WithBreakerStateChange reports transitions of the default breaker.
// It is ignored when WithBreaker supplies one.
func WithBreakerStateChange(fn func(name string, from, to circuitbreaker.State)) GuestStoreOption {
	return func(s *GuestKVStore) {
		s.onBreakerChange = fn
	}
}

// NewGuestKVStore creates a guest store on top of cache.
func NewGuestKVStore(cache *Cache, opts ...GuestStoreOption) *GuestKVStore {
	return newGuestKVStore(cache, opts...)
}

func newGuestKVStore(cache bytesCache, opts ...GuestStoreOption) *GuestKVStore {
	s := &GuestKVStore{
		cache: cache,
		ttl:   TTLGuestSnapshot,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = circuitbreaker.SnapshotStoreBreaker(isStoreFailure, s.onBreakerChange)
	}
	return s
}

// isStoreFailure keeps misses from tripping the breaker.
func isStoreFailure(err error) bool {
	return !errors.Is(err, ErrCacheMiss)
}

// HashKey maps a snapshot key to the Redis key it is stored under.
func HashKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return PrefixGuest + hex.EncodeToString(sum[:])
}

// Get implements guest.KVStore.
func (s *GuestKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := circuitbreaker.ExecuteValue(ctx, s.breaker, func(ctx context.Context) ([]byte, error) {
		return s.cache.GetBytes(ctx, HashKey(key))
	})
	if err != nil {
		return nil, s.mapError("Get", err)
	}
	return data, nil
}

// Set implements guest.KVStore.
func (s *GuestKVStore) Set(ctx context.Context, key string, value []byte) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.SetBytes(ctx, HashKey(key), value, s.ttl)
	})
	if err != nil {
		return s.mapError("Set", err)
	}
	return nil
}

// Delete implements guest.KVStore.
func (s *GuestKVStore) Delete(ctx context.Context, key string) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, HashKey(key))
	})
	if err != nil {
		return s.mapError("Delete", err)
	}
	return nil
}

func (s *GuestKVStore) mapError(op string, err error) error {
	switch {
	case errors.Is(err, ErrCacheMiss):
		return shared.ErrSnapshotNotFound
	case circuitbreaker.IsRejected(err):
		return shared.WrapError("redis", op, shared.ErrServiceUnavailable, "snapshot store unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("redis", op, shared.ErrTimeout, "snapshot store timed out", err)
	default:
		return shared.WrapError("redis", op, shared.ErrExternalService, "snapshot store failed", err)
	}
}
