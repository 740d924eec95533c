package proofgate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	proofKeyPrefix = "wintrust:proof:"

	pendingValue  = "pending"
	consumedValue = "consumed"

	// DefaultReservationTTL bounds how long a crashed request can hold a
	// reservation in a shared ledger.
	DefaultReservationTTL = 2 * time.Minute
)

// releaseScript deletes the key only while it is still pending.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLedger shares the ledger between instances through Redis.
type RedisLedger struct {
	client         *redis.Client
	reservationTTL time.Duration
}

// RedisLedgerOption configures a RedisLedger.
type RedisLedgerOption func(*RedisLedger)

// WithReservationTTL sets the expiry of pending reservations.
func WithReservationTTL(ttl time.Duration) RedisLedgerOption {
	return func(l *RedisLedger) {
		if ttl > 0 {
			l.reservationTTL = ttl
		}
	}
}

func NewRedisLedger(client *redis.Client, opts ...RedisLedgerOption) *RedisLedger {
	l := &RedisLedger{client: client, reservationTTL: DefaultReservationTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve uses SETNX so only one caller wins a key.
func (l *RedisLedger) Reserve(ctx context.Context, key string) (bool, error) {
	return l.client.SetNX(ctx, proofKeyPrefix+key, pendingValue, l.reservationTTL).Result()
}

// Commit overwrites the reservation without expiry.
func (l *RedisLedger) Commit(ctx context.Context, key string) error {
	return l.client.Set(ctx, proofKeyPrefix+key, consumedValue, 0).Err()
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.client, []string{proofKeyPrefix + key}, pendingValue).Err()
}

func (l *RedisLedger) Consumed(ctx context.Context, key string) (bool, error) {
	v, err := l.client.Get(ctx, proofKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == consumedValue, nil
}
