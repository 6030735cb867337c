package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSnapshotNotFound is returned by Load when no session is persisted for the device.
var ErrSnapshotNotFound = errors.New("session snapshot not found")

// ErrSnapshotCorrupt is returned by Load when the stored blob cannot be decoded.
var ErrSnapshotCorrupt = errors.New("session snapshot corrupt")

// Store persists the active session snapshot of a device in Redis. The key expires with
// the session, so a stale snapshot never outlives its countdown.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a [Store]. Keys are "<prefix>:rs:<deviceID>".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gorecycle"
	}
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) key(deviceID string) string {
	return s.prefix + ":rs:" + deviceID
}

// Save writes snap with a TTL equal to its remaining time at now. A snapshot with no
// time left deletes the key instead.
//
//	Performance: 1 Redis SET (or DEL).
func (s *Store) Save(ctx context.Context, deviceID string, snap Snapshot, now time.Time) error {
	remaining := snap.Remaining(now)
	if remaining <= 0 {
		return s.Delete(ctx, deviceID)
	}

	data, err := Encode(snap)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(deviceID), data, time.Duration(remaining)*time.Second).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Load returns the persisted snapshot for deviceID.
//
//	Performance: 1 Redis GET.
func (s *Store) Load(ctx context.Context, deviceID string) (Snapshot, error) {
	data, err := s.redis.Get(ctx, s.key(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	return snap, nil
}

// Delete removes the persisted snapshot. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, deviceID string) error {
	if err := s.redis.Del(ctx, s.key(deviceID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping measures a Redis round-trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
