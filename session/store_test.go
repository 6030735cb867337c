package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "gr")
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testSnapshot(now time.Time) Snapshot {
	return Snapshot{
		Token:           "t1",
		BinLabel:        "Bin-42",
		StartedAt:       now.Add(-30 * time.Second),
		DurationSeconds: 180,
		Codes:           []string{"ABC123"},
		State:           StateActive,
	}
}

func TestStoreSaveLoadWithRemainingTTL(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := store.Save(ctx, "device-1", testSnapshot(now), now); err != nil {
		t.Fatalf("save: %v", err)
	}

	ttl := mr.TTL(store.key("device-1"))
	if ttl != 150*time.Second {
		t.Fatalf("expected ttl 150s, got %v", ttl)
	}

	got, err := store.Load(ctx, "device-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != "t1" || !got.Contains("ABC123") {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestStoreSaveExpiredSnapshotDeletes(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := store.Save(ctx, "device-1", testSnapshot(now), now); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "device-1", testSnapshot(now), now.Add(10*time.Minute)); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if _, err := store.Load(ctx, "device-1"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := store.Save(ctx, "device-1", testSnapshot(now), now); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "device-1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, "device-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Load(ctx, "device-1"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestStoreLoadCorruptBlob(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()

	if err := mr.Set(store.key("device-1"), "\x07garbage"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(context.Background(), "device-1"); !errors.Is(err, ErrSnapshotCorrupt) {
		t.Fatalf("expected ErrSnapshotCorrupt, got %v", err)
	}
}

func TestStoreUnavailableWrapsError(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Delete(ctx, "device-1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
