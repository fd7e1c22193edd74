package pickup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryReplayStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryReplayStore()
	store.SetClock(func() time.Time { return now })

	first, err := store.Consume(ctx, "jti-1", now.Add(time.Hour))
	if err != nil || !first {
		t.Fatalf("expected first consume to succeed, got %v %v", first, err)
	}
	again, err := store.Consume(ctx, "jti-1", now.Add(time.Hour))
	if err != nil || again {
		t.Fatalf("expected second consume to fail, got %v %v", again, err)
	}

	now = now.Add(time.Hour)
	if _, err := store.Consume(ctx, "jti-2", now.Add(time.Hour)); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(store.seen) != 1 {
		t.Errorf("expected expired id to be purged, tracking %d ids", len(store.seen))
	}
}

func TestMemoryReplayStoreSweepsPeriodically(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryReplayStore()
	store.SetClock(func() time.Time { return now })

	store.Consume(ctx, "jti-short", now.Add(10*time.Second))
	now = now.Add(20 * time.Second)

	store.Consume(ctx, "jti-other", now.Add(time.Hour))
	if len(store.seen) != 2 {
		t.Fatalf("expected no sweep inside the interval, tracking %d ids", len(store.seen))
	}
	if ok, _ := store.Consume(ctx, "jti-short", now.Add(time.Hour)); !ok {
		t.Error("an expired id must be usable again before it is swept")
	}

	now = now.Add(replaySweepInterval)
	store.Consume(ctx, "jti-late", now.Add(time.Hour))
	if len(store.seen) != 3 {
		t.Errorf("expected live ids only, tracking %d ids", len(store.seen))
	}
}

func TestRedisReplayStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisReplayStore(client, "")

	until := time.Now().Add(time.Hour)
	first, err := store.Consume(ctx, "jti-1", until)
	if err != nil || !first {
		t.Fatalf("expected first consume to succeed, got %v %v", first, err)
	}
	if !mr.Exists("ebox:pickup:used:jti-1") {
		t.Error("expected key to be stored under the default prefix")
	}

	again, err := store.Consume(ctx, "jti-1", until)
	if err != nil || again {
		t.Fatalf("expected second consume to fail, got %v %v", again, err)
	}

	mr.FastForward(time.Hour + time.Second)
	after, err := store.Consume(ctx, "jti-1", time.Now().Add(time.Hour))
	if err != nil || !after {
		t.Errorf("expected key to expire with the token, got %v %v", after, err)
	}
}

func TestRedisReplayStoreAdmitsOneConcurrentUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisReplayStore(client, "test:")
	until := time.Now().Add(time.Hour)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := store.Consume(context.Background(), "jti-race", until); err == nil && ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("expected exactly one accepted use, got %d", accepted.Load())
	}
}
