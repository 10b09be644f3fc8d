package coord

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "coord.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}

	stores := map[string]Store{
		"memory": NewMemory(),
		"redis":  NewRedis(client),
		"bolt":   bolt,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreKeyValue(t *testing.T) {
	ctx := context.Background()
	for name, s := range storesUnderTest(t) {
		if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
			t.Fatalf("%s: expected miss, got ok=%v err=%v", name, ok, err)
		}
		if err := s.Set(ctx, "k", "v", 0); err != nil {
			t.Fatalf("%s: set err: %v", name, err)
		}
		v, ok, err := s.Get(ctx, "k")
		if err != nil || !ok || v != "v" {
			t.Fatalf("%s: expected v, got %q ok=%v err=%v", name, v, ok, err)
		}
	}
}

func TestStoreHash(t *testing.T) {
	ctx := context.Background()
	for name, s := range storesUnderTest(t) {
		if _, ok, err := s.HGet(ctx, ActionsKey("t1"), "a1"); err != nil || ok {
			t.Fatalf("%s: expected miss, got ok=%v err=%v", name, ok, err)
		}
		if err := s.HSet(ctx, ActionsKey("t1"), "a1", `{"ok":true}`); err != nil {
			t.Fatalf("%s: hset err: %v", name, err)
		}
		if err := s.HSet(ctx, ActionsKey("t1"), "a2", "x"); err != nil {
			t.Fatalf("%s: hset err: %v", name, err)
		}
		v, ok, err := s.HGet(ctx, ActionsKey("t1"), "a1")
		if err != nil || !ok || v != `{"ok":true}` {
			t.Fatalf("%s: unexpected hget %q ok=%v err=%v", name, v, ok, err)
		}
		all, err := s.HGetAll(ctx, ActionsKey("t1"))
		if err != nil {
			t.Fatalf("%s: hgetall err: %v", name, err)
		}
		if len(all) != 2 || all["a2"] != "x" {
			t.Fatalf("%s: unexpected hash contents %v", name, all)
		}
	}
}

func TestStoreIncrCounts(t *testing.T) {
	ctx := context.Background()
	for name, s := range storesUnderTest(t) {
		for i := int64(1); i <= 3; i++ {
			n, err := s.Incr(ctx, "counter", time.Minute)
			if err != nil {
				t.Fatalf("%s: incr err: %v", name, err)
			}
			if n != i {
				t.Fatalf("%s: expected %d, got %d", name, i, n)
			}
		}
	}
}

func TestRedisIncrSetsWindowAtomically(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	if _, err := s.Incr(ctx, "rate", 10*time.Second); err != nil {
		t.Fatalf("incr err: %v", err)
	}
	if ttl := mr.TTL("rate"); ttl <= 0 || ttl > 10*time.Second {
		t.Fatalf("ttl = %s, want within the window", ttl)
	}

	// A counter left behind without a TTL is repaired on the next bump.
	if err := mr.Set("stale", "7"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	n, err := s.Incr(ctx, "stale", time.Second)
	if err != nil {
		t.Fatalf("incr err: %v", err)
	}
	if n != 8 || mr.TTL("stale") <= 0 {
		t.Fatalf("stale counter = %d ttl %s", n, mr.TTL("stale"))
	}

	mr.FastForward(11 * time.Second)
	n, err = s.Incr(ctx, "rate", 10*time.Second)
	if err != nil {
		t.Fatalf("incr err: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected window reset, got %d", n)
	}
}

func TestMemoryIncrWindowResets(t *testing.T) {
	m := NewMemory()
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := m.Incr(ctx, "w", 10*time.Second); err != nil {
			t.Fatalf("incr err: %v", err)
		}
	}
	now = now.Add(11 * time.Second)
	n, err := m.Incr(ctx, "w", 10*time.Second)
	if err != nil {
		t.Fatalf("incr err: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected window reset to 1, got %d", n)
	}
}

func TestStorePubSub(t *testing.T) {
	ctx := context.Background()
	for name, s := range storesUnderTest(t) {
		sub, err := s.Subscribe(ctx, DiffsChannel("t1"))
		if err != nil {
			t.Fatalf("%s: subscribe err: %v", name, err)
		}
		if err := s.Publish(ctx, DiffsChannel("t1"), []byte("hello")); err != nil {
			t.Fatalf("%s: publish err: %v", name, err)
		}
		select {
		case msg := <-sub.Messages():
			if string(msg) != "hello" {
				t.Fatalf("%s: expected hello, got %q", name, msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: timed out waiting for message", name)
		}
		_ = sub.Close()
	}
}

func TestBoltSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coord.db")
	ctx := context.Background()
	b, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	if err := b.HSet(ctx, ActionsKey("t1"), "a1", "done"); err != nil {
		t.Fatalf("hset err: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close err: %v", err)
	}

	b, err = OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen bolt: %v", err)
	}
	defer b.Close()
	v, ok, err := b.HGet(ctx, ActionsKey("t1"), "a1")
	if err != nil || !ok || v != "done" {
		t.Fatalf("expected persisted record, got %q ok=%v err=%v", v, ok, err)
	}
}
