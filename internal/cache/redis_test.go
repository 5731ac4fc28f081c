package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestProvider(t *testing.T) (*RedisProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	provider, err := NewRedisProvider(RedisConfig{Addr: mr.Addr(), KeyPrefix: "sentinel:"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Close() })
	return provider, mr
}

func TestRedisProviderRoundTrip(t *testing.T) {
	provider, mr := newTestProvider(t)
	ctx := context.Background()

	if _, err := provider.Get(ctx, "baseline:alice"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	if err := provider.Set(ctx, "baseline:alice", []byte(`{"subjectId":"alice"}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("sentinel:baseline:alice") {
		t.Fatalf("expected prefixed key in redis")
	}

	got, err := provider.Get(ctx, "baseline:alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"subjectId":"alice"}` {
		t.Fatalf("unexpected payload %s", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := provider.Get(ctx, "baseline:alice"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestRedisProviderSetNXAndDel(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	ok, err := provider.SetNX(ctx, "lock", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to win, ok=%v err=%v", ok, err)
	}
	ok, err = provider.SetNX(ctx, "lock", []byte("2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second setnx to lose, ok=%v err=%v", ok, err)
	}
	if err := provider.Del(ctx, "lock"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := provider.Get(ctx, "lock"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestNewRedisProviderRequiresAddr(t *testing.T) {
	if _, err := NewRedisProvider(RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
