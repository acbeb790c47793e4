package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 13, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get(missing) error = %v, want ErrCacheMiss", err)
	}

	value := []byte(`["https://a.example"]`)
	if err := m.Set(ctx, "profile:1", value, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value[0] = 'x'

	got, err := m.Get(ctx, "profile:1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `["https://a.example"]` {
		t.Errorf("Get() = %q, stored value was not copied", got)
	}

	now = now.Add(2 * time.Hour)
	if _, err := m.Get(ctx, "profile:1"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after expiry error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryZeroTTLSkips(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Port 1 is never a Redis server.
	if _, err := NewRedis(ctx, "127.0.0.1:1", "simplefeed:"); err == nil {
		t.Error("NewRedis() expected error for unreachable server")
	}
}
