package session

import (
	"context"
	"os"
	"testing"
	"time"
)

// testRedisMirror connects to the redis named by VOICEBRIDGE_TEST_REDIS_ADDR
// (default localhost:6379) or skips.
func testRedisMirror(t *testing.T) *RedisMirror {
	t.Helper()

	addr := os.Getenv("VOICEBRIDGE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	m, err := NewRedisMirror(RedisConfig{
		Addr:   addr,
		DB:     15,
		Prefix: "voicebridge_test_" + time.Now().Format("150405.000000"),
		TTL:    time.Minute,
	})
	if err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		m.Reset(context.Background()) //nolint:errcheck // test cleanup
		m.Close()                     //nolint:errcheck // test cleanup
	})
	return m
}

func TestRedisMirror_AddRemove(t *testing.T) {
	m := testRedisMirror(t)
	ctx := context.Background()

	snap := Snapshot{DeviceID: "d1", SessionID: "s1", CreatedAt: time.Now()}
	if err := m.Add(ctx, snap); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	members, err := m.Members(ctx)
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 1 || members[0] != "d1/s1" {
		t.Errorf("Members() = %v, want [d1/s1]", members)
	}

	if err := m.Remove(ctx, Key{DeviceID: "d1", SessionID: "s1"}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	members, err = m.Members(ctx)
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 0 {
		t.Errorf("Members() after Remove = %v, want empty", members)
	}
}

func TestRedisMirror_WithRegistry(t *testing.T) {
	m := testRedisMirror(t)
	r, err := NewRegistry(Options{MaxSessions: 2, Mirror: m})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	ctx := context.Background()

	lease, err := r.Admit(ctx, "d2", "s2")
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if members, _ := m.Members(ctx); len(members) != 1 {
		t.Errorf("Members() after Admit = %v, want 1 entry", members)
	}

	lease.Release()
	if members, _ := m.Members(ctx); len(members) != 0 {
		t.Errorf("Members() after Release = %v, want empty", members)
	}
}

func TestNewRedisMirror_Unreachable(t *testing.T) {
	_, err := NewRedisMirror(RedisConfig{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("NewRedisMirror() expected error for unreachable address")
	}
}
