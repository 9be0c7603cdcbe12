package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryHashOps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.HSet(ctx, "h", map[string]string{"a": "1", "b": "x"}); err != nil {
		t.Fatalf("hset: %v", err)
	}
	got, err := m.HGetAll(ctx, "h")
	if err != nil || len(got) != 2 || got["a"] != "1" {
		t.Fatalf("hgetall = %v (err %v)", got, err)
	}
	v, _ := m.HGet(ctx, "h", "missing")
	if v != "" {
		t.Fatalf("missing field = %q, want empty", v)
	}

	n, err := m.HIncrBy(ctx, "h", "a", 4)
	if err != nil || n != 5 {
		t.Fatalf("hincrby = %d (err %v), want 5", n, err)
	}
	if _, err := m.HIncrBy(ctx, "h", "b", 1); err == nil {
		t.Fatal("hincrby on non-integer field must error")
	}
}

func TestMemoryListNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, v := range []string{"first", "second", "third"} {
		if err := m.LPush(ctx, "l", v); err != nil {
			t.Fatalf("lpush: %v", err)
		}
	}
	got, err := m.LRange(ctx, "l", 0, 1)
	if err != nil || len(got) != 2 || got[0] != "third" || got[1] != "second" {
		t.Fatalf("lrange = %v (err %v)", got, err)
	}
	// Negative stop addresses from the tail.
	all, _ := m.LRange(ctx, "l", 0, -1)
	if len(all) != 3 {
		t.Fatalf("lrange 0 -1 = %v", all)
	}
	n, _ := m.LLen(ctx, "l")
	if n != 3 {
		t.Fatalf("llen = %d", n)
	}
}

func TestMemoryStringTTL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := m.Get(ctx, "k"); v != "v" {
		t.Fatalf("get = %q", v)
	}
	time.Sleep(20 * time.Millisecond)
	if v, _ := m.Get(ctx, "k"); v != "" {
		t.Fatalf("expired get = %q, want empty", v)
	}
}

func TestMemoryDelSpansTypes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.HSet(ctx, "k", map[string]string{"a": "1"})
	_ = m.SAdd(ctx, "k", "member")
	_ = m.LPush(ctx, "k", "v")
	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	ok, _ := m.Exists(ctx, "k")
	if ok {
		t.Fatal("key survived del")
	}
}
