package store

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, v := range []string{"a", "b", "c"} {
		if err := m.Push(ctx, "q", v); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var got []string
	for i := 0; i < 3; i++ {
		v, ok, err := m.BlockingPop(ctx, "q", 10*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("pop %d: ok=%t err=%v", i, ok, err)
		}
		got = append(got, v)
	}
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("order mismatch: %v", got)
	}

	if _, ok, err := m.BlockingPop(ctx, "q", 10*time.Millisecond); err != nil || ok {
		t.Fatalf("expected timeout miss: ok=%t err=%v", ok, err)
	}
}

func TestMemoryBlockingPopWakesOnPush(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = m.Push(ctx, "q", "late")
	}()

	v, ok, err := m.BlockingPop(ctx, "q", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected pop: ok=%t err=%v", ok, err)
	}
	if v != "late" {
		t.Fatalf("value mismatch: %s", v)
	}
}

func TestMemorySetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.SetNX(ctx, "claim", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first setnx: ok=%t err=%v", ok, err)
	}
	ok, err = m.SetNX(ctx, "claim", "2", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("second setnx must not win")
	}

	if err := m.Delete(ctx, "claim"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err = m.SetNX(ctx, "claim", "3", time.Minute)
	if err != nil || !ok {
		t.Fatalf("setnx after delete: ok=%t err=%v", ok, err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.SetWithTTL(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, err := m.Get(ctx, "k"); err != nil || !ok {
		t.Fatalf("expected hit before expiry: ok=%t err=%v", ok, err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok, err := m.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss after expiry: ok=%t err=%v", ok, err)
	}
}

func TestMemorySortedSetRangeDesc(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.SortedSetAdd(ctx, "idx", 1, "old")
	_ = m.SortedSetAdd(ctx, "idx", 3, "new")
	_ = m.SortedSetAdd(ctx, "idx", 2, "mid")
	// Re-adding a member updates its score instead of duplicating it.
	_ = m.SortedSetAdd(ctx, "idx", 4, "old")

	got, err := m.SortedSetRangeDesc(ctx, "idx", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"old", "new"}) {
		t.Fatalf("range mismatch: %v", got)
	}
}

func TestMemorySetMembers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.SetAdd(ctx, "s", "b", "a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := m.SetMembers(ctx, "s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("members mismatch: %v", got)
	}
}
