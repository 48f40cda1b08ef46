package middleware

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTriggerDeduper(t *testing.T) {
	d := newMemoryTriggerDeduper(50 * time.Millisecond)
	ctx := context.Background()

	seen, err := d.Seen(ctx, 1)
	if err != nil || seen {
		t.Fatalf("first Seen = (%v, %v), want (false, nil)", seen, err)
	}
	seen, err = d.Seen(ctx, 1)
	if err != nil || !seen {
		t.Fatalf("duplicate Seen = (%v, %v), want (true, nil)", seen, err)
	}

	// Different task is independent.
	seen, _ = d.Seen(ctx, 2)
	if seen {
		t.Fatal("unrelated task reported as duplicate")
	}

	// After the window the task can be triggered again.
	time.Sleep(60 * time.Millisecond)
	seen, _ = d.Seen(ctx, 1)
	if seen {
		t.Fatal("expired entry still reported as duplicate")
	}
}

func TestNewTriggerDeduperFallsBackWithoutRedis(t *testing.T) {
	d, err := NewTriggerDeduper("", "", 0, time.Second)
	if err != nil {
		t.Fatalf("NewTriggerDeduper: %v", err)
	}
	if _, ok := d.(*memoryTriggerDeduper); !ok {
		t.Fatalf("deduper type = %T, want memory fallback", d)
	}
}
