package cache

import (
	"context"
	"testing"
	"time"
)

func TestNilRedisIsNoop(t *testing.T) {
	var r *Redis
	ctx := context.Background()

	if err := r.SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Fatalf("set on nil cache: %v", err)
	}
	var dest map[string]int
	ok, err := r.GetJSON(ctx, "k", &dest)
	if err != nil || ok {
		t.Fatalf("expected miss on nil cache, ok=%v err=%v", ok, err)
	}
	written, err := r.SetJSONIfAbsent(ctx, "k", 1, time.Minute)
	if err != nil || !written {
		t.Fatalf("nil cache should report write, got %v %v", written, err)
	}
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete on nil cache: %v", err)
	}
	if err := r.Ping(ctx); err == nil {
		t.Fatal("expected ping error on nil cache")
	}
}
