package channels

import (
	"fmt"
	"testing"
	"time"
)

func TestWebhookRateLimiter_PerKey(t *testing.T) {
	r := NewWebhookRateLimiter(3)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if !r.Allow("a") {
			t.Fatalf("expected request %d allowed", i+1)
		}
	}
	if r.Allow("a") {
		t.Fatal("expected 4th request in burst denied")
	}
	if !r.Allow("b") {
		t.Fatal("expected other key unaffected")
	}

	// 3/min refills one token every 20s.
	r.now = func() time.Time { return base.Add(21 * time.Second) }
	if !r.Allow("a") {
		t.Fatal("expected token refilled")
	}
}

func TestWebhookRateLimiter_Disabled(t *testing.T) {
	r := NewWebhookRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !r.Allow("a") {
			t.Fatal("expected unlimited")
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected no tracked keys, got %d", r.Len())
	}
}

func TestWebhookRateLimiter_BoundedKeys(t *testing.T) {
	r := NewWebhookRateLimiter(10)
	for i := 0; i < maxTrackedKeys+100; i++ {
		r.Allow(fmt.Sprintf("k%d", i))
	}
	if r.Len() > maxTrackedKeys {
		t.Fatalf("expected at most %d keys, got %d", maxTrackedKeys, r.Len())
	}
}
