package server

import (
	"testing"
	"time"
)

func TestRateLimiterSweepsIdleClientsPeriodically(t *testing.T) {
	now := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimit{PerSecond: 100, Burst: 10})
	rl.now = func() time.Time { return now }
	at := func(d time.Duration, key string) {
		t.Helper()
		now = time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC).Add(d)
		if !rl.allow(key) {
			t.Fatalf("%s at +%s should be allowed", key, d)
		}
	}
	has := func(key string) bool {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		_, ok := rl.clients[key]
		return ok
	}

	at(0, "z")
	at(time.Minute, "a")
	at(10*time.Minute+30*time.Second, "b")
	if !has("a") || has("z") {
		t.Fatalf("first sweep should drop only z")
	}

	// a is idle now, but the last sweep was under limiterIdle ago.
	at(12*time.Minute, "c")
	if !has("a") {
		t.Fatalf("idle client dropped before the next sweep was due")
	}

	at(20*time.Minute+31*time.Second, "c")
	if has("a") || has("b") || !has("c") {
		t.Fatalf("second sweep should keep only c")
	}
}
