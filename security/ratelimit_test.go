package security

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, nil)
	defer rl.Stop()

	if rl.rate != 10 {
		t.Errorf("rate = %d, want 10", rl.rate)
	}
	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.maxEntries != DefaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultMaxEntries)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestNewRateLimiterWithOptions_Defaults(t *testing.T) {
	rl := NewRateLimiterWithOptions(RateLimiterOptions{
		RequestsPerSecond: 5,
		Burst:             10,
	})
	defer rl.Stop()

	if rl.maxEntries != DefaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultMaxEntries)
	}
	if rl.maxIdleTime != defaultMaxIdleTime {
		t.Errorf("maxIdleTime = %v, want %v", rl.maxIdleTime, defaultMaxIdleTime)
	}
}

func TestNewRateLimiterWithOptions_Unbounded(t *testing.T) {
	rl := NewRateLimiterWithOptions(RateLimiterOptions{
		RequestsPerSecond: 5,
		Burst:             10,
		MaxEntries:        -1,
	})
	defer rl.Stop()

	if rl.maxEntries != 0 {
		t.Errorf("maxEntries = %d, want 0 (unbounded)", rl.maxEntries)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10, 5, slog.Default())
	defer rl.Stop()

	identifier := "test-identifier"

	// First requests up to burst should be allowed
	for i := 0; i < 5; i++ {
		if !rl.Allow(identifier) {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}

	// Next request should be rate limited
	if rl.Allow(identifier) {
		t.Error("Allow() should return false when rate limited")
	}
}

func TestRateLimiter_Allow_MultipleIdentifiers(t *testing.T) {
	rl := NewRateLimiter(10, 2, slog.Default())
	defer rl.Stop()

	// Different identifiers should have separate limits
	id1 := "identifier-1"
	id2 := "identifier-2"

	// Exhaust limit for id1
	for i := 0; i < 2; i++ {
		if !rl.Allow(id1) {
			t.Errorf("Allow(id1) request %d should be allowed", i+1)
		}
	}

	// id1 should be limited
	if rl.Allow(id1) {
		t.Error("Allow(id1) should return false when rate limited")
	}

	// id2 should still be allowed
	if !rl.Allow(id2) {
		t.Error("Allow(id2) should be allowed (different identifier)")
	}
}

func TestRateLimiter_Allow_RefillOverTime(t *testing.T) {
	// 2 requests per second, burst of 2
	rl := NewRateLimiter(2, 2, slog.Default())
	defer rl.Stop()

	identifier := "test-identifier"

	for i := 0; i < 2; i++ {
		if !rl.Allow(identifier) {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}

	if rl.Allow(identifier) {
		t.Error("Allow() should return false when rate limited")
	}

	// Wait for token refill (500ms for 1 token at 2 req/s)
	time.Sleep(550 * time.Millisecond)

	if !rl.Allow(identifier) {
		t.Error("Allow() should be allowed after token refill")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithOptions(RateLimiterOptions{
		RequestsPerSecond: 10,
		Burst:             10,
		MaxEntries:        2,
	})
	defer rl.Stop()

	rl.Allow("id-1")
	rl.Allow("id-2")
	rl.Allow("id-3") // evicts id-1

	rl.mu.RLock()
	_, has1 := rl.limiters["id-1"]
	_, has2 := rl.limiters["id-2"]
	_, has3 := rl.limiters["id-3"]
	count := len(rl.limiters)
	rl.mu.RUnlock()

	if count != 2 {
		t.Errorf("limiter count = %d, want 2", count)
	}
	if has1 {
		t.Error("id-1 should have been evicted as least recently used")
	}
	if !has2 || !has3 {
		t.Error("id-2 and id-3 should still be tracked")
	}

	stats := rl.GetStats()
	if stats.TotalEvictions != 1 {
		t.Errorf("TotalEvictions = %d, want 1", stats.TotalEvictions)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 20, slog.Default())
	defer rl.Stop()

	rl.Allow("id-1")
	rl.Allow("id-2")
	rl.Allow("id-3")

	rl.mu.RLock()
	initialCount := len(rl.limiters)
	rl.mu.RUnlock()

	if initialCount != 3 {
		t.Errorf("initial limiter count = %d, want 3", initialCount)
	}

	// Backdate last access time so all entries appear idle
	rl.mu.Lock()
	for _, elem := range rl.limiters {
		elem.Value.(*rateLimiterEntry).lastAccess = time.Now().Add(-1 * time.Hour)
	}
	rl.mu.Unlock()

	rl.Cleanup(30 * time.Minute)

	rl.mu.RLock()
	finalCount := len(rl.limiters)
	rl.mu.RUnlock()

	if finalCount != 0 {
		t.Errorf("final limiter count = %d, want 0", finalCount)
	}
}

func TestRateLimiter_Cleanup_KeepsActive(t *testing.T) {
	rl := NewRateLimiter(10, 20, slog.Default())
	defer rl.Stop()

	rl.Allow("id-1")
	rl.Allow("id-2")

	// Backdate only one entry
	rl.mu.Lock()
	if elem, ok := rl.limiters["id-1"]; ok {
		elem.Value.(*rateLimiterEntry).lastAccess = time.Now().Add(-1 * time.Hour)
	}
	rl.mu.Unlock()

	rl.Cleanup(30 * time.Minute)

	rl.mu.RLock()
	finalCount := len(rl.limiters)
	_, hasActive := rl.limiters["id-2"]
	rl.mu.RUnlock()

	if finalCount != 1 {
		t.Errorf("final limiter count = %d, want 1", finalCount)
	}
	if !hasActive {
		t.Error("active limiter should not be cleaned up")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100, 100, slog.Default())
	defer rl.Stop()

	const numGoroutines = 10
	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			identifier := fmt.Sprintf("identifier-%d", id)
			for j := 0; j < 10; j++ {
				rl.Allow(identifier)
			}
			done <- true
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}
}

func TestRateLimiter_Stop(t *testing.T) {
	rl := NewRateLimiter(10, 20, slog.Default())

	// Stop should not panic
	rl.Stop()
}
