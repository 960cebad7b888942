package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxAttemptsPerWindow is the default limit for sensitive
	// operations per IP per window
	DefaultMaxAttemptsPerWindow = 30

	// DefaultAttemptWindow is the default time window for windowed rate limiting
	DefaultAttemptWindow = time.Hour

	// DefaultWindowCleanupInterval is how often the cleanup goroutine runs
	DefaultWindowCleanupInterval = 15 * time.Minute

	// DefaultMaxWindowEntries is the maximum number of IPs to track
	DefaultMaxWindowEntries = 10000
)

// attemptEntry tracks attempt timestamps for an IP address
type attemptEntry struct {
	ip         string
	attempts   []time.Time // timestamps of recent attempts
	lastAccess time.Time   // last time this entry was accessed
}

// WindowedRateLimiter provides time-windowed rate limiting for sensitive,
// low-frequency operations such as authorization-code redemption, where a
// token bucket refills too quickly to stop slow brute forcing.
type WindowedRateLimiter struct {
	entries         map[string]*list.Element // IP -> list element
	lruList         *list.List               // LRU list of *attemptEntry
	mu              sync.RWMutex
	maxPerWindow    int
	window          time.Duration
	maxEntries      int
	logger          *slog.Logger
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	// Statistics
	totalBlocked   int64
	totalAllowed   int64
	totalEvictions int64
	totalCleanups  int64
}

// NewWindowedRateLimiter creates a windowed rate limiter with default settings
func NewWindowedRateLimiter(logger *slog.Logger) *WindowedRateLimiter {
	return NewWindowedRateLimiterWithConfig(
		DefaultMaxAttemptsPerWindow,
		DefaultAttemptWindow,
		DefaultMaxWindowEntries,
		logger,
	)
}

// NewWindowedRateLimiterWithConfig creates a windowed rate limiter with custom configuration
func NewWindowedRateLimiterWithConfig(maxPerWindow int, window time.Duration, maxEntries int, logger *slog.Logger) *WindowedRateLimiter {
	return newWindowedRateLimiter(maxPerWindow, window, maxEntries, DefaultWindowCleanupInterval, logger)
}

// newWindowedRateLimiter allows a custom cleanup interval (for testing)
func newWindowedRateLimiter(maxPerWindow int, window time.Duration, maxEntries int, cleanupInterval time.Duration, logger *slog.Logger) *WindowedRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultMaxAttemptsPerWindow
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	if maxEntries < 0 {
		maxEntries = DefaultMaxWindowEntries
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultWindowCleanupInterval
	}

	rl := &WindowedRateLimiter{
		entries:         make(map[string]*list.Element),
		lruList:         list.New(),
		maxPerWindow:    maxPerWindow,
		window:          window,
		maxEntries:      maxEntries,
		logger:          logger,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow records an attempt from the given IP and reports whether it is
// within the window limit.
func (rl *WindowedRateLimiter) Allow(ip string) bool {
	now := time.Now()
	windowStart := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, exists := rl.entries[ip]; exists {
		rl.lruList.MoveToFront(elem)
		entry := elem.Value.(*attemptEntry)
		entry.lastAccess = now

		// Drop timestamps outside the window (in-place filtering)
		n := 0
		for _, t := range entry.attempts {
			if t.After(windowStart) {
				entry.attempts[n] = t
				n++
			}
		}
		entry.attempts = entry.attempts[:n]

		if len(entry.attempts) >= rl.maxPerWindow {
			rl.totalBlocked++
			rl.logger.Warn("Windowed rate limit exceeded",
				"ip", ip,
				"attempts_in_window", len(entry.attempts),
				"max_per_window", rl.maxPerWindow,
				"window", rl.window,
				"total_blocked", rl.totalBlocked)
			return false
		}

		entry.attempts = append(entry.attempts, now)
		rl.totalAllowed++
		return true
	}

	// New IP; evict the least recently used entry at capacity
	if rl.maxEntries > 0 && len(rl.entries) >= rl.maxEntries {
		rl.evictLRU()
	}

	entry := &attemptEntry{
		ip:         ip,
		attempts:   []time.Time{now},
		lastAccess: now,
	}
	elem := rl.lruList.PushFront(entry)
	rl.entries[ip] = elem

	rl.totalAllowed++
	return true
}

// evictLRU removes the least recently used entry from the cache.
// Must be called with mutex locked.
func (rl *WindowedRateLimiter) evictLRU() {
	elem := rl.lruList.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*attemptEntry)
	delete(rl.entries, entry.ip)
	rl.lruList.Remove(elem)
	rl.totalEvictions++

	rl.logger.Debug("Windowed rate limiter LRU eviction",
		"ip", entry.ip,
		"total_evictions", rl.totalEvictions,
		"current_entries", len(rl.entries))
}

// cleanupLoop periodically removes inactive entries to prevent memory leaks
func (rl *WindowedRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup removes entries whose last access is older than 2x the window.
func (rl *WindowedRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	maxIdleTime := rl.window * 2
	removed := 0

	var next *list.Element
	for elem := rl.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*attemptEntry)

		if now.Sub(entry.lastAccess) > maxIdleTime {
			delete(rl.entries, entry.ip)
			rl.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.totalCleanups++
		rl.logger.Debug("Windowed rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.entries),
			"total_cleanups", rl.totalCleanups)
	}
}

// Stop gracefully stops the cleanup goroutine.
// Safe to call multiple times concurrently.
func (rl *WindowedRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// WindowStats holds windowed rate limiter statistics for monitoring
type WindowStats struct {
	CurrentEntries int     // Current number of tracked IPs
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	TotalBlocked   int64   // Total attempts blocked
	TotalAllowed   int64   // Total attempts allowed
	TotalEvictions int64   // Total number of LRU evictions
	TotalCleanups  int64   // Total number of cleanup operations
	MaxPerWindow   int     // Maximum attempts per window
	Window         string  // Time window duration
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// GetStats returns current rate limiter statistics for monitoring and alerting
func (rl *WindowedRateLimiter) GetStats() WindowStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := WindowStats{
		CurrentEntries: len(rl.entries),
		MaxEntries:     rl.maxEntries,
		TotalBlocked:   rl.totalBlocked,
		TotalAllowed:   rl.totalAllowed,
		TotalEvictions: rl.totalEvictions,
		TotalCleanups:  rl.totalCleanups,
		MaxPerWindow:   rl.maxPerWindow,
		Window:         rl.window.String(),
	}

	if rl.maxEntries > 0 {
		stats.MemoryPressure = float64(stats.CurrentEntries) / float64(rl.maxEntries) * 100.0
	}

	return stats
}
