package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter defaults.
const (
	DefaultMaxEntries      = 10000
	defaultCleanupInterval = 5 * time.Minute
	defaultMaxIdleTime     = 30 * time.Minute
)

// rateLimiterEntry tracks a rate limiter and its last access time
type rateLimiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiterOptions configures a RateLimiter. Zero values fall back to
// safe defaults.
type RateLimiterOptions struct {
	// RequestsPerSecond is the sustained rate per identifier.
	RequestsPerSecond int
	// Burst is the token bucket size per identifier.
	Burst int
	// MaxEntries bounds the number of tracked identifiers; the least
	// recently used entry is evicted at capacity. 0 means the default,
	// a negative value disables the bound.
	MaxEntries int
	// CleanupInterval is how often idle entries are swept.
	CleanupInterval time.Duration
	// MaxIdleTime is how long an identifier may be idle before the sweep
	// removes it.
	MaxIdleTime time.Duration
	Logger      *slog.Logger
}

// RateLimiter provides per-identifier rate limiting using the token bucket
// algorithm with LRU eviction to prevent unbounded memory growth. Identifiers
// are typically client IPs.
type RateLimiter struct {
	limiters    map[string]*list.Element // identifier -> list element
	lruList     *list.List               // LRU list of *rateLimiterEntry
	mu          sync.RWMutex
	rate        int
	burst       int
	maxEntries  int
	maxIdleTime time.Duration
	logger      *slog.Logger
	stopCleanup chan struct{}

	// Statistics
	totalEvictions int64
	totalCleanups  int64
}

// NewRateLimiter creates a new rate limiter with default entry bounds and
// automatic cleanup.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithOptions(RateLimiterOptions{
		RequestsPerSecond: requestsPerSecond,
		Burst:             burst,
		Logger:            logger,
	})
}

// NewRateLimiterWithOptions creates a new rate limiter from options.
func NewRateLimiterWithOptions(opts RateLimiterOptions) *RateLimiter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxEntries := opts.MaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = DefaultMaxEntries
	case maxEntries < 0:
		maxEntries = 0 // unbounded
	}

	cleanupInterval := opts.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	maxIdleTime := opts.MaxIdleTime
	if maxIdleTime <= 0 {
		maxIdleTime = defaultMaxIdleTime
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lruList:     list.New(),
		rate:        opts.RequestsPerSecond,
		burst:       opts.Burst,
		maxEntries:  maxEntries,
		maxIdleTime: maxIdleTime,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Allow checks if a request from the given identifier is allowed.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, exists := rl.limiters[identifier]; exists {
		// Move to front (most recently used)
		rl.lruList.MoveToFront(elem)
		entry := elem.Value.(*rateLimiterEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	// New identifier; evict the least recently used entry at capacity
	if rl.maxEntries > 0 && len(rl.limiters) >= rl.maxEntries {
		rl.evictLRU()
	}

	entry := &rateLimiterEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastAccess: now,
	}

	elem := rl.lruList.PushFront(entry)
	rl.limiters[identifier] = elem

	return entry.limiter.Allow()
}

// evictLRU removes the least recently used entry from the cache.
// Must be called with mutex locked.
func (rl *RateLimiter) evictLRU() {
	elem := rl.lruList.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*rateLimiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lruList.Remove(elem)
	rl.totalEvictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"identifier", entry.identifier,
		"total_evictions", rl.totalEvictions,
		"current_entries", len(rl.limiters))
}

// cleanupLoop periodically removes inactive rate limiters to prevent memory leaks
func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rl.maxIdleTime)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup removes limiters that haven't been accessed for the given duration.
func (rl *RateLimiter) Cleanup(maxIdleTime time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := rl.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*rateLimiterEntry)

		if now.Sub(entry.lastAccess) > maxIdleTime {
			delete(rl.limiters, entry.identifier)
			rl.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.totalCleanups++
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.limiters),
			"total_cleanups", rl.totalCleanups)
	}
}

// Stop gracefully stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}

// Stats holds rate limiter statistics for monitoring
type Stats struct {
	CurrentEntries int     // Current number of tracked identifiers
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	TotalEvictions int64   // Total number of LRU evictions
	TotalCleanups  int64   // Total number of cleanup operations
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// GetStats returns current rate limiter statistics for monitoring and alerting.
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := Stats{
		CurrentEntries: len(rl.limiters),
		MaxEntries:     rl.maxEntries,
		TotalEvictions: rl.totalEvictions,
		TotalCleanups:  rl.totalCleanups,
	}

	if rl.maxEntries > 0 {
		stats.MemoryPressure = float64(stats.CurrentEntries) / float64(rl.maxEntries) * 100.0
	}

	return stats
}
