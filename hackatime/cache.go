package hackatime

import (
	"sync"
	"time"
)

const (
	// Ranges that include today still accrue time, so they expire fast.
	liveTTL   = 5 * time.Minute
	closedTTL = 24 * time.Hour
)

type cacheEntry struct {
	stats     []ProjectStat
	expiresAt time.Time
}

// statsCache memoizes upstream responses keyed by user and date range.
type statsCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newStatsCache(now func() time.Time) *statsCache {
	if now == nil {
		now = time.Now
	}
	return &statsCache{entries: make(map[string]cacheEntry), now: now}
}

func cacheKey(userID, startDate, endDate string) string {
	return userID + "|" + startDate + "|" + endDate
}

func (c *statsCache) get(key string) ([]ProjectStat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.stats, true
}

func (c *statsCache) put(key, endDate string, stats []ProjectStat) {
	now := c.now()
	ttl := closedTTL
	if rangeCoversToday(endDate, now) {
		ttl = liveTTL
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{stats: stats, expiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

func rangeCoversToday(endDate string, now time.Time) bool {
	end, err := time.ParseInLocation("2006-01-02", endDate, time.UTC)
	if err != nil {
		return true
	}
	today := now.UTC().Truncate(24 * time.Hour)
	return !end.Before(today)
}
