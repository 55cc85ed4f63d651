package cache

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/healthtrack/trend-engine/internal/metrics"
	"github.com/healthtrack/trend-engine/internal/models"
)

const keyPrefix = "trend"

const (
	tierMemory = "memory"
	tierShared = "shared"
)

// Key derives the cache key of (userID, metric, timeRange). Fields are query-escaped
// so the ':' separator and glob characters never occur inside a field.
func Key(userID, metric, timeRange string) string {
	return strings.Join([]string{keyPrefix, url.QueryEscape(userID), url.QueryEscape(metric), url.QueryEscape(timeRange)}, ":")
}

// matchPattern builds a glob matching every key of userID; empty metric or
// timeRange match any value.
func matchPattern(userID, metric, timeRange string) string {
	m, r := "*", "*"
	if metric != "" {
		m = url.QueryEscape(metric)
	}
	if timeRange != "" {
		r = url.QueryEscape(timeRange)
	}
	return strings.Join([]string{keyPrefix, url.QueryEscape(userID), m, r}, ":")
}

// AnalysisCacheOptions configures the optional shared tier.
type AnalysisCacheOptions struct {
	// Provider is the shared tier; nil keeps the cache process-local.
	Provider Provider
	// Retention is the TTL given to shared-tier entries so the store expires them
	// even if no sweep runs. Zero stores without expiry.
	Retention time.Duration
	Now       func() time.Time
}

// AnalysisCache holds the latest regression per (user, metric, time range). Without
// a provider it is process-local; with one, the provider is the source of truth and
// the in-process map is a mirror of what this replica last read or wrote.
//
// Lookups never apply a TTL: a hit is returned as stored. Staleness is handled by
// InvalidateCache and CleanupExpired only.
type AnalysisCache struct {
	logger    *slog.Logger
	provider  Provider
	retention time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]map[string]models.AnalysisCacheEntry // userID -> Key -> entry
	size    int
}

// NewAnalysisCache creates an empty cache.
func NewAnalysisCache(logger *slog.Logger, opts AnalysisCacheOptions) *AnalysisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Provider == nil {
		opts.Provider = NoopProvider{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention < 0 {
		opts.Retention = 0
	}
	return &AnalysisCache{
		logger:    logger,
		provider:  opts.Provider,
		retention: opts.Retention,
		now:       opts.Now,
		entries:   make(map[string]map[string]models.AnalysisCacheEntry),
	}
}

// GetResult returns the entry stored for the key. With a shared tier configured the
// shared store is authoritative: every lookup reads through to it so changes made by
// other replicas are seen, and the in-process copy only serves while the shared
// store is unreachable.
func (c *AnalysisCache) GetResult(ctx context.Context, userID, metric, timeRange string) (models.AnalysisCacheEntry, bool) {
	key := Key(userID, metric, timeRange)

	if isNoop(c.provider) {
		entry, ok := c.lookupLocal(userID, key)
		if !ok {
			metrics.ObserveCacheOp("get_miss", tierMemory)
			return models.AnalysisCacheEntry{}, false
		}
		metrics.ObserveCacheOp("get_hit", tierMemory)
		return entry, true
	}

	payload, err := c.provider.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		// removed or expired elsewhere
		c.dropLocal(userID, key)
		metrics.ObserveCacheOp("get_miss", tierShared)
		return models.AnalysisCacheEntry{}, false
	}
	if err != nil {
		metrics.ObserveCacheOp("error", tierShared)
		c.logger.Warn("shared cache read failed", slog.String("key", key), slog.Any("error", err))
		entry, ok := c.lookupLocal(userID, key)
		if !ok {
			metrics.ObserveCacheOp("get_miss", tierMemory)
			return models.AnalysisCacheEntry{}, false
		}
		metrics.ObserveCacheOp("get_hit", tierMemory)
		return entry, true
	}

	entry, err := decodeEntry(payload)
	if err != nil || entry.UserID != userID || entry.Metric != metric || entry.TimeRange != timeRange {
		c.logger.Warn("discarding unreadable shared cache entry", slog.String("key", key), slog.Any("error", err))
		c.deleteShared(ctx, key)
		c.dropLocal(userID, key)
		return models.AnalysisCacheEntry{}, false
	}

	metrics.ObserveCacheOp("get_hit", tierShared)
	c.storeLocal(entry)
	return entry, true
}

// SaveResult upserts entry, replacing any previous entry for its key.
func (c *AnalysisCache) SaveResult(ctx context.Context, entry models.AnalysisCacheEntry) {
	c.storeLocal(entry)
	metrics.ObserveCacheOp("save", tierMemory)

	if isNoop(c.provider) {
		return
	}
	key := Key(entry.UserID, entry.Metric, entry.TimeRange)
	payload, err := encodeEntry(entry)
	if err == nil {
		err = c.provider.Set(ctx, key, payload, c.retention)
	}
	if err != nil {
		metrics.ObserveCacheOp("error", tierShared)
		c.logger.Warn("shared cache write failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	metrics.ObserveCacheOp("save", tierShared)
}

// InvalidateCache removes the entries of userID. An empty metric or timeRange acts
// as a wildcard. It returns the number of distinct keys removed across tiers.
func (c *AnalysisCache) InvalidateCache(ctx context.Context, userID, metric, timeRange string) int {
	removed := make(map[string]struct{})

	c.mu.Lock()
	for key, entry := range c.entries[userID] {
		if (metric == "" || entry.Metric == metric) && (timeRange == "" || entry.TimeRange == timeRange) {
			removed[key] = struct{}{}
			c.deleteLocked(userID, key)
		}
	}
	c.publishSizeLocked()
	c.mu.Unlock()

	if !isNoop(c.provider) {
		keys, err := c.provider.Scan(ctx, matchPattern(userID, metric, timeRange))
		if err != nil {
			metrics.ObserveCacheOp("error", tierShared)
			c.logger.Warn("shared cache scan failed", slog.String("user_id", userID), slog.Any("error", err))
		}
		if len(keys) > 0 {
			if err := c.provider.Del(ctx, keys...); err != nil {
				metrics.ObserveCacheOp("error", tierShared)
				c.logger.Warn("shared cache delete failed", slog.String("user_id", userID), slog.Any("error", err))
			} else {
				for _, key := range keys {
					removed[key] = struct{}{}
				}
			}
		}
	}

	metrics.ObserveCacheOp("invalidate", tierMemory)
	return len(removed)
}

// CleanupExpired removes entries whose CreatedAt is more than maxAge ago and
// returns how many were removed from the process. Shared-tier entries the process
// never loaded expire through their Valkey TTL.
func (c *AnalysisCache) CleanupExpired(ctx context.Context, maxAge time.Duration) int {
	if maxAge < 0 {
		maxAge = 0
	}
	cutoff := c.now().Add(-maxAge)

	var expired []string
	c.mu.Lock()
	for userID, byKey := range c.entries {
		for key, entry := range byKey {
			if entry.CreatedAt.Before(cutoff) {
				expired = append(expired, key)
				c.deleteLocked(userID, key)
			}
		}
	}
	c.publishSizeLocked()
	c.mu.Unlock()

	if len(expired) > 0 && !isNoop(c.provider) {
		if stale := c.staleShared(ctx, expired, cutoff); len(stale) > 0 {
			c.deleteShared(ctx, stale...)
		}
	}
	metrics.ObserveSweep(len(expired))
	return len(expired)
}

// staleShared filters keys down to those whose shared copy is also older than
// cutoff, so an entry another replica refreshed is left alone.
func (c *AnalysisCache) staleShared(ctx context.Context, keys []string, cutoff time.Time) []string {
	stale := make([]string, 0, len(keys))
	for _, key := range keys {
		payload, err := c.provider.Get(ctx, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			metrics.ObserveCacheOp("error", tierShared)
			c.logger.Warn("shared cache read failed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		entry, err := decodeEntry(payload)
		if err != nil || entry.CreatedAt.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	return stale
}

// Len reports the number of entries held in process.
func (c *AnalysisCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

func (c *AnalysisCache) lookupLocal(userID, key string) (models.AnalysisCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[userID][key]
	return entry, ok
}

func (c *AnalysisCache) dropLocal(userID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(userID, key)
	c.publishSizeLocked()
}

func (c *AnalysisCache) storeLocal(entry models.AnalysisCacheEntry) {
	key := Key(entry.UserID, entry.Metric, entry.TimeRange)

	c.mu.Lock()
	defer c.mu.Unlock()
	byKey, ok := c.entries[entry.UserID]
	if !ok {
		byKey = make(map[string]models.AnalysisCacheEntry)
		c.entries[entry.UserID] = byKey
	}
	if _, exists := byKey[key]; !exists {
		c.size++
	}
	byKey[key] = entry
	c.publishSizeLocked()
}

func (c *AnalysisCache) deleteLocked(userID, key string) {
	byKey := c.entries[userID]
	if _, ok := byKey[key]; !ok {
		return
	}
	delete(byKey, key)
	c.size--
	if len(byKey) == 0 {
		delete(c.entries, userID)
	}
}

func (c *AnalysisCache) publishSizeLocked() {
	metrics.SetCacheEntries(c.size)
}

func (c *AnalysisCache) deleteShared(ctx context.Context, keys ...string) {
	if err := c.provider.Del(ctx, keys...); err != nil {
		metrics.ObserveCacheOp("error", tierShared)
		c.logger.Warn("shared cache delete failed", slog.Int("keys", len(keys)), slog.Any("error", err))
	}
}
