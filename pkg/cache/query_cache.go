// Package cache memoizes analytical answers by question and data source.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
)

const (
	DefaultMaxSize = 1000
	DefaultTTL     = time.Hour

	questionPreviewLength = 100
)

// Config holds cache limits. Zero values fall back to the defaults.
type Config struct {
	MaxSize int
	TTL     time.Duration
	Now     func() time.Time
}

// QueryCache is an in-memory, TTL-bounded memo of answers keyed by the
// normalized question and database path. Safe for concurrent use.
type QueryCache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	seq     uint64
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

type entry[T any] struct {
	result   T
	storedAt time.Time
	// seq breaks storedAt ties in insertion order.
	seq      uint64
	question string
	dbPath   string
}

// Stats reports the cache state.
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	ExpiredEntries int `json:"expired_entries"`
	ActiveEntries  int `json:"active_entries"`
	MaxSize        int `json:"max_size"`
	TTLSeconds     int `json:"ttl_seconds"`
}

// New creates an empty cache.
func New[T any](cfg Config, logger *zap.Logger) *QueryCache[T] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &QueryCache[T]{
		entries: make(map[string]*entry[T]),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  logger.Named("query-cache"),
	}
}

// Key returns the hex SHA-256 of the lower-cased, trimmed question joined
// with the database path.
func Key(question, dbPath string) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	sum := sha256.Sum256([]byte(normalized + "|" + dbPath))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for the pair when one exists and is
// younger than the TTL. Expired entries are purged first.
func (c *QueryCache[T]) Get(question, dbPath string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked()

	var zero T
	e, ok := c.entries[Key(question, dbPath)]
	if !ok {
		return zero, false
	}

	c.logger.Info("Cache hit", zap.String("question", logging.TruncateString(question, 50)))
	return e.result, true
}

// Put stores result for the pair, then evicts the oldest entries while the
// cache is over capacity.
func (c *QueryCache[T]) Put(question, dbPath string, result T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[Key(question, dbPath)] = &entry[T]{
		result:   result,
		storedAt: c.now(),
		seq:      c.seq,
		question: logging.TruncateString(question, questionPreviewLength),
		dbPath:   dbPath,
	}
	c.enforceSizeLocked()

	c.logger.Debug("Cached result", zap.String("question", logging.TruncateString(question, 50)))
}

// Clear drops every entry.
func (c *QueryCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[T])
	c.logger.Info("Cache cleared")
}

// Len returns the number of stored entries, including expired ones.
func (c *QueryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns counts of stored, expired and live entries.
func (c *QueryCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := 0
	for _, e := range c.entries {
		if c.expired(e) {
			expired++
		}
	}
	return Stats{
		TotalEntries:   len(c.entries),
		ExpiredEntries: expired,
		ActiveEntries:  len(c.entries) - expired,
		MaxSize:        c.maxSize,
		TTLSeconds:     int(c.ttl.Seconds()),
	}
}

func (c *QueryCache[T]) expired(e *entry[T]) bool {
	return c.now().Sub(e.storedAt) > c.ttl
}

// Caller must hold mu.
func (c *QueryCache[T]) purgeExpiredLocked() {
	removed := 0
	for key, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("Cleaned up expired cache entries", zap.Int("count", removed))
	}
}

// enforceSizeLocked evicts the globally oldest entries until the cache is
// within maxSize. Caller must hold mu.
func (c *QueryCache[T]) enforceSizeLocked() {
	excess := len(c.entries) - c.maxSize
	if excess <= 0 {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if a.storedAt.Equal(b.storedAt) {
			return a.seq < b.seq
		}
		return a.storedAt.Before(b.storedAt)
	})
	for _, key := range keys[:excess] {
		delete(c.entries, key)
	}

	c.logger.Info("Evicted entries to enforce cache size limit", zap.Int("count", excess))
}
