// Package files tracks uploaded database files so later requests can refer
// to them by generated id or original filename.
package files

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
)

const (
	DefaultMaxFiles = 50
	DefaultTTL      = 2 * time.Hour
)

// Metadata is what upload processing learned about a file.
type Metadata struct {
	Columns   []string `json:"columns"`
	TableName string   `json:"table_name"`
	AllTables []string `json:"all_tables"`
	FileSize  int64    `json:"file_size"`
}

// Entry is one registered file.
type Entry struct {
	ID           string    `json:"file_id"`
	Filename     string    `json:"filename"`
	Path         string    `json:"db_path"`
	Metadata     Metadata  `json:"metadata"`
	RegisteredAt time.Time `json:"registered_at"`
	LastAccessed time.Time `json:"last_accessed"`

	seq uint64
}

// newerThan orders entries by registration time, then registration order.
func (e *Entry) newerThan(other *Entry) bool {
	if e.RegisteredAt.Equal(other.RegisteredAt) {
		return e.seq > other.seq
	}
	return e.RegisteredAt.After(other.RegisteredAt)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is a bounded, expiring set of uploaded files. Removing an entry
// for any reason deletes its backing file.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	seq      uint64
	maxFiles int
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(maxFiles int, ttl time.Duration, logger *zap.Logger, opts ...Option) *Registry {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		entries:  make(map[string]*Entry),
		maxFiles: maxFiles,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.Named("file-registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger.Info("Initialized file registry",
		zap.Int("max_files", maxFiles),
		zap.Duration("ttl", ttl),
	)
	return r
}

// Register stores a new entry and returns its id, which has the form
// "<unix seconds>_<filename>". Expired entries are purged first, and the
// oldest registration is evicted when the registry is full.
func (r *Registry) Register(filename, path string, metadata Metadata) (string, error) {
	if filename == "" || path == "" {
		return "", errors.New("filename and path are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeExpiredLocked()

	if len(r.entries) >= r.maxFiles {
		if oldest := r.oldestLocked(); oldest != "" {
			r.removeLocked(oldest)
			r.logger.Info("Evicted oldest file due to limit", zap.String("file_id", oldest))
		}
	}

	now := r.now()
	id := fmt.Sprintf("%d_%s", now.Unix(), filename)
	for n := 2; r.entries[id] != nil; n++ {
		id = fmt.Sprintf("%d_%d_%s", now.Unix(), n, filename)
	}

	r.seq++
	r.entries[id] = &Entry{
		ID:           id,
		Filename:     filename,
		Path:         path,
		Metadata:     metadata,
		RegisteredAt: now,
		LastAccessed: now,
		seq:          r.seq,
	}

	r.logger.Info("Registered file",
		zap.String("file_id", id),
		zap.String("path", logging.SanitizePath(path)),
	)
	return id, nil
}

// Get looks up identifier as an id, then as a case-insensitive filename,
// and refreshes the entry's last access on a hit. When several uploads
// share a filename the most recent registration wins.
func (r *Registry) Get(identifier string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookupLocked(identifier)
	if e == nil {
		return Entry{}, false
	}
	if r.expired(e) {
		r.removeLocked(e.ID)
		return Entry{}, false
	}
	e.LastAccessed = r.now()
	return *e, true
}

// List purges expired entries and returns the rest, newest first.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeExpiredLocked()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].newerThan(&out[j])
	})
	return out
}

// Remove drops the entry matching identifier and deletes its file. A
// filename matches the most recent registration only. It reports whether
// an entry was found.
func (r *Registry) Remove(identifier string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookupLocked(identifier)
	if e == nil {
		return false
	}
	r.removeLocked(e.ID)
	return true
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll removes every entry and deletes the files behind them.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.entries {
		r.removeLocked(id)
	}
	r.logger.Info("Cleaned up all files from registry")
}

// Caller must hold mu.
func (r *Registry) lookupLocked(identifier string) *Entry {
	if e, ok := r.entries[identifier]; ok {
		return e
	}
	var match *Entry
	for _, e := range r.entries {
		if strings.EqualFold(e.Filename, identifier) && (match == nil || e.newerThan(match)) {
			match = e
		}
	}
	return match
}

func (r *Registry) expired(e *Entry) bool {
	return r.now().Sub(e.LastAccessed) > r.ttl
}

// Caller must hold mu.
func (r *Registry) oldestLocked() string {
	var oldest *Entry
	for _, e := range r.entries {
		if oldest == nil || oldest.newerThan(e) {
			oldest = e
		}
	}
	if oldest == nil {
		return ""
	}
	return oldest.ID
}

// Caller must hold mu.
func (r *Registry) purgeExpiredLocked() {
	var expired []string
	for id, e := range r.entries {
		if r.expired(e) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.removeLocked(id)
	}
	if len(expired) > 0 {
		r.logger.Info("Cleaned up expired files", zap.Int("count", len(expired)))
	}
}

// removeLocked deletes the backing file and drops the entry. A failed
// delete is logged and the entry is still dropped. Caller must hold mu.
func (r *Registry) removeLocked(id string) {
	e, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)

	if err := os.Remove(e.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("Failed to delete file",
			zap.String("file_id", id),
			zap.String("path", logging.SanitizePath(e.Path)),
			zap.Error(err),
		)
	} else {
		r.logger.Debug("Removed file", zap.String("file_id", id))
	}
}
