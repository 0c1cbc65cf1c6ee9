package cache

import (
	"context"
	"sync"
	"time"

	"github.com/d1424da/gofilesearch/normalize"
)

// ImmediateCapacity is the default cap on the immediate tier.
const ImmediateCapacity = 150_000

// immediateScanThreshold and immediateScanTimeout are the sharding
// parameters for the immediate tier's search protocol.
const (
	immediateScanThreshold = 1000
	immediateScanTimeout   = 1 * time.Second
	previewLen             = 500
)

// ImmediateEntry is an immediate-tier cache entry: a short preview plus
// metadata, inserted synchronously right after extraction.
type ImmediateEntry struct {
	Path        string
	Name        string
	Preview     string
	Type        string
	Size        int64
	IndexedTime time.Time
}

func (e ImmediateEntry) searchText() string { return e.Name + "\n" + e.Preview }
func (e ImmediateEntry) toHit(tier Label) SearchHit {
	return SearchHit{Path: e.Path, Name: e.Name, Preview: e.Preview, Type: e.Type, Tier: tier}
}

// Immediate is the volatile, short-lived tier. It always starts
// empty; nothing about it is persisted across restarts.
type Immediate struct {
	mu       sync.RWMutex
	entries  map[string]ImmediateEntry
	capacity int
}

// NewImmediate constructs an empty immediate tier with the given capacity
// (use ImmediateCapacity for the default).
func NewImmediate(capacity int) *Immediate {
	if capacity <= 0 {
		capacity = ImmediateCapacity
	}
	return &Immediate{entries: make(map[string]ImmediateEntry), capacity: capacity}
}

// Insert adds or replaces an entry, truncating content to the 500-character
// preview, and evicts 10% of entries by oldest IndexedTime if the tier is
// at capacity.
func (t *Immediate) Insert(path, name, content, typ string, size int64, indexedAt time.Time) {
	preview := content
	if len(preview) > previewLen {
		preview = truncateUTF8(preview, previewLen)
	}
	entry := ImmediateEntry{Path: path, Name: name, Preview: preview, Type: typ, Size: size, IndexedTime: indexedAt}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[path]; !exists && len(t.entries) >= t.capacity {
		t.evictOldestLocked()
	}
	t.entries[path] = entry
}

func (t *Immediate) evictOldestLocked() {
	n := len(t.entries) / 10
	if n < 1 {
		n = 1
	}
	type kv struct {
		path string
		at   time.Time
	}
	ordered := make([]kv, 0, len(t.entries))
	for p, e := range t.entries {
		ordered = append(ordered, kv{p, e.IndexedTime})
	}
	sortByIndexedTimeAsc(ordered, func(k kv) time.Time { return k.at })
	for i := 0; i < n && i < len(ordered); i++ {
		delete(t.entries, ordered[i].path)
	}
}

// Delete removes and returns the entry for path, if present. Promotion
// always deletes from the source tier before inserting into the
// destination.
func (t *Immediate) Delete(path string) (ImmediateEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if ok {
		delete(t.entries, path)
	}
	return e, ok
}

// Get returns the entry for path without removing it.
func (t *Immediate) Get(path string) (ImmediateEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[path]
	return e, ok
}

// Clear drops every entry.
func (t *Immediate) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]ImmediateEntry)
}

// Len reports the current entry count.
func (t *Immediate) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Search scans the tier for ps.
func (t *Immediate) Search(ctx context.Context, ps normalize.PatternSet, limit int) []SearchHit {
	t.mu.RLock()
	snapshot := make([]ImmediateEntry, 0, len(t.entries))
	for _, e := range t.entries {
		snapshot = append(snapshot, e)
	}
	t.mu.RUnlock()

	return scanEntries(ctx, snapshot, ps, LabelImmediate, immediateScanThreshold, immediateScanTimeout, limit)
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	b := []byte(s)[:n]
	for len(b) > 0 && !isUTF8Boundary(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isUTF8Boundary(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	last := b[len(b)-1]
	return last&0xC0 != 0x80
}
