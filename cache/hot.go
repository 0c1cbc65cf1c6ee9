package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/d1424da/gofilesearch/log"
	"github.com/d1424da/gofilesearch/normalize"
)

// HotCapacity is the default cap on the hot tier.
const HotCapacity = 1_500_000

const (
	hotScanThreshold = 5000
	hotScanTimeout   = 1500 * time.Millisecond
	hotContentLen    = 10_000
	hotMaxAge        = 7 * 24 * time.Hour
	hotSaveMinGap    = 5 * time.Second

	hotCacheFileName   = "hot_cache.json"
	staleImmediateFile = "immediate_cache.json" // left behind by older versions
)

// HotEntry is a hot-tier cache entry, as persisted in hot_cache.json.
type HotEntry struct {
	Path               string    `json:"file_path"`
	Name               string    `json:"file_name"`
	Content            string    `json:"content"`
	Type               string    `json:"file_type"`
	Size               int64     `json:"size"`
	IndexedTime        time.Time `json:"indexed_time"`
	Layer              string    `json:"layer"`
	MovedFromImmediate bool      `json:"moved_from_immediate"`
	PromotedAt         time.Time `json:"promoted_time"`
}

func (e HotEntry) searchText() string { return e.Name + "\n" + e.Content }
func (e HotEntry) toHit(tier Label) SearchHit {
	preview := e.Content
	if len(preview) > 200 {
		preview = truncateUTF8(preview, 200)
	}
	return SearchHit{Path: e.Path, Name: e.Name, Preview: preview, Type: e.Type, Tier: tier}
}

// Hot is the mid-lived, persistent tier.
type Hot struct {
	mu       sync.RWMutex
	entries  map[string]HotEntry
	capacity int
	cacheDir string

	saveMu       sync.Mutex
	lastSaveAt   time.Time
	saveInFlight bool
	dirty        bool
}

// NewHot constructs a hot tier rooted at cacheDir, loading any persisted
// state and performing the best-effort cleanup of a stale immediate-tier
// persistence file from older versions.
func NewHot(cacheDir string, capacity int) (*Hot, error) {
	if capacity <= 0 {
		capacity = HotCapacity
	}
	h := &Hot{entries: make(map[string]HotEntry), capacity: capacity, cacheDir: cacheDir}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating cache directory")
	}

	if err := h.load(); err != nil {
		log.Get().Warn("hot cache load failed, starting empty", zap.Error(err))
	}
	h.purgeStaleImmediateFile()

	return h, nil
}

func (h *Hot) load() error {
	path := filepath.Join(h.cacheDir, hotCacheFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var raw map[string]HotEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "unmarshaling hot cache")
	}

	cutoff := time.Now().Add(-hotMaxAge)
	for p, e := range raw {
		if e.IndexedTime.Before(cutoff) {
			continue
		}
		h.entries[p] = e
	}
	return nil
}

// purgeStaleImmediateFile best-effort deletes a persisted immediate-tier
// file left behind by an older version that persisted both tiers; only the
// hot tier is persisted by this implementation.
func (h *Hot) purgeStaleImmediateFile() {
	_ = os.Remove(filepath.Join(h.cacheDir, staleImmediateFile))
}

// Insert adds or replaces an entry, truncating content to 10,000 characters,
// evicting 10% of entries by oldest IndexedTime on overflow, and scheduling
// a rate-limited background save.
func (h *Hot) Insert(e HotEntry) {
	if len(e.Content) > hotContentLen {
		e.Content = truncateUTF8(e.Content, hotContentLen)
	}
	e.Layer = "hot"

	h.mu.Lock()
	if _, exists := h.entries[e.Path]; !exists && len(h.entries) >= h.capacity {
		h.evictOldestLocked()
	}
	h.entries[e.Path] = e
	h.mu.Unlock()

	h.scheduleSave()
}

func (h *Hot) evictOldestLocked() {
	n := len(h.entries) / 10
	if n < 1 {
		n = 1
	}
	type kv struct {
		path string
		at   time.Time
	}
	ordered := make([]kv, 0, len(h.entries))
	for p, e := range h.entries {
		ordered = append(ordered, kv{p, e.IndexedTime})
	}
	sortByIndexedTimeAsc(ordered, func(k kv) time.Time { return k.at })
	for i := 0; i < n && i < len(ordered); i++ {
		delete(h.entries, ordered[i].path)
	}
}

// Delete removes and returns the entry for path, if present.
func (h *Hot) Delete(path string) (HotEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[path]
	if ok {
		delete(h.entries, path)
	}
	return e, ok
}

// Get returns the entry for path without removing it.
func (h *Hot) Get(path string) (HotEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[path]
	return e, ok
}

// Clear drops every entry and schedules a save so the persisted file does
// not resurrect the cleared entries on the next start.
func (h *Hot) Clear() {
	h.mu.Lock()
	h.entries = make(map[string]HotEntry)
	h.mu.Unlock()
	h.scheduleSave()
}

// Len reports the current entry count.
func (h *Hot) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Search scans the tier for ps.
func (h *Hot) Search(ctx context.Context, ps normalize.PatternSet, limit int) []SearchHit {
	h.mu.RLock()
	snapshot := make([]HotEntry, 0, len(h.entries))
	for _, e := range h.entries {
		snapshot = append(snapshot, e)
	}
	h.mu.RUnlock()

	return scanEntries(ctx, snapshot, ps, LabelHot, hotScanThreshold, hotScanTimeout, limit)
}

// scheduleSave triggers a background save if at least hotSaveMinGap has
// elapsed since the last one; otherwise it just marks the tier dirty so a
// later save call picks up the change.
func (h *Hot) scheduleSave() {
	h.saveMu.Lock()
	h.dirty = true
	if h.saveInFlight || time.Since(h.lastSaveAt) < hotSaveMinGap {
		h.saveMu.Unlock()
		return
	}
	h.saveInFlight = true
	h.saveMu.Unlock()

	go func() {
		if err := h.Save(); err != nil {
			log.Get().Warn("hot cache background save failed", zap.Error(err))
		}
		h.saveMu.Lock()
		h.saveInFlight = false
		h.saveMu.Unlock()
	}()
}

// Save writes the hot tier to disk synchronously. Called directly for the
// final, synchronous save on shutdown.
func (h *Hot) Save() error {
	h.mu.RLock()
	snapshot := make(map[string]HotEntry, len(h.entries))
	for p, e := range h.entries {
		snapshot[p] = e
	}
	h.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "marshaling hot cache")
	}

	path := filepath.Join(h.cacheDir, hotCacheFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "writing hot cache tmp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "renaming hot cache tmp file")
	}

	h.saveMu.Lock()
	h.lastSaveAt = time.Now()
	h.dirty = false
	h.saveMu.Unlock()
	return nil
}
