// Package cache implements the tiered cache: an immediate (volatile) tier
// and a hot (persistent) tier that serve queries while durable shard
// writes are still pending.
package cache

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/d1424da/gofilesearch/normalize"
)

// Label identifies which tier a search hit came from.
type Label string

const (
	LabelImmediate Label = "immediate"
	LabelHot       Label = "hot"
)

// SearchHit is one cache-tier match, converted downstream into a full
// search.Result by the query planner.
type SearchHit struct {
	Path    string
	Name    string
	Preview string
	Type    string
	Tier    Label
}

// scanPoolSize bounds the cache-scan worker pool.
const scanPoolSize = 8

// scannable is the minimal shape a tier entry must expose to participate in
// the sharded scan shared by both tiers.
type scannable interface {
	searchText() string // content/preview + basename
	toHit(tier Label) SearchHit
}

// scanEntries runs normalize.Matches over entries. Caches above threshold
// scan across a bounded pool in
// chunks, with a short per-chunk timeout; slow chunks are dropped rather
// than awaited.
func scanEntries[T scannable](ctx context.Context, entries []T, ps normalize.PatternSet, tier Label, threshold int, chunkTimeout time.Duration, limit int) []SearchHit {
	if len(entries) == 0 {
		return nil
	}

	if len(entries) <= threshold {
		return linearScan(entries, ps, tier, limit, chunkTimeout)
	}

	chunkSize := len(entries) / (scanPoolSize * 2)
	if chunkSize < 1 {
		chunkSize = 1
	}

	type chunkResult struct {
		hits []SearchHit
	}

	sem := semaphore.NewWeighted(scanPoolSize)
	resultsCh := make(chan chunkResult, (len(entries)/chunkSize)+1)
	var launched int

	for start := 0; start < len(entries); start += chunkSize {
		end := start + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++
		go func(chunk []T) {
			defer sem.Release(1)
			cctx, cancel := context.WithTimeout(ctx, chunkTimeout)
			defer cancel()
			resultsCh <- chunkResult{hits: scanChunk(cctx, chunk, ps, tier, limit)}
		}(entries[start:end])
	}

	var out []SearchHit
	deadline := time.After(chunkTimeout + 250*time.Millisecond)
	for i := 0; i < launched; i++ {
		select {
		case r := <-resultsCh:
			out = append(out, r.hits...)
			if len(out) >= limit {
				return out[:limit]
			}
		case <-deadline:
			// Remaining slow chunks are dropped: the planner
			// proceeds with whatever arrived in time.
			return out
		}
	}
	return out
}

func linearScan[T scannable](entries []T, ps normalize.PatternSet, tier Label, limit int, timeout time.Duration) []SearchHit {
	deadline := time.Now().Add(timeout)
	var out []SearchHit
	for _, e := range entries {
		if time.Now().After(deadline) {
			break
		}
		if normalize.Matches(e.searchText(), ps) {
			out = append(out, e.toHit(tier))
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func scanChunk[T scannable](ctx context.Context, chunk []T, ps normalize.PatternSet, tier Label, limit int) []SearchHit {
	var out []SearchHit
	for _, e := range chunk {
		select {
		case <-ctx.Done():
			return out
		default:
		}
		if normalize.Matches(e.searchText(), ps) {
			out = append(out, e.toHit(tier))
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// sortByIndexedTimeAsc sorts paths by ascending IndexedTime, used by the
// eviction routines (oldest first).
func sortByIndexedTimeAsc[T any](items []T, timeOf func(T) time.Time) {
	sort.Slice(items, func(i, j int) bool { return timeOf(items[i]).Before(timeOf(items[j])) })
}
