package stats

import (
	"context"
	"testing"
	"time"

	"github.com/d1424da/gofilesearch/cache"
	"github.com/d1424da/gofilesearch/shard"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	hot, err := cache.NewHot(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("NewHot: %v", err)
	}
	return New(cache.NewImmediate(10), hot, nil)
}

func TestRecordSearchCounters(t *testing.T) {
	a := newTestAggregator(t)

	a.RecordSearch(10*time.Millisecond, []string{"immediate", "hot", "complete:3"}, nil)
	a.RecordSearch(20*time.Millisecond, nil, context.DeadlineExceeded)

	snap, err := a.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Search.Total != 2 || snap.Search.Errors != 1 {
		t.Fatalf("Search counters = %+v", snap.Search)
	}
	if snap.Search.ImmediateHits != 1 || snap.Search.HotHits != 1 || snap.Search.CompleteHits != 1 {
		t.Fatalf("per-tier hits = %+v", snap.Search)
	}
	if got := snap.Search.AverageTime(); got != 15*time.Millisecond {
		t.Fatalf("AverageTime = %v, want 15ms", got)
	}
}

func TestSnapshotAggregatesShards(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()
	var shards []*shard.Store
	for i := 0; i < 2; i++ {
		s, err := shard.Open(ctx, dataDir, i)
		if err != nil {
			t.Fatalf("shard.Open(%d): %v", i, err)
		}
		t.Cleanup(func() { s.Close() })
		if err := s.Upsert(ctx, shard.Document{
			Path: "/s/" + string(rune('a'+i)) + ".txt", Name: "f", Content: "c", Type: ".txt",
			ModifiedTime: time.Now(), IndexedTime: time.Now(), Hash: "h",
		}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		shards = append(shards, s)
	}

	hot, err := cache.NewHot(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("NewHot: %v", err)
	}
	a := New(cache.NewImmediate(10), hot, shards)

	snap, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.DocumentCount != 2 || len(snap.PerShard) != 2 {
		t.Fatalf("Snapshot = %+v, want 2 docs over 2 shards", snap)
	}
	if snap.ByType[".txt"] != 2 {
		t.Fatalf("ByType = %v", snap.ByType)
	}
}

func TestSnapshotRateLimitsShardRefresh(t *testing.T) {
	a := newTestAggregator(t)

	snap1, err := a.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	first := a.lastRefreshNanos.Load()

	a.RecordIndexed(true)
	snap2, err := a.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if a.lastRefreshNanos.Load() != first {
		t.Fatalf("second Snapshot within the rate-limit window re-ran the shard refresh")
	}
	if snap1.DocumentCount != snap2.DocumentCount {
		t.Fatalf("cached shard view changed within the window")
	}
}
