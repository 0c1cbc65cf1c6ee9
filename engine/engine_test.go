package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.Index.ImmediateToHotDelay = 10 * time.Millisecond
	cfg.Index.ToDurableDelay = 20 * time.Millisecond
	cfg.Index.BulkFlushInterval = 10 * time.Millisecond

	e, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return e
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
	return path
}

// Covers the UTF-8 round-trip scenario: plain, full-width and case-folded
// forms of a query must all find the same document.
func TestSearchNormalizationRoundTrip(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "検索テスト ABC")

	if ok, err := e.IndexOne(ctx, path); err != nil || !ok {
		t.Fatalf("IndexOne = %v, %v", ok, err)
	}

	for _, q := range []string{"検索", "ＡＢＣ", "abc"} {
		results, err := e.Search(ctx, q, 10, "all")
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(results) == 0 || results[0].Path != path {
			t.Fatalf("Search(%q) = %+v, want %s in top-1", q, results, path)
		}
	}
}

// Covers the query-during-indexing scenario: a freshly indexed document is
// served from the immediate tier at once, and from a durable shard after
// the promotion timers fire.
func TestTierPromotionVisibleThroughSearch(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "fresh.txt", "freshly indexed content")

	if ok, err := e.IndexOne(ctx, path); err != nil || !ok {
		t.Fatalf("IndexOne = %v, %v", ok, err)
	}

	results, err := e.Search(ctx, "freshly", 10, "all")
	if err != nil || len(results) == 0 {
		t.Fatalf("Search right after IndexOne = %+v, %v", results, err)
	}
	if results[0].Tier != "immediate" {
		t.Fatalf("Tier = %q, want immediate before promotion", results[0].Tier)
	}

	// After both promotion timers have fired, the durable row is
	// authoritative; clear the caches so the shard fan-out must serve it.
	deadline := time.Now().Add(3 * time.Second)
	for {
		time.Sleep(50 * time.Millisecond)
		e.ClearCache()
		results, err = e.Search(ctx, "freshly", 10, "all")
		if err == nil && len(results) > 0 && strings.HasPrefix(results[0].Tier, "complete:") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("document never became durable; last = %+v, %v", results, err)
		}
	}
}

func TestIndexDirectoryAndStatistics(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	root := t.TempDir()
	for _, n := range []string{"one.txt", "two.txt", "three.txt"} {
		writeFile(t, root, n, "directory corpus text")
	}
	writeFile(t, root, "skipped.bin", "not an accepted extension")

	summary, err := e.IndexDirectory(ctx, root, nil)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if summary.Total != 3 || summary.Successful != 3 {
		t.Fatalf("summary = %+v, want 3/3", summary)
	}

	snap, err := e.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if snap.ImmediateCount == 0 && snap.HotCount == 0 && snap.DocumentCount == 0 {
		t.Fatalf("statistics should reflect the indexed corpus: %+v", snap)
	}
}

func TestShutdownRejectsFurtherCalls(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := e.Search(ctx, "anything", 10, "all"); err != ErrShutdown {
		t.Fatalf("Search after Shutdown = %v, want ErrShutdown", err)
	}
	if _, err := e.IndexOne(ctx, "/nope.txt"); err != ErrShutdown {
		t.Fatalf("IndexOne after Shutdown = %v, want ErrShutdown", err)
	}
	// Idempotent.
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestShardCountStableAcrossReopen(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	e1, err := Open(ctx, DefaultConfig(dataDir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n := e1.ShardCount()
	e1.Shutdown(ctx)

	e2, err := Open(ctx, DefaultConfig(dataDir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Shutdown(ctx)
	if e2.ShardCount() != n {
		t.Fatalf("shard count changed across reopen: %d vs %d", n, e2.ShardCount())
	}
}
