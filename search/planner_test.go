package search

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/d1424da/gofilesearch/cache"
	"github.com/d1424da/gofilesearch/normalize"
	"github.com/d1424da/gofilesearch/shard"
)

func newTestPlanner(t *testing.T, n int) (*Planner, []*shard.Store, *cache.Immediate, *cache.Hot) {
	t.Helper()
	dataDir := t.TempDir()
	router := shard.NewRouter(n)
	shards := make([]*shard.Store, n)
	for i := 0; i < n; i++ {
		s, err := shard.Open(context.Background(), dataDir, i)
		if err != nil {
			t.Fatalf("shard.Open(%d): %v", i, err)
		}
		t.Cleanup(func() { s.Close() })
		shards[i] = s
	}
	imm := cache.NewImmediate(100)
	hot, err := cache.NewHot(t.TempDir(), 100)
	if err != nil {
		t.Fatalf("NewHot: %v", err)
	}
	p := New(normalize.New(), imm, hot, router, shards, DefaultConfig())
	return p, shards, imm, hot
}

func upsertDoc(t *testing.T, shards []*shard.Store, router *shard.Router, path, content string) int {
	t.Helper()
	idx := router.Index(path)
	doc := shard.Document{
		Path:         path,
		Name:         base(path),
		Content:      content,
		Type:         ".txt",
		ModifiedTime: time.Now(),
		IndexedTime:  time.Now(),
		Hash:         "h",
	}
	if err := shards[idx].Upsert(context.Background(), doc); err != nil {
		t.Fatalf("Upsert(%s): %v", path, err)
	}
	return idx
}

func base(path string) string {
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}

func TestSearchImmediateTier(t *testing.T) {
	p, _, imm, _ := newTestPlanner(t, 2)
	imm.Insert("/a.txt", "a.txt", "hello world content", ".txt", 19, time.Now())

	results, err := p.Search(context.Background(), "hello", 10, "all")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Path != "/a.txt" || results[0].Tier != "immediate" {
		t.Fatalf("Search(hello) = %+v, want /a.txt from immediate tier", results)
	}
}

func TestSearchFansOutToShards(t *testing.T) {
	p, shards, _, _ := newTestPlanner(t, 2)
	router := shard.NewRouter(2)
	idx := upsertDoc(t, shards, router, "/x/report.txt", "quarterly report body")

	results, err := p.Search(context.Background(), "quarterly", 10, "all")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search(quarterly) = %+v, want 1 result", results)
	}
	wantTier := "complete:" + string(rune('0'+idx))
	if results[0].Tier != wantTier {
		t.Fatalf("Tier = %q, want %q", results[0].Tier, wantTier)
	}
}

func TestMixedTierDedupPrefersDurable(t *testing.T) {
	p, shards, _, hot := newTestPlanner(t, 2)
	router := shard.NewRouter(2)

	const path = "/mix/dup.txt"
	hot.Insert(cache.HotEntry{Path: path, Name: "dup.txt", Content: "duplicate marker text", Type: ".txt", IndexedTime: time.Now()})
	upsertDoc(t, shards, router, path, "duplicate marker text")

	results, err := p.Search(context.Background(), "duplicate", 10, "all")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	count := 0
	for _, r := range results {
		if r.Path == path {
			count++
			if !strings.HasPrefix(r.Tier, "complete:") {
				t.Errorf("dedup kept tier %q, want complete:<i>", r.Tier)
			}
		}
	}
	if count != 1 {
		t.Fatalf("path %s appears %d times, want exactly 1: %+v", path, count, results)
	}
}

func TestTypeFilter(t *testing.T) {
	p, _, imm, _ := newTestPlanner(t, 2)
	imm.Insert("/a.txt", "a.txt", "shared term", ".txt", 1, time.Now())
	imm.Insert("/b.pdf", "b.pdf", "shared term", ".pdf", 1, time.Now())

	results, err := p.Search(context.Background(), "shared", 10, ".pdf")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "/b.pdf" {
		t.Fatalf("type-filtered Search = %+v, want only /b.pdf", results)
	}
}

func TestExactBasenameMatchRanksFirst(t *testing.T) {
	p, _, imm, _ := newTestPlanner(t, 2)
	imm.Insert("/exact/report.txt", "report.txt", "report", ".txt", 1, time.Now())
	imm.Insert("/partial/notes.txt", "notes.txt", "this mentions a report once, buried deep in other text", ".txt", 1, time.Now())

	results, err := p.Search(context.Background(), "report", 10, "all")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("want both documents, got %+v", results)
	}
	if results[0].Path != "/exact/report.txt" {
		t.Fatalf("exact basename match should rank first, got %+v", results)
	}
}

func TestEmptyQueryReturnsNothing(t *testing.T) {
	p, _, _, _ := newTestPlanner(t, 2)
	results, err := p.Search(context.Background(), "   ", 10, "all")
	if err != nil || results != nil {
		t.Fatalf("Search(blank) = %v, %v; want nil, nil", results, err)
	}
}
