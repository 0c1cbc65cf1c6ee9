package cache

import (
	"context"
	"testing"
	"time"

	"github.com/d1424da/gofilesearch/normalize"
)

func TestImmediateInsertSearchDelete(t *testing.T) {
	imm := NewImmediate(10)
	imm.Insert("/a.txt", "a.txt", "hello world", ".txt", 11, time.Now())

	n := normalize.New()
	hits := imm.Search(context.Background(), n.Patterns("hello"), 10)
	if len(hits) != 1 || hits[0].Path != "/a.txt" {
		t.Fatalf("Search(hello) = %+v", hits)
	}

	if _, ok := imm.Delete("/a.txt"); !ok {
		t.Fatalf("Delete should find the entry")
	}
	if _, ok := imm.Get("/a.txt"); ok {
		t.Fatalf("entry should be gone after Delete")
	}
}

func TestImmediateEvictionOnOverflow(t *testing.T) {
	imm := NewImmediate(10)
	base := time.Now()
	for i := 0; i < 10; i++ {
		imm.Insert(pathN(i), pathN(i), "x", ".txt", 1, base.Add(time.Duration(i)*time.Second))
	}
	imm.Insert(pathN(10), pathN(10), "x", ".txt", 1, base.Add(11*time.Second))

	if imm.Len() >= 11 {
		t.Fatalf("expected eviction on overflow, got len=%d", imm.Len())
	}
	if _, ok := imm.Get(pathN(0)); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
}

func TestHotTierPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHot(dir, 10)
	if err != nil {
		t.Fatalf("NewHot: %v", err)
	}
	h.Insert(HotEntry{Path: "/b.txt", Name: "b.txt", Content: "report content", Type: ".txt", IndexedTime: time.Now()})
	if err := h.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	h2, err := NewHot(dir, 10)
	if err != nil {
		t.Fatalf("NewHot reload: %v", err)
	}
	if e, ok := h2.Get("/b.txt"); !ok || e.Content != "report content" {
		t.Fatalf("reloaded hot tier missing entry: %+v, ok=%v", e, ok)
	}
}

func TestHotTierDropsStaleEntriesOnLoad(t *testing.T) {
	dir := t.TempDir()
	h, _ := NewHot(dir, 10)
	h.Insert(HotEntry{Path: "/old.txt", Name: "old.txt", Content: "x", IndexedTime: time.Now().Add(-30 * 24 * time.Hour)})
	h.Save()

	h2, _ := NewHot(dir, 10)
	if _, ok := h2.Get("/old.txt"); ok {
		t.Fatalf("entries older than 7 days should be dropped on load")
	}
}

func pathN(i int) string {
	return "/p/" + string(rune('a'+i)) + ".txt"
}
