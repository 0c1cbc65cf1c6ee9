package shard

import (
	"context"
	"testing"
	"time"

	"github.com/d1424da/gofilesearch/normalize"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := Document{
		Path:         "/x/a.txt",
		Name:         "a.txt",
		Content:      "検索テスト ABC",
		Type:         ".txt",
		Size:         20,
		ModifiedTime: time.Now(),
		IndexedTime:  time.Now(),
		Hash:         "deadbeef",
	}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n := normalize.New()
	ps := n.Patterns("検索")
	clauses := normalize.TokenizeFTS(ps)

	rows, err := s.Query(ctx, clauses, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 || rows[0].Path != doc.Path {
		t.Fatalf("Query(検索) = %+v, want single row for %s", rows, doc.Path)
	}
}

func TestUpsertIdempotence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := Document{Path: "/x/b.txt", Name: "b.txt", Content: "same content", Type: ".txt", Hash: "h1", ModifiedTime: time.Now(), IndexedTime: time.Now()}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 1 {
		t.Fatalf("DocumentCount = %d, want 1 after idempotent re-index", stats.DocumentCount)
	}
}

func TestBulkUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var docs []Document
	for i := 0; i < 60; i++ {
		docs = append(docs, Document{
			Path:         fmtPath(i),
			Name:         fmtPath(i),
			Content:      "bulk content report",
			Type:         ".txt",
			ModifiedTime: time.Now(),
			IndexedTime:  time.Now(),
			Hash:         "h",
		})
	}
	if err := s.BulkUpsert(ctx, docs); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 60 {
		t.Fatalf("DocumentCount = %d, want 60", stats.DocumentCount)
	}
}

func fmtPath(i int) string {
	return "/bulk/" + string(rune('a'+i%26)) + string(rune('0'+i/26)) + ".txt"
}
