package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/d1424da/gofilesearch/cache"
	"github.com/d1424da/gofilesearch/normalize"
	"github.com/d1424da/gofilesearch/shard"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ImmediateToHotDelay = 5 * time.Millisecond
	cfg.ToDurableDelay = 10 * time.Millisecond
	cfg.BulkFlushInterval = 5 * time.Millisecond
	cfg.QuickStartWindow = 50 * time.Millisecond
	cfg.LightWorkers = 4
	return cfg
}

func newTestDeps(t *testing.T, n int) Deps {
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
	hot, err := cache.NewHot(filepath.Join(dataDir, "cache"), 100)
	if err != nil {
		t.Fatalf("NewHot: %v", err)
	}
	return Deps{
		Immediate: cache.NewImmediate(100),
		Hot:       hot,
		Router:    router,
		Shards:    shards,
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
	return path
}

func TestIndexOneReachesDurableStore(t *testing.T) {
	deps := newTestDeps(t, 2)
	root := t.TempDir()
	path := writeFile(t, root, "a.txt", "hello world")

	p := New(deps, testConfig())
	ctx := context.Background()

	ok, err := p.IndexOne(ctx, path)
	if err != nil || !ok {
		t.Fatalf("IndexOne = %v, %v", ok, err)
	}

	if _, found := deps.Immediate.Get(path); !found {
		t.Fatalf("expected immediate-tier entry right after IndexOne")
	}

	n := normalize.New()
	clauses := normalize.TokenizeFTS(n.Patterns("hello"))

	idx := deps.Router.Index(path)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := deps.Shards[idx].Query(ctx, clauses, 10)
		if err == nil && len(rows) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("document never reached durable shard %d", idx)
}

func TestRunIndexesDirectory(t *testing.T) {
	deps := newTestDeps(t, 2)
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, root, "f"+string(rune('a'+i))+".txt", "report content number")
	}

	p := New(deps, testConfig())
	summary, err := p.Run(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 5 || summary.Successful != 5 {
		t.Fatalf("Run summary = %+v", summary)
	}
}

func TestCancelStopsCategoryPhases(t *testing.T) {
	deps := newTestDeps(t, 2)
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, "g"+string(rune('a'+i))+".txt", "x")
	}

	p := New(deps, testConfig())
	p.Cancel()
	summary, err := p.Run(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Cancelled {
		t.Fatalf("expected Cancelled=true")
	}
}
