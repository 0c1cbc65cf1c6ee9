package shard

import (
	"context"
	"testing"
)

func TestRouterStability(t *testing.T) {
	dir := t.TempDir()
	r1, err := LoadRouter(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadRouter: %v", err)
	}
	r2, err := LoadRouter(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadRouter (2nd run): %v", err)
	}
	if r1.N() != r2.N() {
		t.Fatalf("N changed across runs: %d vs %d", r1.N(), r2.N())
	}

	path := "/x/y/z.txt"
	if r1.Index(path) != r2.Index(path) {
		t.Fatalf("shard index for %q changed across runs", path)
	}
}

func TestNewRouterKeepsExplicitN(t *testing.T) {
	n := NewRouter(999).N()
	if n != 999 {
		t.Fatalf("NewRouter should not clamp explicit N, got %d", n)
	}
}
