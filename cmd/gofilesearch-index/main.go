// Command gofilesearch-index builds or updates the search index for a
// directory tree.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d1424da/gofilesearch/engine"
	"github.com/d1424da/gofilesearch/log"
)

func main() {
	dataDir := flag.String("data_dir", defaultDataDir(), "directory holding the shard stores and cache")
	root := flag.String("root", "", "directory tree to index (required)")
	optimize := flag.Bool("optimize", false, "run shard optimization after indexing")
	verbose := flag.Bool("v", false, "print every file as it is indexed")
	flag.Parse()

	if *root == "" {
		fmt.Fprintln(os.Stderr, "usage: gofilesearch-index -root <dir> [-data_dir <dir>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		stdlog.Fatalf("creating data dir: %v", err)
	}
	logSync, err := log.Init(*dataDir)
	if err != nil {
		stdlog.Fatalf("initializing log: %v", err)
	}
	defer logSync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.Open(ctx, engine.DefaultConfig(*dataDir))
	if err != nil {
		stdlog.Fatalf("opening engine: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Fprintln(os.Stderr, "cancelling...")
		eng.CancelIndexing()
	}()

	progress := func(path, category string, ok bool) {
		if *verbose {
			status := "ok"
			if !ok {
				status = "FAIL"
			}
			fmt.Printf("%-6s %-6s %s\n", status, category, path)
		}
	}

	summary, err := eng.IndexDirectory(ctx, *root, progress)
	if err != nil {
		stdlog.Fatalf("indexing %s: %v", *root, err)
	}

	// Let the deferred promotion timers drain into the durable store
	// before shutting down, so a short run still persists its tail.
	time.Sleep(6 * time.Second)

	if *optimize {
		if err := eng.Optimize(ctx); err != nil {
			stdlog.Printf("optimize: %v", err)
		}
	}

	if err := eng.Shutdown(ctx); err != nil {
		stdlog.Printf("shutdown: %v", err)
	}

	fmt.Printf("indexed %d files (%d ok, %d errors) in %s (%.1f files/s)\n",
		summary.Total, summary.Successful, summary.Errors,
		summary.Duration.Round(time.Millisecond), summary.Throughput())
	if summary.Cancelled {
		fmt.Println("run was cancelled; summary is truncated")
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gofilesearch"
	}
	return home + "/.gofilesearch"
}
