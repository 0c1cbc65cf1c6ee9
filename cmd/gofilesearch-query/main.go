// Command gofilesearch-query runs one query against an existing data
// directory and prints the ranked results.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"strings"

	"github.com/d1424da/gofilesearch/engine"
	"github.com/d1424da/gofilesearch/log"
)

func main() {
	dataDir := flag.String("data_dir", defaultDataDir(), "directory holding the shard stores and cache")
	maxResults := flag.Int("max_results", 50, "maximum number of results to print")
	typeFilter := flag.String("type", "all", "only return files whose extension matches (e.g. .pdf)")
	showStats := flag.Bool("stats", false, "print index statistics instead of searching")
	flag.Parse()

	logSync, err := log.Init(*dataDir)
	if err != nil {
		stdlog.Fatalf("initializing log: %v", err)
	}
	defer logSync()

	ctx := context.Background()
	eng, err := engine.Open(ctx, engine.DefaultConfig(*dataDir))
	if err != nil {
		stdlog.Fatalf("opening engine: %v", err)
	}
	defer eng.Shutdown(ctx)

	if *showStats {
		printStats(ctx, eng)
		return
	}

	query := strings.Join(flag.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fmt.Fprintln(os.Stderr, "usage: gofilesearch-query [flags] <query terms>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	results, err := eng.Search(ctx, query, *maxResults, *typeFilter)
	if err != nil {
		stdlog.Fatalf("search: %v", err)
	}

	for _, r := range results {
		fmt.Printf("%7.2f  %-14s %s\n", r.Score, r.Tier, r.Path)
		if r.Preview != "" {
			fmt.Printf("         %s\n", strings.ReplaceAll(r.Preview, "\n", " "))
		}
	}
	fmt.Printf("%d results\n", len(results))
}

func printStats(ctx context.Context, eng *engine.Engine) {
	snap, err := eng.Statistics(ctx)
	if err != nil {
		stdlog.Fatalf("statistics: %v", err)
	}
	fmt.Printf("documents: %d across %d shards\n", snap.DocumentCount, eng.ShardCount())
	fmt.Printf("cache: %d immediate, %d hot\n", snap.ImmediateCount, snap.HotCount)
	for _, st := range snap.PerShard {
		fmt.Printf("  shard %2d: %7d docs, %d bytes\n", st.ShardIndex, st.DocumentCount, st.SizeBytes)
	}
	for t, n := range snap.ByType {
		fmt.Printf("  %-8s %d\n", t, n)
	}
	fmt.Printf("searches: %d total, %d errors, avg %s\n",
		snap.Search.Total, snap.Search.Errors, snap.Search.AverageTime())
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gofilesearch"
	}
	return home + "/.gofilesearch"
}
