// Package stats aggregates engine statistics: per-tier and per-shard
// counts, by-type histograms, search and
// optimization counters, with a compare-and-set rate limit so observers
// polling the aggregator cannot thrash the shard stores.
package stats

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/d1424da/gofilesearch/cache"
	"github.com/d1424da/gofilesearch/shard"
)

var (
	metricSearchRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gofilesearch_search_running",
		Help: "The number of concurrent search requests running",
	})
	metricSearchFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gofilesearch_search_failed_total",
		Help: "The total number of search requests that failed",
	})
	metricSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gofilesearch_search_duration_seconds",
		Help:    "The duration of search requests",
		Buckets: prometheus.DefBuckets,
	})
	metricSearchTierHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gofilesearch_search_tier_hits_total",
		Help: "The total number of search hits served, by source tier",
	}, []string{"tier"})
	metricDocumentsIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gofilesearch_documents_indexed_total",
		Help: "The total number of documents run through the indexing pipeline",
	})
	metricIndexErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gofilesearch_index_errors_total",
		Help: "The total number of files that failed extraction or persistence",
	})
	metricOptimizeRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gofilesearch_optimize_runs_total",
		Help: "The total number of shard optimization passes",
	})
	metricCacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gofilesearch_cache_entries",
		Help: "The current number of entries per cache tier",
	}, []string{"tier"})
)

// refreshMinGap rate-limits observers: shard stores are
// re-counted at most once per this interval, no matter how often
// Snapshot is called.
const refreshMinGap = 2 * time.Second

// SearchCounters aggregates the query-side counters.
type SearchCounters struct {
	Total         int64
	Errors        int64
	ImmediateHits int64
	HotHits       int64
	CompleteHits  int64
	TotalTime     time.Duration
}

// AverageTime is the mean search latency across all recorded searches.
func (c SearchCounters) AverageTime() time.Duration {
	if c.Total == 0 {
		return 0
	}
	return c.TotalTime / time.Duration(c.Total)
}

// Snapshot is one aggregated view of the whole engine's state.
type Snapshot struct {
	DocumentCount  int
	ByType         map[string]int
	PerShard       []shard.Stats
	ImmediateCount int
	HotCount       int
	Search         SearchCounters
	OptimizeRuns   int64
	TakenAt        time.Time
}

// Aggregator owns the counters and the rate-limited shard refresh. One
// Aggregator lives on the engine value; all entry points share it.
type Aggregator struct {
	immediate *cache.Immediate
	hot       *cache.Hot
	shards    []*shard.Store

	searchTotal   atomic.Int64
	searchErrors  atomic.Int64
	immediateHits atomic.Int64
	hotHits       atomic.Int64
	completeHits  atomic.Int64
	searchNanos   atomic.Int64
	indexed       atomic.Int64
	indexErrors   atomic.Int64
	optimizeRuns  atomic.Int64

	// lastRefreshNanos gates the expensive per-shard COUNT pass via
	// compare-and-set.
	lastRefreshNanos atomic.Int64

	cachedMu sync.RWMutex
	cached   Snapshot
}

// New builds an Aggregator over the engine's shared tiers and shards.
func New(immediate *cache.Immediate, hot *cache.Hot, shards []*shard.Store) *Aggregator {
	return &Aggregator{immediate: immediate, hot: hot, shards: shards}
}

// RecordSearch records one completed search: its latency, error state and
// the source tier of every returned hit.
func (a *Aggregator) RecordSearch(d time.Duration, tiers []string, err error) {
	a.searchTotal.Add(1)
	a.searchNanos.Add(int64(d))
	metricSearchDuration.Observe(d.Seconds())
	if err != nil {
		a.searchErrors.Add(1)
		metricSearchFailedTotal.Inc()
		return
	}
	for _, tier := range tiers {
		switch {
		case strings.HasPrefix(tier, "complete"):
			a.completeHits.Add(1)
			metricSearchTierHitsTotal.WithLabelValues("complete").Inc()
		case tier == "immediate":
			a.immediateHits.Add(1)
			metricSearchTierHitsTotal.WithLabelValues("immediate").Inc()
		case tier == "hot":
			a.hotHits.Add(1)
			metricSearchTierHitsTotal.WithLabelValues("hot").Inc()
		}
	}
}

// SearchStarted/SearchFinished bracket an in-flight search for the
// running-requests gauge.
func (a *Aggregator) SearchStarted()  { metricSearchRunning.Inc() }
func (a *Aggregator) SearchFinished() { metricSearchRunning.Dec() }

// RecordIndexed records one file processed by the pipeline.
func (a *Aggregator) RecordIndexed(ok bool) {
	a.indexed.Add(1)
	metricDocumentsIndexedTotal.Inc()
	if !ok {
		a.indexErrors.Add(1)
		metricIndexErrorsTotal.Inc()
	}
}

// RecordOptimize records one completed shard optimization pass.
func (a *Aggregator) RecordOptimize() {
	a.optimizeRuns.Add(1)
	metricOptimizeRunsTotal.Inc()
}

// Snapshot returns the aggregated view. The cheap counters are always
// current; the per-shard document counts are refreshed at most once per
// refreshMinGap, guarded by a compare-and-set so concurrent observers do
// not all pay for the COUNT pass.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	now := time.Now()
	last := a.lastRefreshNanos.Load()
	if now.UnixNano()-last >= int64(refreshMinGap) &&
		a.lastRefreshNanos.CompareAndSwap(last, now.UnixNano()) {
		if err := a.refreshShards(ctx); err != nil {
			return Snapshot{}, err
		}
	}

	a.cachedMu.RLock()
	snap := a.cached
	a.cachedMu.RUnlock()

	snap.ImmediateCount = a.immediate.Len()
	snap.HotCount = a.hot.Len()
	metricCacheEntries.WithLabelValues("immediate").Set(float64(snap.ImmediateCount))
	metricCacheEntries.WithLabelValues("hot").Set(float64(snap.HotCount))

	snap.Search = SearchCounters{
		Total:         a.searchTotal.Load(),
		Errors:        a.searchErrors.Load(),
		ImmediateHits: a.immediateHits.Load(),
		HotHits:       a.hotHits.Load(),
		CompleteHits:  a.completeHits.Load(),
		TotalTime:     time.Duration(a.searchNanos.Load()),
	}
	snap.OptimizeRuns = a.optimizeRuns.Load()
	snap.TakenAt = now
	return snap, nil
}

func (a *Aggregator) refreshShards(ctx context.Context) error {
	snap := Snapshot{ByType: make(map[string]int)}
	for _, s := range a.shards {
		st, err := s.Stats(ctx)
		if err != nil {
			return err
		}
		snap.PerShard = append(snap.PerShard, st)
		snap.DocumentCount += st.DocumentCount
		for t, n := range st.ByType {
			snap.ByType[t] += n
		}
	}

	a.cachedMu.Lock()
	a.cached = snap
	a.cachedMu.Unlock()
	return nil
}
