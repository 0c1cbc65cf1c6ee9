// Package engine wires the normalizer, extractors, shard store, tiered
// cache, indexing pipeline, query planner and statistics aggregator
// behind one public API surface. One Engine value owns all shared state;
// there are no package-level mutable globals.
package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/d1424da/gofilesearch/cache"
	"github.com/d1424da/gofilesearch/index"
	"github.com/d1424da/gofilesearch/log"
	"github.com/d1424da/gofilesearch/normalize"
	"github.com/d1424da/gofilesearch/search"
	"github.com/d1424da/gofilesearch/shard"
	"github.com/d1424da/gofilesearch/stats"
)

// ErrShutdown is returned by entry points invoked after Shutdown has begun.
var ErrShutdown = errors.New("engine is shutting down")

// optimizePoolSize bounds the shard optimization pool.
const optimizePoolSize = 4

// Config configures an Engine. Zero ImmediateCapacity and HotCapacity fall
// back to the tier defaults; Index and Search are used as given, with no
// defaulting of their zero fields.
type Config struct {
	// DataDir is the root under which data_storage/, cache/ and the debug
	// log live.
	DataDir string

	ImmediateCapacity int
	HotCapacity       int

	Index  index.Config
	Search search.Config
}

// DefaultConfig returns the default engine tuning rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:           dataDir,
		ImmediateCapacity: cache.ImmediateCapacity,
		HotCapacity:       cache.HotCapacity,
		Index:             index.DefaultConfig(),
		Search:            search.DefaultConfig(),
	}
}

// Engine is the top-level handle the UI talks to.
type Engine struct {
	cfg Config

	normalizer *normalize.Normalizer
	immediate  *cache.Immediate
	hot        *cache.Hot
	router     *shard.Router
	shards     []*shard.Store
	planner    *search.Planner
	stats      *stats.Aggregator

	// runMu serializes directory runs; pipelineMu only guards the pointer
	// so CancelIndexing can reach the active pipeline mid-run. oneShot
	// serves IndexOne calls outside a directory run and lives as long as
	// the engine, so Shutdown can cancel its promotion timers too.
	runMu      sync.Mutex
	pipelineMu sync.Mutex
	pipeline   *index.Pipeline
	oneShot    *index.Pipeline

	shutdownRequested atomic.Bool
	closeOnce         sync.Once
	closeErr          error
}

// Open initializes (or re-opens) the data directory: resolves the shard
// count, opens every shard store, loads the persistent hot tier, and wires
// the planner and pipeline around them.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("engine: DataDir must be set")
	}

	router, err := shard.LoadRouter(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}

	shards := make([]*shard.Store, router.N())
	for i := range shards {
		s, err := shard.Open(ctx, cfg.DataDir, i)
		if err != nil {
			for _, open := range shards[:i] {
				open.Close()
			}
			return nil, err
		}
		shards[i] = s
	}

	hot, err := cache.NewHot(filepath.Join(cfg.DataDir, "cache"), cfg.HotCapacity)
	if err != nil {
		for _, s := range shards {
			s.Close()
		}
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		normalizer: normalize.New(),
		immediate:  cache.NewImmediate(cfg.ImmediateCapacity),
		hot:        hot,
		router:     router,
		shards:     shards,
	}
	e.planner = search.New(e.normalizer, e.immediate, e.hot, router, shards, cfg.Search)
	e.stats = stats.New(e.immediate, e.hot, shards)
	e.oneShot = index.New(e.deps(), cfg.Index)

	log.Get().Info("engine opened",
		zap.String("dataDir", cfg.DataDir),
		zap.Int("shards", router.N()),
		zap.Int("hotEntries", hot.Len()))
	return e, nil
}

// Search answers one interactive query. maxResults <= 0 and
// typeFilter == "" take the API defaults (5500, "all").
func (e *Engine) Search(ctx context.Context, query string, maxResults int, typeFilter string) ([]search.Result, error) {
	if e.shutdownRequested.Load() {
		return nil, ErrShutdown
	}

	e.stats.SearchStarted()
	defer e.stats.SearchFinished()

	start := time.Now()
	results, err := e.planner.Search(ctx, query, maxResults, typeFilter)

	tiers := make([]string, len(results))
	for i, r := range results {
		tiers[i] = r.Tier
	}
	e.stats.RecordSearch(time.Since(start), tiers, err)
	return results, err
}

// IndexOne indexes a single path synchronously.
func (e *Engine) IndexOne(ctx context.Context, path string) (bool, error) {
	if e.shutdownRequested.Load() {
		return false, ErrShutdown
	}
	ok, err := e.currentPipeline().IndexOne(ctx, path)
	e.stats.RecordIndexed(ok && err == nil)
	return ok, err
}

// IndexDirectory walks root and indexes everything under it. Only one
// directory indexing run is active at a time; a second call waits for the
// first to finish.
func (e *Engine) IndexDirectory(ctx context.Context, root string, onProgress index.ProgressFunc) (index.Summary, error) {
	if e.shutdownRequested.Load() {
		return index.Summary{}, ErrShutdown
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	p := index.New(e.deps(), e.cfg.Index)
	e.setPipeline(p)
	defer e.setPipeline(nil)

	progress := func(path, category string, ok bool) {
		e.stats.RecordIndexed(ok)
		if onProgress != nil {
			onProgress(path, category, ok)
		}
	}
	return p.Run(ctx, root, progress)
}

// CancelIndexing requests cooperative cancellation of the active directory
// run, if any.
func (e *Engine) CancelIndexing() {
	e.pipelineMu.Lock()
	p := e.pipeline
	e.pipelineMu.Unlock()
	if p != nil {
		p.Cancel()
	}
}

// Statistics returns the aggregated per-tier/per-shard view, rate-limited
// internally.
func (e *Engine) Statistics(ctx context.Context) (stats.Snapshot, error) {
	return e.stats.Snapshot(ctx)
}

// ClearCache drops both cache tiers. Durable shard
// data is untouched.
func (e *Engine) ClearCache() {
	e.immediate.Clear()
	e.hot.Clear()
}

// Optimize runs each shard's optimization pass, bounded to a small pool.
func (e *Engine) Optimize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(optimizePoolSize)
	for _, s := range e.shards {
		s := s
		g.Go(func() error {
			if err := s.Optimize(gctx); err != nil {
				return err
			}
			e.stats.RecordOptimize()
			return nil
		})
	}
	return g.Wait()
}

// Shutdown performs the ordered shutdown sequence: set the flag indexers and
// timers observe, cancel the active pipeline's promotion timers, save the
// hot tier synchronously, and close every shard connection. It is
// idempotent; later calls return the first call's error.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.shutdownRequested.Store(true)
		e.CancelIndexing()
		e.oneShot.Cancel()

		if err := e.hot.Save(); err != nil {
			log.Get().Warn("final hot cache save failed", zap.Error(err))
			e.closeErr = err
		}

		for _, s := range e.shards {
			if err := s.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
		log.Get().Info("engine shut down")
	})
	return e.closeErr
}

// ShardCount reports the (fixed) number of shards backing this engine.
func (e *Engine) ShardCount() int { return e.router.N() }

func (e *Engine) deps() index.Deps {
	return index.Deps{
		Immediate: e.immediate,
		Hot:       e.hot,
		Router:    e.router,
		Shards:    e.shards,
	}
}

func (e *Engine) setPipeline(p *index.Pipeline) {
	e.pipelineMu.Lock()
	e.pipeline = p
	e.pipelineMu.Unlock()
}

// currentPipeline returns the active directory pipeline if one is running,
// else the engine's long-lived one-shot pipeline.
func (e *Engine) currentPipeline() *index.Pipeline {
	e.pipelineMu.Lock()
	p := e.pipeline
	e.pipelineMu.Unlock()
	if p != nil {
		return p
	}
	return e.oneShot
}
