package index

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/d1424da/gofilesearch/cache"
	"github.com/d1424da/gofilesearch/extract"
	"github.com/d1424da/gofilesearch/log"
	"github.com/d1424da/gofilesearch/shard"
)

// ProgressFunc reports one file's outcome as the pipeline processes it.
type ProgressFunc func(path, category string, ok bool)

// Deps are the components the pipeline drives: the two cache tiers and
// the sharded durable store, shared with the rest of the engine.
type Deps struct {
	Immediate *cache.Immediate
	Hot       *cache.Hot
	Router    *shard.Router
	Shards    []*shard.Store
}

// Summary is the result of one Run.
type Summary struct {
	Total      int
	Successful int
	Errors     int
	Duration   time.Duration
	Cancelled  bool
}

// Throughput reports documents processed per second.
func (s Summary) Throughput() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Total) / s.Duration.Seconds()
}

// Pipeline is the indexing pipeline. One Pipeline drives one Run (or
// a sequence of IndexOne calls) against a fixed set of Deps.
type Pipeline struct {
	deps Deps
	cfg  Config

	cancelled atomic.Bool

	durableMu      sync.Mutex
	durablePending map[int][]shard.Document
	flusherActive  atomic.Bool
	flushStop      chan struct{}
	flushWG        sync.WaitGroup
}

// New constructs a Pipeline. Callers own the lifetime of deps.
func New(deps Deps, cfg Config) *Pipeline {
	return &Pipeline{
		deps:           deps,
		cfg:            cfg,
		durablePending: make(map[int][]shard.Document),
	}
}

// Cancel requests cooperative cancellation. It is safe to call
// concurrently with Run.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
}

// Run walks root and indexes every accepted file under it, following the
// usual phases: discovery, size classification, quick-start,
// category-scheduled extraction, and bulk durable promotion.
func (p *Pipeline) Run(ctx context.Context, root string, onProgress ProgressFunc) (Summary, error) {
	start := time.Now()
	p.startDurableFlusher()
	defer p.stopDurableFlusher()

	entryCh := make(chan fileEntry, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(entryCh)
		errCh <- discover(ctx, root, p.cfg, func(fe fileEntry) {
			select {
			case entryCh <- fe:
			case <-ctx.Done():
			}
		})
	}()

	var total, successful, failed int32
	buckets := map[Category][]fileEntry{}
	quickStarted := 0
	quickDeadline := start.Add(p.cfg.QuickStartWindow)
	quickSem := semaphore.NewWeighted(int64(maxInt(p.cfg.LightWorkers, 1)))
	var quickWG sync.WaitGroup

	for fe := range entryCh {
		atomic.AddInt32(&total, 1)

		if quickStarted < p.cfg.QuickStartCount && time.Now().Before(quickDeadline) && !p.cancelled.Load() {
			quickStarted++
			quickWG.Add(1)
			if err := quickSem.Acquire(ctx, 1); err != nil {
				quickWG.Done()
			} else {
				go func(fe fileEntry) {
					defer quickWG.Done()
					defer quickSem.Release(1)
					ok := p.processFile(ctx, fe, p.timeoutFor(fe), onProgress)
					bumpCounter(ok, &successful, &failed)
				}(fe)
				continue
			}
		}

		buckets[fe.Category] = append(buckets[fe.Category], fe)
	}
	quickWG.Wait()

	discoverErr := <-errCh

	for _, cat := range []Category{CategoryLight, CategoryMedium, CategoryHeavy} {
		if p.cancelled.Load() {
			break
		}
		p.processCategory(ctx, buckets[cat], p.workersFor(cat), onProgress, &successful, &failed)
	}

	summary := Summary{
		Total:      int(total),
		Successful: int(successful),
		Errors:     int(failed),
		Duration:   time.Since(start),
		Cancelled:  p.cancelled.Load(),
	}
	return summary, discoverErr
}

// IndexOne indexes a single path synchronously. It runs the same
// extraction, cache-insert and promotion-scheduling sequence as one Run
// worker, without a category pool around it.
func (p *Pipeline) IndexOne(ctx context.Context, path string) (bool, error) {
	info, err := statFile(path)
	if err != nil {
		return false, err
	}
	fe := classifyEntry(path, info)
	timeout := p.timeoutFor(fe)
	ok := p.processFile(ctx, fe, timeout, nil)
	return ok, nil
}

func (p *Pipeline) processCategory(ctx context.Context, entries []fileEntry, workers int, onProgress ProgressFunc, successful, failed *int32) {
	if len(entries) == 0 {
		return
	}
	sem := semaphore.NewWeighted(int64(maxInt(workers, 1)))
	var wg sync.WaitGroup
	for _, fe := range entries {
		if p.cancelled.Load() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(fe fileEntry) {
			defer wg.Done()
			defer sem.Release(1)
			ok := p.processFile(ctx, fe, p.timeoutFor(fe), onProgress)
			bumpCounter(ok, successful, failed)
		}(fe)
	}
	wg.Wait()
}

// processFile runs one file through extraction, the synchronous
// immediate-tier insert, and the deferred promotion scheduling.
// Extraction failures are logged and counted but never abort the caller.
func (p *Pipeline) processFile(ctx context.Context, fe fileEntry, timeout time.Duration, onProgress ProgressFunc) bool {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := extract.Extract(fctx, fe.Path, fe.Info)
	ok := err == nil
	if err != nil {
		log.Get().Warn("extraction failed", zap.String("path", fe.Path), zap.Error(err))
	}

	name := filepath.Base(fe.Path)
	typ := strings.ToLower(filepath.Ext(fe.Path))
	now := time.Now()

	p.deps.Immediate.Insert(fe.Path, name, res.Text, typ, fe.Info.Size(), now)

	doc := shard.Document{
		Path:         fe.Path,
		Name:         name,
		Content:      res.Text,
		Type:         typ,
		Size:         fe.Info.Size(),
		ModifiedTime: fe.Info.ModTime(),
		IndexedTime:  now,
		Hash:         contentHash(res.Text),
	}
	p.schedulePromotions(doc)

	if onProgress != nil {
		onProgress(fe.Path, fe.Category.String(), ok)
	}
	return ok
}

func (p *Pipeline) timeoutFor(fe fileEntry) time.Duration {
	if fe.NameOnly {
		return p.cfg.NameOnlyTimeout
	}
	switch fe.Category {
	case CategoryLight:
		return p.cfg.LightTimeout
	case CategoryMedium:
		return p.cfg.MediumTimeout
	default:
		return p.cfg.HeavyTimeout
	}
}

func (p *Pipeline) workersFor(cat Category) int {
	switch cat {
	case CategoryLight:
		return p.cfg.LightWorkers
	case CategoryMedium:
		return p.cfg.MediumWorkers
	default:
		return p.cfg.HeavyWorkers
	}
}

func contentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func bumpCounter(ok bool, successful, failed *int32) {
	if ok {
		atomic.AddInt32(successful, 1)
	} else {
		atomic.AddInt32(failed, 1)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
