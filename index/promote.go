package index

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d1424da/gofilesearch/cache"
	"github.com/d1424da/gofilesearch/log"
	"github.com/d1424da/gofilesearch/shard"
)

// schedulePromotions sets up the tier-promotion schedule: an
// immediate->hot move after ~1s and an immediate/hot->durable move after
// ~5s. The full document (including extracted content) is captured in
// these closures, so the durable promotion proceeds correctly even if the
// immediate-tier entry has since been evicted by capacity pressure; the
// content is already held here and the original file is never re-read.
func (p *Pipeline) schedulePromotions(doc shard.Document) {
	time.AfterFunc(p.cfg.ImmediateToHotDelay, func() {
		if p.cancelled.Load() {
			return
		}
		p.promoteImmediateToHot(doc)
	})
	time.AfterFunc(p.cfg.ToDurableDelay, func() {
		if p.cancelled.Load() {
			return
		}
		p.promoteToDurable(doc)
	})
}

// promoteImmediateToHot moves doc's entry from the immediate tier into the
// hot tier, deleting before inserting so a concurrent reader never
// observes it in both tiers. The hot entry is built from the captured
// document rather than the immediate entry's truncated preview; the
// deletion result only records whether the move really came out of the
// immediate tier or the entry had already been evicted.
func (p *Pipeline) promoteImmediateToHot(doc shard.Document) {
	_, ok := p.deps.Immediate.Delete(doc.Path)

	p.deps.Hot.Insert(cache.HotEntry{
		Path:               doc.Path,
		Name:               doc.Name,
		Content:            doc.Content,
		Type:               doc.Type,
		Size:               doc.Size,
		IndexedTime:        doc.IndexedTime,
		Layer:              "hot",
		MovedFromImmediate: ok,
		PromotedAt:         time.Now(),
	})
}

// promoteToDurable routes doc to its shard and enqueues
// it in that shard's pending bulk-upsert buffer.
func (p *Pipeline) promoteToDurable(doc shard.Document) {
	idx := p.deps.Router.Index(doc.Path)
	p.enqueueDurable(idx, doc)
}

func (p *Pipeline) enqueueDurable(idx int, doc shard.Document) {
	p.durableMu.Lock()
	p.durablePending[idx] = append(p.durablePending[idx], doc)
	var batch []shard.Document
	// Outside a Run there is no periodic flusher, so every promotion
	// flushes straight through; within a Run, sub-threshold batches wait
	// for the ticker or the final drain.
	if len(p.durablePending[idx]) >= p.cfg.BulkThreshold || !p.flusherActive.Load() {
		batch = p.durablePending[idx]
		p.durablePending[idx] = nil
	}
	p.durableMu.Unlock()

	if len(batch) > 0 {
		p.flushShard(idx, batch)
	}
}

func (p *Pipeline) flushShard(idx int, batch []shard.Document) {
	if len(batch) == 0 || idx < 0 || idx >= len(p.deps.Shards) {
		return
	}
	store := p.deps.Shards[idx]
	if err := store.BulkUpsert(context.Background(), batch); err != nil {
		log.Get().Warn("bulk durable promotion failed", zap.Int("shard", idx), zap.Int("count", len(batch)), zap.Error(err))
	}
}

// startDurableFlusher launches the background ticker that bounds how long
// a partial per-shard batch (below BulkThreshold) can sit unflushed, so a
// lone straggling document is not held indefinitely.
func (p *Pipeline) startDurableFlusher() {
	p.flusherActive.Store(true)
	p.flushStop = make(chan struct{})
	p.flushWG.Add(1)
	go func() {
		defer p.flushWG.Done()
		ticker := time.NewTicker(p.cfg.BulkFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.flushAllDurable()
			case <-p.flushStop:
				return
			}
		}
	}()
}

// stopDurableFlusher stops the periodic flusher and performs one final
// synchronous drain of whatever remains buffered, so Run never silently
// drops a tail batch smaller than BulkThreshold.
func (p *Pipeline) stopDurableFlusher() {
	close(p.flushStop)
	p.flushWG.Wait()
	p.flusherActive.Store(false)
	p.flushAllDurable()
}

func (p *Pipeline) flushAllDurable() {
	p.durableMu.Lock()
	batches := p.durablePending
	p.durablePending = make(map[int][]shard.Document)
	p.durableMu.Unlock()

	for idx, batch := range batches {
		p.flushShard(idx, batch)
	}
}
