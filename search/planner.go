package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/d1424da/gofilesearch/cache"
	"github.com/d1424da/gofilesearch/log"
	"github.com/d1424da/gofilesearch/normalize"
	"github.com/d1424da/gofilesearch/shard"
)

// tierRank orders results within a tie-broken dedup pass: a durable
// ("complete") hit always outranks a cache-tier hit for the same path, and
// immediate outranks hot, matching the tier-exclusivity/freshness story in
// the durable row being the authoritative, fully-indexed copy.
const (
	tierComplete  = "complete"
	tierImmediate = "immediate"
	tierHot       = "hot"
)

func tierRank(tier string) int {
	switch {
	case strings.HasPrefix(tier, tierComplete):
		return 1000
	case tier == tierImmediate:
		return 100
	case tier == tierHot:
		return 10
	default:
		return 0
	}
}

// Result is one ranked hit returned by Search.
type Result struct {
	Path    string
	Name    string
	Preview string
	Type    string
	Tier    string
	Score   float64
}

// Planner fans a query out across both cache
// tiers and (conditionally) the sharded durable store, scores every hit
// with the composite formula, and dedups/ranks the merged result set.
type Planner struct {
	normalizer *normalize.Normalizer
	immediate  *cache.Immediate
	hot        *cache.Hot
	router     *shard.Router
	shards     []*shard.Store
	cfg        Config
}

// New builds a Planner wired to the engine's shared cache tiers and shard
// store. normalizer, immediate and hot must be non-nil; router/shards may
// be nil only if the caller never intends to query durable data (e.g. in a
// cache-only test harness).
func New(normalizer *normalize.Normalizer, immediate *cache.Immediate, hot *cache.Hot, router *shard.Router, shards []*shard.Store, cfg Config) *Planner {
	return &Planner{normalizer: normalizer, immediate: immediate, hot: hot, router: router, shards: shards, cfg: cfg}
}

// Search runs one query. It always consults both cache
// tiers first; it only pays for the shard fan-out when the combined
// cache-tier hit count falls short of maxResults/DuringIndexingCacheFloorDivisor
// (see Config.DuringIndexingCacheFloorDivisor), which covers both the
// steady-state "everything is already durable" case and the "indexing is
// still in progress, most of the corpus is cache-only" case with one rule.
func (p *Planner) Search(ctx context.Context, query string, maxResults int, typeFilter string) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = p.cfg.DefaultMaxResults
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	ps := p.normalizer.Patterns(query)
	half := maxResults / 2
	if half < 1 {
		half = 1
	}

	var results []Result
	results = append(results, p.scoreCacheTier(p.immediate.Search(ctx, ps, half), ps, tierImmediate)...)
	results = append(results, p.scoreCacheTier(p.hot.Search(ctx, ps, half), ps, tierHot)...)

	if len(results) < maxResults/p.floorDivisor() {
		shardResults, err := p.searchShards(ctx, ps, maxResults)
		if err != nil {
			return nil, err
		}
		results = append(results, shardResults...)
	}

	results = dedup(results)
	results = applyTypeFilter(results, typeFilter)
	sortResults(results)

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

func (p *Planner) floorDivisor() int {
	if p.cfg.DuringIndexingCacheFloorDivisor <= 0 {
		return 4
	}
	return p.cfg.DuringIndexingCacheFloorDivisor
}

func (p *Planner) scoreCacheTier(hits []cache.SearchHit, ps normalize.PatternSet, tier string) []Result {
	base := immediateBase
	if tier == tierHot {
		base = hotBase
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		patternIndex, _ := normalize.MatchingPatternIndex(h.Name+"\n"+h.Preview, ps)
		out = append(out, Result{
			Path:    h.Path,
			Name:    h.Name,
			Preview: h.Preview,
			Type:    h.Type,
			Tier:    tier,
			Score:   scoreCacheHit(base, h.Name, h.Preview, ps, patternIndex, h.Type, p.cfg.Weights),
		})
	}
	return out
}

// searchShards fans the FTS clauses out across every shard concurrently,
// one errgroup goroutine per shard, bounded by a per-call timeout.
func (p *Planner) searchShards(ctx context.Context, ps normalize.PatternSet, maxResults int) ([]Result, error) {
	if len(p.shards) == 0 {
		return nil, nil
	}
	clauses := normalize.TokenizeFTS(ps)

	sctx, cancel := context.WithTimeout(ctx, p.shardTimeout())
	defer cancel()

	g, gctx := errgroup.WithContext(sctx)
	rowsPerShard := make([][]shard.Row, len(p.shards))
	perShard := maxResults/len(p.shards) + 20
	for i, store := range p.shards {
		i, store := i, store
		g.Go(func() error {
			rows, err := store.Query(gctx, clauses, perShard)
			if err != nil {
				// One shard failing (or timing out) never aborts the
				// fan-out; the merged result is simply shorter.
				log.Get().Warn("shard query failed", zap.Int("shard", i), zap.Error(err))
				return nil
			}
			rowsPerShard[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Result
	for i, rows := range rowsPerShard {
		tier := fmt.Sprintf("%s:%d", tierComplete, i)
		for _, r := range rows {
			out = append(out, Result{
				Path:    r.Path,
				Name:    r.Name,
				Preview: previewOf(r.Content),
				Type:    r.Type,
				Tier:    tier,
				Score:   scoreShardRow(r, ps, p.cfg.Weights),
			})
		}
	}
	return out, nil
}

func (p *Planner) shardTimeout() time.Duration {
	if p.cfg.ShardQueryTimeout <= 0 {
		return 10 * time.Second
	}
	return p.cfg.ShardQueryTimeout
}

// previewOf trims a full document body down to a 200-rune snippet for
// display.
func previewOf(content string) string {
	const previewChars = 200
	runes := []rune(content)
	if len(runes) <= previewChars {
		return content
	}
	return string(runes[:previewChars])
}

// dedup keeps the single highest-priority hit per path: a durable
// ("complete") row always wins over a cache hit for the same path, and
// ties within a tier are broken by score.
func dedup(results []Result) []Result {
	best := make(map[string]Result, len(results))
	for _, r := range results {
		cur, ok := best[r.Path]
		if !ok {
			best[r.Path] = r
			continue
		}
		if tierRank(r.Tier) > tierRank(cur.Tier) || (tierRank(r.Tier) == tierRank(cur.Tier) && r.Score > cur.Score) {
			best[r.Path] = r
		}
	}
	out := make([]Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	return out
}

func applyTypeFilter(results []Result, typeFilter string) []Result {
	if typeFilter == "" || strings.EqualFold(typeFilter, "all") {
		return results
	}
	wanted := strings.ToLower(strings.TrimPrefix(typeFilter, "."))
	out := results[:0]
	for _, r := range results {
		if strings.ToLower(strings.TrimPrefix(r.Type, ".")) == wanted {
			out = append(out, r)
		}
	}
	return out
}

// sortResults orders by tier priority first, then score, then path; the
// final path tie-break keeps repeated searches over a fixed corpus
// deterministic even when scores collide.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := tierRank(results[i].Tier), tierRank(results[j].Tier)
		if ri != rj {
			return ri > rj
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Path < results[j].Path
	})
}
