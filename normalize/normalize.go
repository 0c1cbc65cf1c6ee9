// Package normalize implements query text normalization: pattern
// expansion for a raw query, width/case/kana-folded substring matching,
// and FTS clause generation for the shard store.
//
// It leans on golang.org/x/text for the width/NFKC primitives; the
// hiragana/katakana fold, which x/text does not provide a ready-made
// transform for, is a small rune shift applied alongside those transforms.
package normalize

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// defaultPatternCacheCap bounds the memoized pattern cache.
const defaultPatternCacheCap = 1000

// PatternSet is the deterministic ordered set of strings derived from a raw
// query. Original is always Patterns[0]; the
// remainder is sorted by non-increasing length.
type PatternSet struct {
	Original string
	Patterns []string
}

// ClauseKind distinguishes the three FTS clause shapes plus the short-query
// LIKE fallback.
type ClauseKind int

const (
	ClausePhrase ClauseKind = iota
	ClauseBareword
	ClausePrefix
	ClauseLike
)

func (k ClauseKind) String() string {
	switch k {
	case ClausePhrase:
		return "phrase"
	case ClauseBareword:
		return "bareword"
	case ClausePrefix:
		return "prefix"
	case ClauseLike:
		return "like"
	default:
		return "unknown"
	}
}

// FTSClause is one full-text-index query expression, in descending
// precedence order among clauses sharing a pattern.
type FTSClause struct {
	Pattern      string
	PatternIndex int // index into the originating PatternSet.Patterns
	Kind         ClauseKind
	Expr         string // ready to pass as the FTS5 MATCH argument, or the LIKE operand
}

// Normalizer memoizes pattern expansion by raw query.
type Normalizer struct {
	mu    sync.Mutex
	cache map[string]PatternSet
	order []string // LRU eviction order, oldest first
	cap   int
}

// New returns a Normalizer with the default 1000-entry pattern cache.
func New() *Normalizer {
	return &Normalizer{
		cache: make(map[string]PatternSet, defaultPatternCacheCap),
		cap:   defaultPatternCacheCap,
	}
}

// Patterns computes (or returns the cached) PatternSet for query.
func (n *Normalizer) Patterns(query string) PatternSet {
	n.mu.Lock()
	if ps, ok := n.cache[query]; ok {
		n.touch(query)
		n.mu.Unlock()
		return ps
	}
	n.mu.Unlock()

	ps := computePatterns(query)

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.cache[query]; !ok {
		if len(n.order) >= n.cap {
			oldest := n.order[0]
			n.order = n.order[1:]
			delete(n.cache, oldest)
		}
		n.order = append(n.order, query)
	}
	n.cache[query] = ps
	return ps
}

func (n *Normalizer) touch(query string) {
	for i, q := range n.order {
		if q == query {
			n.order = append(n.order[:i], n.order[i+1:]...)
			n.order = append(n.order, query)
			return
		}
	}
}

// computePatterns builds the ordered pattern set for a raw query.
func computePatterns(query string) PatternSet {
	seen := make(map[string]bool)
	var rest []string

	add := func(s string) {
		if s == "" || s == query || seen[s] {
			return
		}
		seen[s] = true
		rest = append(rest, s)
	}
	seen[query] = true

	add(norm.NFKC.String(query))
	add(width.Widen.String(query))
	add(strings.ToLower(query))
	add(foldKana(query, toKatakana))
	add(foldKana(query, toHiragana))

	for _, tok := range strings.Fields(query) {
		add(tok)
	}

	runes := []rune(query)
	if len(runes) >= 2 {
		for _, r := range runes {
			add(string(r))
		}
		for i := 0; i+1 < len(runes); i++ {
			add(string(runes[i : i+2]))
		}
	}

	sort.SliceStable(rest, func(i, j int) bool {
		return utf8.RuneCountInString(rest[i]) > utf8.RuneCountInString(rest[j])
	})

	return PatternSet{Original: query, Patterns: append([]string{query}, rest...)}
}

// Matches reports whether text contains any pattern from ps, respecting the
// tiered strictness rule: longer original queries require longer
// matching patterns, to avoid a four-character query degenerating into a
// single-character substring probe.
func Matches(text string, ps PatternSet) bool {
	_, ok := MatchingPatternIndex(text, ps)
	return ok
}

// MatchingPatternIndex returns the index into ps.Patterns of the first
// (highest-priority) pattern that matches text under the strictness
// rule, or (0, false) if none do. The query planner uses this to compute
// the pattern-priority scoring bonus for cache-tier hits,
// which carry no clause metadata the way shard FTS rows do.
func MatchingPatternIndex(text string, ps PatternSet) (int, bool) {
	minLen := strictnessFloor(utf8.RuneCountInString(ps.Original))
	folded := foldForCompare(text)

	for i, p := range ps.Patterns {
		if utf8.RuneCountInString(p) < minLen {
			continue
		}
		if strings.Contains(folded, foldForCompare(p)) {
			return i, true
		}
	}
	return 0, false
}

func strictnessFloor(originalLen int) int {
	switch {
	case originalLen >= 4:
		return 3
	case originalLen >= 2:
		return 2
	default:
		return 1
	}
}

// foldForCompare applies the symmetric width/case/kana folding used to
// compare a pattern against a text value.
func foldForCompare(s string) string {
	s = width.Fold.String(s)
	s = strings.ToLower(s)
	s = foldKana(s, toHiragana)
	return s
}

// TokenizeFTS produces the FTS clauses for a pattern set, in priority order,
// up to three clauses (phrase, bareword, prefix) for patterns of
// length >= 3, and a single LIKE probe for shorter patterns.
func TokenizeFTS(ps PatternSet) []FTSClause {
	var clauses []FTSClause
	for i, p := range ps.Patterns {
		if utf8.RuneCountInString(p) >= 3 {
			escaped := escapeFTSTerm(p)
			clauses = append(clauses,
				FTSClause{Pattern: p, PatternIndex: i, Kind: ClausePhrase, Expr: `"` + escaped + `"`},
				FTSClause{Pattern: p, PatternIndex: i, Kind: ClauseBareword, Expr: escaped},
				FTSClause{Pattern: p, PatternIndex: i, Kind: ClausePrefix, Expr: escaped + `*`},
			)
		} else {
			clauses = append(clauses, FTSClause{Pattern: p, PatternIndex: i, Kind: ClauseLike, Expr: "%" + escapeLike(p) + "%"})
		}
	}
	return clauses
}

func escapeFTSTerm(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}
