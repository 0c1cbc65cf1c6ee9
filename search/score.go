package search

import (
	"strings"

	"github.com/d1424da/gofilesearch/normalize"
	"github.com/d1424da/gofilesearch/shard"
)

// Tier bases: an immediate-tier hit starts ahead of a hot-tier hit, while
// a durable ("complete") row starts from the store's own relevance rank
// instead of a flat constant.
const (
	immediateBase = 1.0
	hotBase       = 0.8
)

// tfidfCap bounds the TF-IDF proxy. The store keeps no global term/IDF
// table, so the proxy below substitutes normalized in-document term
// frequency, capped so a single term-stuffed document cannot dominate
// ranking the way unbounded TF would.
const tfidfCap = 3.0

// fileTypeWeights weights the file-type scoring term by how much signal a
// format's extracted text usually carries: plain text and markdown most,
// OCR output least.
var fileTypeWeights = map[string]float64{
	".txt": 1.5, ".md": 1.5,
	".doc": 1.3, ".docx": 1.3, ".dot": 1.3, ".dotx": 1.3, ".dotm": 1.3, ".docm": 1.3,
	".pdf": 1.2,
	".xls": 1.1, ".xlsx": 1.1, ".xlt": 1.1, ".xltx": 1.1, ".xltm": 1.1, ".xlsm": 1.1, ".xlsb": 1.1,
	".tif": 0.9, ".tiff": 0.9,
}

// queryFormBonus: phrase clauses (and their cache-tier
// substring-match equivalent) rank highest, then LIKE, then prefix,
// then bareword.
func queryFormBonus(kind normalize.ClauseKind) float64 {
	switch kind {
	case normalize.ClausePhrase:
		return 2.0
	case normalize.ClauseLike:
		return 1.5
	case normalize.ClauseBareword:
		return 0.5
	case normalize.ClausePrefix:
		return 1.0
	default:
		return 0
	}
}

func patternPriorityBonus(patternIndex, patternCount int) float64 {
	return 0.1 * float64(patternCount-patternIndex)
}

func strictnessPenalty(original string, patternIndex int) float64 {
	if len([]rune(original)) >= 4 && patternIndex != 0 {
		return -1.0
	}
	return 0
}

func fileTypeScore(typ string) float64 {
	if w, ok := fileTypeWeights[strings.ToLower(typ)]; ok {
		return w
	}
	return 1.0
}

// positionScore rewards where the query lands: in the filename (strongest
// at its start), at the start of the content, and a small bounded bonus
// per additional occurrence.
func positionScore(name, text, needle string) float64 {
	if needle == "" {
		return 0
	}
	lowName := strings.ToLower(name)
	lowText := strings.ToLower(text)
	lowNeedle := strings.ToLower(needle)

	var score float64
	if strings.Contains(lowName, lowNeedle) {
		score += 3.0
		if strings.HasPrefix(lowName, lowNeedle) {
			score += 2.0
		}
	}
	if strings.HasPrefix(lowText, lowNeedle) {
		score += 1.5
	}
	if extra := strings.Count(lowText, lowNeedle) - 1; extra > 0 {
		bonus := 0.2 * float64(extra)
		if bonus > 1.0 {
			bonus = 1.0
		}
		score += bonus
	}
	return score
}

// tfidfProxyScore approximates term frequency by counting case-insensitive
// occurrences of needle in text, normalized by document length and capped.
func tfidfProxyScore(text, needle string) float64 {
	if needle == "" || text == "" {
		return 0
	}
	count := strings.Count(strings.ToLower(text), strings.ToLower(needle))
	if count == 0 {
		return 0
	}
	score := float64(count) * 1000.0 / float64(len(text)+1)
	if score > tfidfCap {
		score = tfidfCap
	}
	return score
}

// scoreCacheHit computes the composite score for a cache-tier hit starting
// from its tier's base (immediateBase or hotBase). A cache hit's only
// clause metadata is the matching pattern index
// (normalize.MatchingPatternIndex) since cache entries aren't queried via
// FTS clauses.
func scoreCacheHit(base float64, name, text string, ps normalize.PatternSet, patternIndex int, typ string, w Weights) float64 {
	score := base
	score += patternPriorityBonus(patternIndex, len(ps.Patterns))
	score += queryFormBonus(normalize.ClauseLike) // cache scan is a substring probe, scored like a LIKE clause
	if patternIndex == 0 {
		score += 2.0 // exact-match bonus, cache tier
	}
	score += strictnessPenalty(ps.Original, patternIndex)
	score += w.TFIDF*tfidfProxyScore(text, ps.Original) + w.Position*positionScore(name, text, ps.Original) + w.FileType*fileTypeScore(typ)
	return score
}

// scoreShardRow computes the composite score for a durable-store Row,
// which carries its matching clause's kind and pattern index directly.
// The base is the store's own relevance rank (row.Raw, bm25 already
// sign-flipped to higher-is-better); LIKE rows carry rank 0 and rely on
// the additive bonuses alone.
func scoreShardRow(row shard.Row, ps normalize.PatternSet, w Weights) float64 {
	score := row.Raw
	score += patternPriorityBonus(row.PatternIndex, len(ps.Patterns))
	score += queryFormBonus(row.ClauseKind)
	if row.PatternIndex == 0 && row.ClauseKind == normalize.ClausePhrase {
		score += 3.0 // exact-match bonus, FTS tier
	}
	score += strictnessPenalty(ps.Original, row.PatternIndex)
	score += w.TFIDF*tfidfProxyScore(row.Content, ps.Original) + w.Position*positionScore(row.Name, row.Content, ps.Original) + w.FileType*fileTypeScore(row.Type)
	return score
}
