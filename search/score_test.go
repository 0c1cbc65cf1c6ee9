package search

import (
	"math"
	"testing"

	"github.com/d1424da/gofilesearch/normalize"
	"github.com/d1424da/gofilesearch/shard"
)

func TestPositionScore(t *testing.T) {
	cases := []struct {
		name, text, needle string
		want               float64
	}{
		{"report.txt", "body", "report", 5.0},               // filename contains + at start
		{"notes.txt", "report body", "report", 1.5},         // content start only
		{"notes.txt", "a report and a report more", "report", 0.2}, // one extra occurrence
		{"notes.txt", "nothing here", "report", 0},
	}
	for _, c := range cases {
		if got := positionScore(c.name, c.text, c.needle); got != c.want {
			t.Errorf("positionScore(%q, %q, %q) = %v, want %v", c.name, c.text, c.needle, got, c.want)
		}
	}
}

func TestStrictnessPenaltyOnlyForLongQueries(t *testing.T) {
	if got := strictnessPenalty("abcd", 2); got != -1.0 {
		t.Errorf("long query via secondary pattern: got %v, want -1.0", got)
	}
	if got := strictnessPenalty("abcd", 0); got != 0 {
		t.Errorf("long query via primary pattern: got %v, want 0", got)
	}
	if got := strictnessPenalty("ab", 2); got != 0 {
		t.Errorf("short query: got %v, want 0", got)
	}
}

func TestFileTypeWeights(t *testing.T) {
	if fileTypeScore(".txt") <= fileTypeScore(".tiff") {
		t.Errorf("plain text should outweigh OCR output")
	}
	if fileTypeScore(".unknown") != 1.0 {
		t.Errorf("unlisted types should score neutral")
	}
}

func TestExactMatchOutranksPartial(t *testing.T) {
	n := normalize.New()
	ps := n.Patterns("report")
	w := DefaultWeights()

	exact := scoreCacheHit(immediateBase, "report.txt", "report", ps, 0, ".txt", w)
	partial := scoreCacheHit(immediateBase, "notes.txt", "mentions a report in passing somewhere deep", ps, 0, ".txt", w)
	if exact <= partial {
		t.Errorf("exact basename hit (%v) should outrank partial content hit (%v)", exact, partial)
	}
}

func TestTierBaseOrdersIdenticalHits(t *testing.T) {
	n := normalize.New()
	ps := n.Patterns("report")
	w := DefaultWeights()

	imm := scoreCacheHit(immediateBase, "report.txt", "report body", ps, 0, ".txt", w)
	hot := scoreCacheHit(hotBase, "report.txt", "report body", ps, 0, ".txt", w)
	if math.Abs((imm-hot)-(immediateBase-hotBase)) > 1e-9 {
		t.Errorf("identical hits should differ by exactly the tier base: imm=%v hot=%v", imm, hot)
	}
}

func TestShardRowRankIsTheBase(t *testing.T) {
	n := normalize.New()
	ps := n.Patterns("report")
	w := DefaultWeights()

	row := shard.Row{ClauseKind: normalize.ClausePhrase}
	row.Name = "notes.txt"
	row.Content = "report body"
	row.Type = ".txt"

	low := row
	low.Raw = 1.0
	high := row
	high.Raw = 12.0

	lowScore := scoreShardRow(low, ps, w)
	highScore := scoreShardRow(high, ps, w)
	if math.Abs((highScore-lowScore)-(high.Raw-low.Raw)) > 1e-9 {
		t.Errorf("store rank should carry through as the base: low=%v high=%v", lowScore, highScore)
	}
}
