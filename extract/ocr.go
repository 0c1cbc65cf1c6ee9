// OCR subpipeline: `.tif`/`.tiff` extraction via Tesseract,
// gated by an adaptive preprocessing pass and a cache keyed by (path,
// mtime) that remembers both hits and empty misses so a bad scan is never
// retried.
package extract

import (
	"context"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/sync/singleflight"

	"github.com/d1424da/gofilesearch/log"
)

const (
	ocrMinFileSize = 1 * 1024
	ocrMaxFileSize = 30 * 1024 * 1024

	ocrBudgetSmall  = 1_500_000 // source < 2 MiB
	ocrBudgetMedium = 1_000_000 // source < 5 MiB
	ocrBudgetLarge  = 600_000   // source >= 5 MiB
	ocrMinPixels    = 10_000

	ocrSmallForThreshold      = 2 * 1024 * 1024
	ocrJapaneseSizeCap        = 5 * 1024 * 1024
	ocrMinCharsForEnglishSkip = 3

	ocrQualityMinChars    = 2
	ocrQualityMinDistinct = 3
	ocrMaxChars           = 5000

	ocrCacheCap = 1000
)

type ocrCacheKey struct {
	path  string
	mtime int64
}

type ocrCacheEntry struct {
	text string
	ok   bool
}

// ocrCache is a bounded LRU caching both hits and
// misses so a file that fails OCR once is never retried.
type ocrCache struct {
	mu    sync.Mutex
	byKey map[ocrCacheKey]ocrCacheEntry
	order []ocrCacheKey
	cap   int
}

var globalOCRCache = &ocrCache{byKey: make(map[ocrCacheKey]ocrCacheEntry), cap: ocrCacheCap}

// ocrGroup collapses concurrent OCR requests for the same (path, mtime)
// into one Tesseract invocation.
var ocrGroup singleflight.Group

func (c *ocrCache) get(k ocrCacheKey) (ocrCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byKey[k]
	if ok {
		for i, o := range c.order {
			if o == k {
				c.order = append(c.order[:i], c.order[i+1:]...)
				c.order = append(c.order, k)
				break
			}
		}
	}
	return e, ok
}

func (c *ocrCache) set(k ocrCacheKey, e ocrCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byKey[k]; !exists {
		if len(c.order) >= c.cap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.byKey, oldest)
		}
		c.order = append(c.order, k)
	}
	c.byKey[k] = e
}

// extractTIFF handles `.tif`/`.tiff` by delegating to the OCR subpipeline.
func extractTIFF(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	text := ocrExtract(ctx, path, info)
	return Result{Text: text}, nil
}

// ocrExtract runs the cached, deduplicated OCR pipeline for path.
func ocrExtract(ctx context.Context, path string, info os.FileInfo) string {
	key := ocrCacheKey{path: path, mtime: info.ModTime().UnixNano()}
	if e, ok := globalOCRCache.get(key); ok {
		return e.text
	}

	v, _, _ := ocrGroup.Do(path, func() (interface{}, error) {
		if e, ok := globalOCRCache.get(key); ok {
			return e.text, nil
		}
		text := runOCRPipeline(ctx, path, info)
		globalOCRCache.set(key, ocrCacheEntry{text: text, ok: text != ""})
		return text, nil
	})
	s, _ := v.(string)
	return s
}

// runOCRPipeline is the full subpipeline: size gating,
// decode + adaptive resize, light preprocessing, phased Tesseract
// invocation, and the quality filter.
func runOCRPipeline(ctx context.Context, path string, info os.FileInfo) string {
	size := info.Size()
	if size < ocrMinFileSize || size > ocrMaxFileSize {
		return ""
	}

	img, err := decodeTIFF(path)
	if err != nil {
		log.Get().Debug("ocr decode failed", zap.String("path", path), zap.Error(err))
		return ""
	}

	img, ok := resizeToBudget(img, size)
	if !ok {
		return ""
	}

	if size < ocrSmallForThreshold {
		img = preprocessGrayscaleThreshold(img)
	}

	tmpPath, cleanup, err := writeTempPNG(img)
	if err != nil {
		return ""
	}
	defer cleanup()

	text := runOCRPhases(ctx, tmpPath, path, size)
	return applyQualityFilter(text)
}

func decodeTIFF(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tiff.Decode(f)
}

// resizeToBudget shrinks img so its total pixel count fits the adaptive
// budget keyed off the source file size, rejecting images that fall under
// the minimum useful pixel count after resize.
func resizeToBudget(img image.Image, sourceSize int64) (image.Image, bool) {
	budget := ocrBudgetLarge
	switch {
	case sourceSize < 2*1024*1024:
		budget = ocrBudgetSmall
	case sourceSize < 5*1024*1024:
		budget = ocrBudgetMedium
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	total := w * h
	if total == 0 {
		return nil, false
	}

	if total > budget {
		scale := sqrtRatio(float64(budget) / float64(total))
		newW := max1(int(float64(w) * scale))
		newH := max1(int(float64(h) * scale))
		dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
		w, h = newW, newH
	}

	if w*h < ocrMinPixels {
		return nil, false
	}
	return img, true
}

func sqrtRatio(x float64) float64 {
	// Newton's method avoids pulling in math for one call site.
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// preprocessGrayscaleThreshold converts img to grayscale and applies a
// simple global mean-intensity threshold, the "light conditional
// preprocessing" applied to files under 2 MiB.
func preprocessGrayscaleThreshold(img image.Image) image.Image {
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)

	var sum, n int
	for _, px := range gray.Pix {
		sum += int(px)
		n++
	}
	if n == 0 {
		return gray
	}
	mean := uint8(sum / n)

	out := image.NewGray(b)
	for i, px := range gray.Pix {
		if px < mean {
			out.Pix[i] = 0
		} else {
			out.Pix[i] = 255
		}
	}
	return out
}

// writeTempPNG encodes img to a temporary PNG file, since gosseract's
// Client operates on a file path rather than an in-memory buffer.
func writeTempPNG(img image.Image) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "gofilesearch-ocr-*.png")
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// runOCRPhases executes the phased Tesseract strategy,
// stopping as soon as a phase yields acceptable text.
func runOCRPhases(ctx context.Context, imagePath string, originalPath string, sourceSize int64) string {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImage(imagePath); err != nil {
		return ""
	}

	// Phase 1: fast ASCII-only whitelist, English model.
	client.SetLanguage("eng")
	client.SetWhitelist("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789 .,-_/:")
	if text, err := client.Text(); err == nil && utf8Len(text) >= ocrMinCharsForEnglishSkip {
		return text
	}

	// Phase 2: unrestricted English model.
	client.SetWhitelist("")
	text, err := client.Text()
	if err == nil && utf8Len(text) >= ocrMinCharsForEnglishSkip {
		return text
	}

	// Phase 3: Japanese model, only if phases 1-2 came up short and the
	// source is small, or the filename hints Japanese.
	if (utf8Len(text) < 3 && sourceSize < ocrJapaneseSizeCap) || filenameHintsJapanese(originalPath) {
		client.SetLanguage("jpn")
		if jText, jErr := client.Text(); jErr == nil && utf8Len(jText) > utf8Len(text) {
			text = jText
		}
	}

	if utf8Len(text) > 0 {
		return text
	}

	// Phase 4: fallback minimal PSM setting.
	client.SetLanguage("eng")
	client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT)
	if fallback, err := client.Text(); err == nil {
		return fallback
	}
	return text
}

func filenameHintsJapanese(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, hint := range []string{"jp", "jpn", "japan", "和文", "日本"} {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

// applyQualityFilter gates output quality: reject short or
// low-diversity output, collapse whitespace, and truncate at 5000 chars.
func applyQualityFilter(text string) string {
	if utf8Len(text) < ocrQualityMinChars {
		return ""
	}

	distinct := make(map[rune]bool)
	for _, r := range text {
		if !unicode.IsSpace(r) {
			distinct[r] = true
		}
	}
	if len(distinct) < ocrQualityMinDistinct {
		return ""
	}

	collapsed := collapseWhitespace(text)
	return truncateRunes(collapsed, ocrMaxChars)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func utf8Len(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
