package extract

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

const (
	sniffLen = 4 * 1024

	mmapThreshold = 50 * 1024 * 1024
	mediumFile    = 50 * 1024 * 1024
	largeFile     = 100 * 1024 * 1024

	capDefault = 20 * 1024 * 1024
	capMedium  = 10 * 1024 * 1024
	capLarge   = 5 * 1024 * 1024
)

// encodingCache memoizes the detected encoding by extension, bounded
// like the normalizer's pattern cache.
type encodingCache struct {
	mu    sync.Mutex
	byExt map[string]string
	order []string
	cap   int
}

var textEncodingCache = &encodingCache{byExt: make(map[string]string), cap: 64}

func (c *encodingCache) get(ext string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.byExt[ext]
	return v, ok
}

func (c *encodingCache) set(ext, enc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byExt[ext]; !exists {
		if len(c.order) >= c.cap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.byExt, oldest)
		}
		c.order = append(c.order, ext)
	}
	c.byExt[ext] = enc
}

// extractText handles `.txt` and other text-like files.
func extractText(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	size := info.Size()
	readCap := capDefault
	switch {
	case size >= largeFile:
		readCap = capLarge
	case size >= mediumFile:
		readCap = capMedium
	}

	var raw []byte
	var err error
	if size >= mmapThreshold {
		raw, err = readViaMmap(path, readCap)
	} else {
		raw, err = readCapped(path, readCap)
	}
	if err != nil {
		return Result{}, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	text := decodeBestEffort(raw, ext)
	return Result{Text: text}, nil
}

func readCapped(path string, cap int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, cap)
	n, err := f.Read(buf)
	if err != nil && n == 0 && !isEOF(err) {
		return nil, err
	}
	return buf[:n], nil
}

func isEOF(err error) bool {
	return err != nil && err.Error() == "EOF"
}

// readViaMmap memory-maps path and returns up to cap bytes, avoiding a full
// read into the process's heap for very large files.
func readViaMmap(path string, cap int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		// mmap can legitimately fail (zero-length file, unsupported fs);
		// fall back to a capped ordinary read rather than failing the
		// whole extraction.
		return readCapped(path, cap)
	}
	defer m.Unmap()

	n := len(m)
	if n > cap {
		n = cap
	}
	out := make([]byte, n)
	copy(out, m[:n])
	return out, nil
}

// decodeBestEffort applies the encoding-detection order: UTF-8 preferred,
// then detected, then CP932/Shift_JIS.
func decodeBestEffort(raw []byte, ext string) string {
	sniff := raw
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}

	if cached, ok := textEncodingCache.get(ext); ok {
		switch cached {
		case "utf-8":
			if utf8.Valid(raw) {
				return string(raw)
			}
		case "shift_jis":
			if s, ok := decodeShiftJIS(raw); ok {
				return s
			}
		}
	}

	if utf8.Valid(sniff) {
		textEncodingCache.set(ext, "utf-8")
		return string(raw)
	}

	if s, ok := decodeShiftJIS(raw); ok {
		textEncodingCache.set(ext, "shift_jis")
		return s
	}

	// Last resort: treat as UTF-8 with replacement characters rather than
	// dropping the file's content entirely.
	textEncodingCache.set(ext, "utf-8")
	return strings.ToValidUTF8(string(raw), "�")
}

func decodeShiftJIS(raw []byte) (string, bool) {
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(decoded) {
		return "", false
	}
	// Heuristic acceptance: too many replacement runes means this probably
	// wasn't Shift_JIS after all.
	if bytes.Count(decoded, []byte("�")) > len(decoded)/20+1 {
		return "", false
	}
	return string(decoded), true
}
