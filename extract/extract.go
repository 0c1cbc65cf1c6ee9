// Package extract turns heterogeneous files into plain text, dispatched
// by file extension, with shared size and normalization contracts applied
// uniformly.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MaxFileSize rejects anything at or above this size outright.
	MaxFileSize = 500 * 1024 * 1024
	// NameOnlyThreshold is the large-file fast path: files at or above
	// this size are indexed by base name only, bypassing the extractor.
	NameOnlyThreshold = 3 * 1024 * 1024
	// MaxExtractedChars is the shared truncation cap after normalization.
	MaxExtractedChars = 100_000
)

// Result is the outcome of extracting one file.
type Result struct {
	Text     string
	NameOnly bool
}

// Extractor turns a file into text. It must never panic and should return
// an empty Result rather than propagate a non-fatal format error.
type Extractor func(ctx context.Context, path string, info os.FileInfo) (Result, error)

// Registry dispatches by lower-cased extension, following the table in
// format. CAD/drawing formats and the default case (skip) fall out of
// this table naturally: an extension with no entry is skipped entirely.
var registry = map[string]Extractor{
	".txt": extractText,

	".docx": extractWord,
	".docm": extractWord,
	".dotx": extractWord,
	".dotm": extractWord,

	".xlsx": extractExcel,
	".xlsm": extractExcel,
	".xlsb": extractExcel,
	".xltx": extractExcel,
	".xltm": extractExcel,

	".doc": extractLegacyWord,
	".dot": extractLegacyWord,

	".xls": extractLegacyExcel,
	".xlt": extractLegacyExcel,

	".pdf": extractPDF,
	".zip": extractZip,

	".tif":  extractTIFF,
	".tiff": extractTIFF,

	".jwc": nameOnlyExtractor,
	".jww": nameOnlyExtractor,
	".dxf": nameOnlyExtractor,
	".sfc": nameOnlyExtractor,
	".dwg": nameOnlyExtractor,
	".dwt": nameOnlyExtractor,
	".mpp": nameOnlyExtractor,
	".mpz": nameOnlyExtractor,

	// .ppt/.pptx are in the accepted-extension set but have no dedicated
	// extractor; they index as name-only, same as an unsupported legacy
	// format, rather than being skipped outright.
	".ppt":  nameOnlyExtractor,
	".pptx": nameOnlyExtractor,
}

// Extract dispatches path to its format-specific extractor, applying the
// shared size rules and text normalization.
func Extract(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	if info.Size() >= MaxFileSize {
		return Result{}, nil
	}

	ext := strings.ToLower(filepath.Ext(path))

	if info.Size() >= NameOnlyThreshold {
		return nameOnlyResult(path), nil
	}

	fn, ok := registry[ext]
	if !ok {
		return Result{}, nil
	}

	res, err := fn(ctx, path, info)
	if err != nil || res.NameOnly {
		return res, err
	}
	res.Text = NormalizeText(res.Text)
	return res, nil
}

// SupportsExtension reports whether ext (with leading dot) is in the
// registry, for callers building the accepted-extensions default set.
func SupportsExtension(ext string) bool {
	_, ok := registry[strings.ToLower(ext)]
	return ok
}

func nameOnlyExtractor(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	return nameOnlyResult(path), nil
}

func nameOnlyResult(path string) Result {
	return Result{Text: filepath.Base(path), NameOnly: true}
}
