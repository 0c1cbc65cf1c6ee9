package extract

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	zipMaxEntries   = 50
	zipMaxEntrySize = 1 * 1024 * 1024
)

// textLikeExtensions is the set of entry extensions treated as text-like
// inside a `.zip` archive.
var textLikeExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true, ".xml": true,
	".log": true, ".yaml": true, ".yml": true, ".ini": true, ".conf": true,
	".html": true, ".htm": true,
}

// extractZip handles `.zip`: list entries,
// process only text-like entries (max 50 entries, each <= 1 MiB),
// concatenating with `[name]\n...` markers.
func extractZip(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Result{}, err
	}
	defer zr.Close()

	var b strings.Builder
	processed := 0
	for _, f := range zr.File {
		if processed >= zipMaxEntries {
			break
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if !textLikeExtensions[strings.ToLower(filepath.Ext(f.Name))] {
			continue
		}
		if f.UncompressedSize64 > zipMaxEntrySize {
			continue
		}

		text, err := readZipEntry(f)
		if err != nil {
			continue
		}
		processed++

		b.WriteString("[")
		b.WriteString(f.Name)
		b.WriteString("]\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return Result{Text: b.String()}, nil
}

func readZipEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, zipMaxEntrySize))
	if err != nil {
		return "", err
	}
	return decodeBestEffort(data, strings.ToLower(filepath.Ext(f.Name))), nil
}
