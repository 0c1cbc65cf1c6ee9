package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func statFor(t *testing.T, path string) os.FileInfo {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat(%s): %v", path, err)
	}
	return info
}

func TestExtractPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("検索テスト ABC"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := Extract(context.Background(), path, statFor(t, path))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "検索テスト ABC" || res.NameOnly {
		t.Fatalf("Extract = %+v", res)
	}
}

func TestExtractLargeFileIsNameOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), NameOnlyThreshold), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := Extract(context.Background(), path, statFor(t, path))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.NameOnly || res.Text != "big.txt" {
		t.Fatalf("files >= NameOnlyThreshold should index name-only, got %+v", res)
	}
}

func TestExtractUnknownExtensionSkips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.bin")
	if err := os.WriteFile(path, []byte("binary"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := Extract(context.Background(), path, statFor(t, path))
	if err != nil || res.Text != "" {
		t.Fatalf("unknown extension should skip, got %+v, %v", res, err)
	}
}

func TestExtractZipConcatenatesTextEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"readme.txt": "first entry",
		"data.csv":   "second,entry",
		"image.jpg":  "not text-like",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create: %v", err)
		}
		w.Write([]byte(content))
	}
	zw.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := Extract(context.Background(), path, statFor(t, path))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "[readme.txt]") || !strings.Contains(res.Text, "first entry") {
		t.Errorf("missing marked text entry: %q", res.Text)
	}
	if strings.Contains(res.Text, "image.jpg") {
		t.Errorf("non-text-like entry should be skipped: %q", res.Text)
	}
}

func TestNormalizeTextStripsControlAndCollapses(t *testing.T) {
	in := "a\x00b\x07c\tkeep\n\n\n\nnext   words"
	got := NormalizeText(in)
	if strings.ContainsAny(got, "\x00\x07") {
		t.Errorf("control characters not stripped: %q", got)
	}
	if !strings.Contains(got, "\tkeep") {
		t.Errorf("tab should survive: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("newline runs should collapse to two: %q", got)
	}
	if strings.Contains(got, "   ") {
		t.Errorf("space runs should collapse: %q", got)
	}
}

func TestNormalizeTextTruncatesOnRuneBoundary(t *testing.T) {
	in := strings.Repeat("あ", MaxExtractedChars+10)
	got := NormalizeText(in)
	runes := []rune(got)
	if len(runes) != MaxExtractedChars {
		t.Fatalf("truncated to %d runes, want %d", len(runes), MaxExtractedChars)
	}
	for _, r := range runes {
		if r != 'あ' {
			t.Fatalf("truncation split a rune: %q", r)
		}
	}
}

func TestLegacyWordASCIIScanFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.doc")
	// Not an OLE file and not a docx, so extraction must fall back to the
	// printable-ASCII scan.
	payload := append(bytes.Repeat([]byte{0x01}, 64), []byte("Recoverable legacy body text")...)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := Extract(context.Background(), path, statFor(t, path))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "Recoverable legacy body text") {
		t.Fatalf("ASCII scan fallback missing body, got %q", res.Text)
	}
}
