package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
)

// legacyDocScanCap bounds the naive printable-ASCII byte scan fallback for
// `.doc`/`.dot` files.
const legacyDocScanCap = 1 * 1024 * 1024

// extractLegacyWord handles `.doc`/`.dot`: try a
// docx-compatible textifier first (some `.doc` files on disk are actually
// mislabeled OOXML), then fall back to OLE property-stream inspection via
// msoleps, then to a naive printable-ASCII scan of the first MiB. If every
// strategy yields nothing, it returns a name-only result.
func extractLegacyWord(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	if text, ok := tryDocxCompatible(path, info); ok {
		return Result{Text: text}, nil
	}

	if text, ok := tryOLEProperties(path); ok {
		return Result{Text: text}, nil
	}

	if text, ok := tryPrintableASCIIScan(path); ok {
		return Result{Text: text}, nil
	}

	return nameOnlyResult(path), nil
}

func tryDocxCompatible(path string, info os.FileInfo) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	text, err := readWordBody(f, info.Size())
	if err != nil || strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// tryOLEProperties reads the SummaryInformation/DocumentSummaryInformation
// property streams out of the OLE compound file, which msoleps exposes
// without needing a full WordDocument stream decoder. This recovers title,
// subject, author and comment metadata rather than body text, but it is a
// real, non-empty signal when the body decoder fails.
func tryOLEProperties(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return "", false
	}

	var b strings.Builder
	props := msoleps.New()
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if !msoleps.IsMSOLEPS(entry.Initial) {
			continue
		}
		if perr := props.Reset(entry); perr != nil {
			continue
		}
		for _, prop := range props.Property {
			s := strings.TrimSpace(fmt.Sprint(prop))
			if s == "" {
				continue
			}
			b.WriteString(s)
			b.WriteString(" ")
		}
	}
	out := strings.TrimSpace(b.String())
	return out, out != ""
}

func tryPrintableASCIIScan(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, legacyDocScanCap)
	n, _ := f.Read(buf)
	buf = buf[:n]

	var b bytes.Buffer
	var run bytes.Buffer
	flush := func() {
		if run.Len() >= 4 { // discard short noise runs
			b.Write(run.Bytes())
			b.WriteByte(' ')
		}
		run.Reset()
	}
	for _, c := range buf {
		if c >= 0x20 && c < 0x7f {
			run.WriteByte(c)
		} else {
			flush()
		}
	}
	flush()

	out := strings.TrimSpace(b.String())
	return out, out != ""
}

// extractLegacyExcel handles `.xls`/`.xlt`. No BIFF (OLE2
// spreadsheet binary format) reader is available, so this always takes
// the name-only path.
func extractLegacyExcel(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	return nameOnlyResult(path), nil
}
