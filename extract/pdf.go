package extract

import (
	"bytes"
	"context"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/semaphore"
)

const (
	pdfMaxPages          = 200
	pdfParallelThreshold = 10
	pdfParallelWorkers   = 4
	pdfMaxChars          = 500_000
	pdfRawScanCap        = 1 * 1024 * 1024
)

// pdfLiteralRe approximates PDF content-stream text by grabbing `(...)`
// literal runs, used as the raw-bytes fallback.
var pdfLiteralRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)

// extractPDF handles `.pdf`: primary extraction
// via ledongthuc/pdf up to 200 pages (pages extracted in parallel, bounded
// to 4 workers, once the document has >= 10 pages), falling back to a
// regex scan over `(...)` literals in the first MiB of raw bytes if the
// library fails outright.
func extractPDF(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	text, err := extractPDFViaLibrary(ctx, path)
	if err != nil {
		return Result{Text: extractPDFRawFallback(path)}, nil
	}
	if len(text) > pdfMaxChars {
		text = truncateRunes(text, pdfMaxChars)
	}
	return Result{Text: text}, nil
}

func extractPDFViaLibrary(ctx context.Context, path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	total := r.NumPage()
	if total > pdfMaxPages {
		total = pdfMaxPages
	}

	pages := make([]string, total)
	readPage := func(i int) {
		p := r.Page(i + 1)
		if p.V.IsNull() {
			return
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return
		}
		pages[i] = text
	}

	if total >= pdfParallelThreshold {
		sem := semaphore.NewWeighted(pdfParallelWorkers)
		var wg sync.WaitGroup
		for i := 0; i < total; i++ {
			if sem.Acquire(ctx, 1) != nil {
				break
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer sem.Release(1)
				readPage(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < total; i++ {
			if ctx.Err() != nil {
				break
			}
			readPage(i)
		}
	}

	var b strings.Builder
	for _, p := range pages {
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// extractPDFRawFallback scans the first MiB of the raw PDF bytes for
// parenthesized content-stream string literals when the structured reader
// cannot open the document at all.
func extractPDFRawFallback(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, pdfRawScanCap)
	n, _ := f.Read(buf)
	buf = buf[:n]

	matches := pdfLiteralRe.FindAllSubmatch(buf, -1)
	var b bytes.Buffer
	for _, m := range matches {
		b.Write(unescapePDFLiteral(m[1]))
		b.WriteByte(' ')
	}
	return b.String()
}

func unescapePDFLiteral(b []byte) []byte {
	var out bytes.Buffer
	for i := 0; i < len(b); i++ {
		if b[i] == '\\' && i+1 < len(b) {
			i++
			switch b[i] {
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			default:
				out.WriteByte(b[i])
			}
			continue
		}
		out.WriteByte(b[i])
	}
	return out.Bytes()
}
