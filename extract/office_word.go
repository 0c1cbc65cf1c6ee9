package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/fumiama/go-docx"
	"go.uber.org/zap"

	"github.com/d1424da/gofilesearch/log"
)

// wordParagraphCap caps the paragraphs streamed from a `.docx`
// family file larger than 50 MiB.
const wordParagraphCap = 1000

// extractWord handles the `.docx`/`.docm`/`.dotx`/`.dotm` family:
// open as a ZIP, require word/document.xml, stream body
// paragraphs in order via go-docx, then append headers, footers,
// footnotes and comments recovered directly from their XML parts (go-docx
// itself only models the main document body).
func extractWord(ctx context.Context, path string, info os.FileInfo) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	body, err := readWordBody(f, info.Size())
	if err != nil {
		log.Get().Warn("docx body extraction failed", zap.String("path", path), zap.Error(err))
		body = ""
	}

	extras, err := readWordAuxiliaryParts(path)
	if err != nil {
		log.Get().Debug("docx auxiliary parts unreadable", zap.String("path", path), zap.Error(err))
	}

	var b strings.Builder
	b.WriteString(body)
	for _, e := range extras {
		if e == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(e)
	}
	return Result{Text: b.String()}, nil
}

// readWordBody uses go-docx to walk word/document.xml's paragraphs in
// order, capping at wordParagraphCap paragraphs for files over 50 MiB.
func readWordBody(f *os.File, size int64) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errRecovered(r)
		}
	}()

	doc, err := docx.Parse(f, size)
	if err != nil {
		return "", err
	}

	cap := -1
	if size > 50*1024*1024 {
		cap = wordParagraphCap
	}

	var b strings.Builder
	count := 0
	for _, item := range doc.Document.Body.Items {
		if p, ok := item.(*docx.Paragraph); ok {
			b.WriteString(p.String())
			b.WriteString("\n")
			count++
			if cap > 0 && count >= cap {
				break
			}
		}
	}
	return b.String(), nil
}

// readWordAuxiliaryParts recovers headers, footers, footnotes and comments
// directly from their XML parts, which go-docx does not model.
func readWordAuxiliaryParts(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var parts []string
	for _, f := range zr.File {
		name := f.Name
		switch {
		case strings.HasPrefix(name, "word/header") && strings.HasSuffix(name, ".xml"),
			strings.HasPrefix(name, "word/footer") && strings.HasSuffix(name, ".xml"),
			name == "word/footnotes.xml",
			name == "word/comments.xml":
			if text, err := extractRunText(f); err == nil {
				parts = append(parts, text)
			}
		}
	}
	return parts, nil
}

func extractRunText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 10*1024*1024))
	if err != nil {
		return "", err
	}

	// Footnotes/comments XML roots differ (<w:footnotes>, <w:comments>)
	// from the body's <w:document>; a generic `<t>` run scan handles all
	// of them without a root-element-specific struct per part type.
	return scanWordRuns(data), nil
}

func scanWordRuns(data []byte) string {
	type tEl struct {
		XMLName xml.Name
		Text    string `xml:",chardata"`
	}

	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "t" {
			var el tEl
			if err := dec.DecodeElement(&el, &se); err == nil {
				b.WriteString(el.Text)
				b.WriteString(" ")
			}
		}
	}
	return b.String()
}

func errRecovered(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &recoveredPanic{r}
}

type recoveredPanic struct{ v interface{} }

func (p *recoveredPanic) Error() string {
	return "recovered panic during extraction"
}
