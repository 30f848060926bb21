package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/bbiangul/recall/modelclient"
)

// ocrRasterDPI is the resolution pdftoppm renders pages at before
// handing them to the vision model for OCR — high enough to keep small
// text legible without producing unreasonably large images.
const ocrRasterDPI = 200

// pdfExtractor extracts structured text from PDFs, escalating to
// vision-model OCR over rasterized pages when native extraction finds
// nothing (scanned documents, image-only PDFs).
type pdfExtractor struct {
	client modelclient.Client // nil disables the OCR escalation path
}

func newPDFExtractor(client modelclient.Client) *pdfExtractor {
	return &pdfExtractor{client: client}
}

func (e *pdfExtractor) Extract(ctx context.Context, path string, progress ProgressFunc) (Content, error) {
	if err := ValidateFileSize(path); err != nil {
		return Content{}, err
	}

	report(progress, "reading PDF")
	pages, err := extractNativeText(path)
	if err != nil {
		slog.Warn("pdf: native extraction failed, will try OCR", "path", path, "error", err)
		pages = nil
	}

	if hasText(pages) {
		return Content{Kind: KindPlain, Pages: pages}, nil
	}

	if e.client == nil {
		return Content{Kind: KindPlain, Text: "[PDF contains no extractable text]"}, nil
	}

	report(progress, "no extractable text, running OCR")
	ocrPages, err := e.ocr(ctx, path)
	if err != nil {
		slog.Warn("pdf: OCR failed", "path", path, "error", err)
		return Content{Kind: KindPlain, Text: "[PDF contains no extractable text]"}, nil
	}
	if !hasText(ocrPages) {
		return Content{Kind: KindPlain, Text: "[PDF contains no extractable text]"}, nil
	}
	return Content{Kind: KindPlain, Pages: ocrPages}, nil
}

func (e *pdfExtractor) ocr(ctx context.Context, path string) ([]Page, error) {
	images, err := rasterizePDFPages(ctx, path, ocrRasterDPI)
	if err != nil {
		return nil, fmt.Errorf("rasterizing PDF for OCR: %w", err)
	}
	text, err := e.client.OCRPageImages(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("OCR: %w", err)
	}

	parts := strings.Split(text, "\f")
	pages := make([]Page, 0, len(parts))
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: p})
	}
	return pages, nil
}

func hasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// extractNativeText reads a PDF's pages with ledongthuc/pdf, returning
// one Page per non-empty page of text.
func extractNativeText(path string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := pageTextOrdered(page)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

// pageTextOrdered reassembles a PDF page's text in visual reading
// order: content-stream text runs are grouped into lines by Y
// proximity (never sorted by X within a line, since some PDFs use
// negative text matrices that would garble the run order), then the
// lines are ordered top-to-bottom.
func pageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0
	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine
	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var parts []string
	for _, l := range lines {
		if text := strings.TrimSpace(l.buf.String()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}
