package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// rasterizePDFPages renders every page of a PDF to a PNG image via the
// pdftoppm command-line tool (poppler-utils), at the given DPI. Used
// to hand page images to a vision model when native text extraction
// comes back empty.
func rasterizePDFPages(ctx context.Context, pdfPath string, dpi int) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "recall-raster-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", fmt.Sprintf("%d", dpi), pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, out)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("reading rasterized pages: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names) // pdftoppm zero-pads page numbers, so lexical order is page order

	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			return nil, fmt.Errorf("reading rasterized page %s: %w", name, err)
		}
		pages = append(pages, data)
	}
	return pages, nil
}
