package extract

import (
	"context"
	"fmt"
	"os"
)

// maxFileSize is the ingestion size ceiling: files larger than this are
// rejected before any read, so a single huge file can't exhaust memory
// or stall the ingestion engine.
const maxFileSize = 500 * 1024 * 1024 // 500 MiB

// ProgressFunc reports human-readable progress during a long-running
// extraction (OCR, transcription, video analysis). May be nil.
type ProgressFunc func(message string)

func report(cb ProgressFunc, message string) {
	if cb != nil {
		cb(message)
	}
}

// Extractor produces normalized Content from a file on disk.
type Extractor interface {
	Extract(ctx context.Context, path string, progress ProgressFunc) (Content, error)
}

// ValidateFileSize rejects files over maxFileSize before any extractor
// reads them into memory.
func ValidateFileSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("statting file: %w", err)
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("file too large (%.1f MB); maximum is %.0f MB", float64(info.Size())/(1024*1024), float64(maxFileSize)/(1024*1024))
	}
	return nil
}
