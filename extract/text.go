package extract

import (
	"context"
	"fmt"
	"os"
)

// textExtractor handles plain text and markdown files: a direct
// passthrough of the file's contents with no structure to preserve.
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, path string, _ ProgressFunc) (Content, error) {
	if err := ValidateFileSize(path); err != nil {
		return Content{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Content{}, fmt.Errorf("reading text file: %w", err)
	}
	return Content{Kind: KindPlain, Text: string(data)}, nil
}
