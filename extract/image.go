package extract

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bbiangul/recall/modelclient"
)

// imageExtractor describes an image's visible content and any legible
// text through a vision model call.
type imageExtractor struct {
	client modelclient.Client
}

func newImageExtractor(client modelclient.Client) *imageExtractor {
	return &imageExtractor{client: client}
}

func (e *imageExtractor) Extract(ctx context.Context, path string, progress ProgressFunc) (Content, error) {
	if err := ValidateFileSize(path); err != nil {
		return Content{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Content{}, fmt.Errorf("reading image file: %w", err)
	}
	if e.client == nil {
		return Content{Kind: KindPlain, Text: "[Image with no detectable content]"}, nil
	}

	report(progress, "describing image")
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	description, err := e.client.DescribeImage(ctx, data, mimeType)
	if err != nil {
		return Content{}, fmt.Errorf("describing image: %w", err)
	}

	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return Content{Kind: KindPlain, Text: "[Image with no detectable content]"}, nil
	}
	return Content{Kind: KindPlain, Text: trimmed}, nil
}
