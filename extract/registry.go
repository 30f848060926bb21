package extract

import (
	"fmt"

	"github.com/bbiangul/recall/modelclient"
	"github.com/bbiangul/recall/store"
)

// Registry dispatches by document file type to the Extractor that
// handles it.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry builds the registry for every file type spec'd. client
// may be nil, in which case extractors that require a model (image,
// audio, video, and PDF OCR escalation) degrade to placeholder output
// instead of failing ingestion outright.
func NewRegistry(client modelclient.Client, keyframeInterval, videoSegmentDuration float64) *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.extractors[store.FileTypeText] = textExtractor{}
	r.extractors[store.FileTypeMarkdown] = textExtractor{}
	r.extractors[store.FileTypePDF] = newPDFExtractor(client)
	r.extractors[store.FileTypeImage] = newImageExtractor(client)
	r.extractors[store.FileTypeScreenshot] = newImageExtractor(client)
	r.extractors[store.FileTypeAudio] = newAudioExtractor(client)
	r.extractors[store.FileTypeVideo] = newVideoExtractor(client, keyframeInterval, videoSegmentDuration)
	return r
}

// Get returns the Extractor registered for fileType.
func (r *Registry) Get(fileType string) (Extractor, error) {
	e, ok := r.extractors[fileType]
	if !ok {
		return nil, fmt.Errorf("no extractor for file type: %s", fileType)
	}
	return e, nil
}

// DetectFileType maps a file extension (including the leading dot, as
// returned by filepath.Ext) to a document file type.
func DetectFileType(ext string) string {
	switch ext {
	case ".pdf":
		return store.FileTypePDF
	case ".txt":
		return store.FileTypeText
	case ".md", ".markdown":
		return store.FileTypeMarkdown
	case ".mp4", ".mov", ".mkv", ".avi", ".webm":
		return store.FileTypeVideo
	case ".mp3", ".wav", ".m4a", ".flac", ".ogg":
		return store.FileTypeAudio
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return store.FileTypeImage
	default:
		return store.FileTypeUnknown
	}
}
