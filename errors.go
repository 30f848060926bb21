package recall

import "github.com/bbiangul/recall/rerr"

// Kind is the closed set of failure categories every component's
// errors carry. Aliased at the root so callers never need to import
// the leaf rerr package directly.
type Kind = rerr.Kind

// Error is the single error type used across the engine.
type Error = rerr.Error

// The closed set of error kinds, spec.md §7.
const (
	KindStorage           = rerr.Storage
	KindIo                = rerr.Io
	KindSerialization     = rerr.Serialization
	KindNetwork           = rerr.Network
	KindPdfExtraction     = rerr.PdfExtraction
	KindModelAPI          = rerr.ModelApi
	KindRateLimit         = rerr.RateLimit
	KindInvalidCredential = rerr.InvalidCredential
	KindEmbedding         = rerr.Embedding
	KindIngestion         = rerr.Ingestion
	KindMediaTooling      = rerr.MediaTooling
	KindOCR               = rerr.Ocr
	KindVectorSearch      = rerr.VectorSearch
	KindExtensionLoad     = rerr.ExtensionLoad
	KindConfig            = rerr.Config
	KindCapture           = rerr.Capture
	KindNotFound          = rerr.NotFound
	KindTrialLimit        = rerr.TrialLimit
)

// Sentinel errors for the handful of comparison points that need
// identity rather than kind matching.
var (
	ErrNotFound   = rerr.ErrNotFound
	ErrTrialLimit = rerr.ErrTrialLimit
)

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool { return rerr.Is(err, kind) }
