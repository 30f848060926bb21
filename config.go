package recall

import (
	"os"
	"path/filepath"
)

// Config holds every setting the engine needs to start, mirroring the
// persisted settings blob of spec.md §6 field for field so the shell
// can decode the same JSON it later round-trips through UpdateSettings.
type Config struct {
	// Storage
	DBPath       string `json:"db_path"`
	EmbeddingDim int    `json:"embedding_dim"`
	CapturesDir  string `json:"captures_dir"`

	// Model client
	ModelAPIKey       string `json:"model_api_key"`
	ModelBaseURL      string `json:"model_base_url"`
	EmbeddingModel    string `json:"embedding_model"`
	IngestionModel    string `json:"ingestion_model"`
	ReasoningModel    string `json:"reasoning_model"`
	RequestsPerMinute int    `json:"requests_per_minute"`

	// Chunking
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`

	// Retrieval / RAG
	MaxContextChunks int `json:"max_context_chunks"`

	// Video extraction
	VideoSegmentDuration float64 `json:"video_segment_duration"`
	KeyframeInterval     float64 `json:"keyframe_interval"`

	// File watcher
	WatchedFolders    []string `json:"watched_folders"`
	AutoIngestEnabled bool     `json:"auto_ingest_enabled"`

	// Capture scheduler
	ScreenCaptureEnabled bool     `json:"screen_capture_enabled"`
	CaptureIntervalSecs  int      `json:"capture_interval_secs"`
	CaptureMode          string   `json:"capture_mode"`
	CaptureAppFilter     string   `json:"capture_app_filter"`
	CaptureAppList       []string `json:"capture_app_list"`
	CaptureRetentionDays int      `json:"capture_retention_days"`
	CaptureHotkey        string   `json:"capture_hotkey"`

	// Trial / licensing ceiling; 0 means unlimited document count.
	TrialLimit int `json:"trial_limit"`
}

// DefaultConfig returns a Config with spec.md §6's documented defaults.
// Database and captures paths fall back to the working directory if
// the user's home directory can't be resolved.
func DefaultConfig() Config {
	dbPath := "recall.db"
	capturesDir := "captures"
	if home, err := os.UserHomeDir(); err == nil {
		dbPath = filepath.Join(home, ".recall", "recall.db")
		capturesDir = filepath.Join(home, ".recall", "captures")
	}
	return Config{
		DBPath:               dbPath,
		EmbeddingDim:         768,
		CapturesDir:          capturesDir,
		ModelBaseURL:         "http://localhost:11434/v1",
		RequestsPerMinute:    60,
		ChunkSize:            512,
		ChunkOverlap:         50,
		MaxContextChunks:     20,
		VideoSegmentDuration: 300,
		KeyframeInterval:     0.2,
		CaptureIntervalSecs:  60,
		CaptureMode:          "active_window",
		CaptureAppFilter:     "none",
		CaptureRetentionDays: 7,
		CaptureHotkey:        "Ctrl+Shift+S",
	}
}

// clampInt restricts v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalize applies the settings table's documented clamps in place.
func (c *Config) normalize() {
	c.CaptureIntervalSecs = clampInt(c.CaptureIntervalSecs, 30, 300)
	c.CaptureRetentionDays = clampInt(c.CaptureRetentionDays, 1, 90)
	if c.ChunkSize <= 0 {
		c.ChunkSize = 512
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.MaxContextChunks <= 0 {
		c.MaxContextChunks = 20
	}
	if c.EmbeddingDim <= 0 {
		c.EmbeddingDim = 768
	}
}
