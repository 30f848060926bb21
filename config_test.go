package recall

import "testing"

func TestDefaultConfigIsWithinClampedRanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.normalize()

	if cfg.CaptureIntervalSecs < 30 || cfg.CaptureIntervalSecs > 300 {
		t.Errorf("CaptureIntervalSecs = %d, want within [30, 300]", cfg.CaptureIntervalSecs)
	}
	if cfg.CaptureRetentionDays < 1 || cfg.CaptureRetentionDays > 90 {
		t.Errorf("CaptureRetentionDays = %d, want within [1, 90]", cfg.CaptureRetentionDays)
	}
	if cfg.EmbeddingDim <= 0 {
		t.Errorf("EmbeddingDim = %d, want > 0", cfg.EmbeddingDim)
	}
}

func TestNormalizeClampsOutOfRangeCaptureSettings(t *testing.T) {
	tests := []struct {
		name         string
		intervalSecs int
		wantInterval int
		retainDays   int
		wantRetain   int
	}{
		{"too low", 1, 30, 0, 1},
		{"too high", 10_000, 300, 9_000, 90},
		{"in range", 120, 120, 14, 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{CaptureIntervalSecs: tt.intervalSecs, CaptureRetentionDays: tt.retainDays}
			cfg.normalize()
			if cfg.CaptureIntervalSecs != tt.wantInterval {
				t.Errorf("CaptureIntervalSecs = %d, want %d", cfg.CaptureIntervalSecs, tt.wantInterval)
			}
			if cfg.CaptureRetentionDays != tt.wantRetain {
				t.Errorf("CaptureRetentionDays = %d, want %d", cfg.CaptureRetentionDays, tt.wantRetain)
			}
		})
	}
}

func TestNormalizeFillsZeroValueChunkingDefaults(t *testing.T) {
	cfg := Config{}
	cfg.normalize()

	if cfg.ChunkSize <= 0 {
		t.Errorf("ChunkSize = %d, want a positive default", cfg.ChunkSize)
	}
	if cfg.MaxContextChunks <= 0 {
		t.Errorf("MaxContextChunks = %d, want a positive default", cfg.MaxContextChunks)
	}
	if cfg.EmbeddingDim <= 0 {
		t.Errorf("EmbeddingDim = %d, want a positive default", cfg.EmbeddingDim)
	}
}
