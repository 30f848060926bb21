package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

var durationPattern = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+\.?\d*)`)

// ffmpeg wraps the external ffmpeg binary for media probing and
// transcoding. All operations run via os/exec.CommandContext so a
// cancelled ingestion context kills the subprocess.
type ffmpeg struct {
	bin string
}

func newFFmpeg() *ffmpeg {
	bin := "ffmpeg"
	if resolved, err := exec.LookPath("ffmpeg"); err == nil {
		bin = resolved
	}
	return &ffmpeg{bin: bin}
}

// duration returns a video or audio file's length in seconds, parsed
// from ffmpeg's stderr banner.
func (f *ffmpeg) duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.bin, "-i", path, "-hide_banner", "-f", "null", "-")
	out, _ := cmd.CombinedOutput() // ffmpeg with no output file exits non-zero; stderr still has the banner

	m := durationPattern.FindStringSubmatch(string(out))
	if m == nil {
		return 0, fmt.Errorf("ffmpeg: could not parse duration from output")
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	return hours*3600 + minutes*60 + seconds, nil
}

// frame is one sampled keyframe with its timestamp, in seconds, within
// the source media.
type frame struct {
	Timestamp float64
	Data      []byte
}

// keyframes samples path at the given rate (frames per second; pass a
// value below 1 to sample less than once per second) and returns the
// decoded JPEG bytes of each frame in order.
func (f *ffmpeg) keyframes(ctx context.Context, path string, fps float64) ([]frame, error) {
	tmpDir, err := os.MkdirTemp("", "recall-frames-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pattern := filepath.Join(tmpDir, "frame_%05d.jpg")
	cmd := exec.CommandContext(ctx, f.bin, "-i", path, "-vf", fmt.Sprintf("fps=%g", fps), "-q:v", "2", pattern)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg: extracting keyframes: %w: %s", err, out)
	}

	var frames []frame
	interval := 1.0 / fps
	for i := 1; ; i++ {
		framePath := filepath.Join(tmpDir, fmt.Sprintf("frame_%05d.jpg", i))
		data, err := os.ReadFile(framePath)
		if err != nil {
			break
		}
		frames = append(frames, frame{Timestamp: float64(i-1) * interval, Data: data})
	}
	return frames, nil
}

// extractAudio demuxes path's audio track to a standalone mono 16kHz
// WAV file in the OS temp dir; the caller is responsible for removing
// the returned path.
func (f *ffmpeg) extractAudio(ctx context.Context, path string) (string, error) {
	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("recall-audio-%s.wav", uuid.NewString()))
	cmd := exec.CommandContext(ctx, f.bin, "-i", path, "-vn", "-ac", "1", "-ar", "16000", "-y", outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg: extracting audio: %w: %s", err, out)
	}
	return outPath, nil
}

// convertToMonoWAV downmixes an existing audio file to mono 16kHz WAV,
// the format every transcription call expects.
func (f *ffmpeg) convertToMonoWAV(ctx context.Context, path string) (string, error) {
	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("recall-mono-%s.wav", uuid.NewString()))
	cmd := exec.CommandContext(ctx, f.bin, "-i", path, "-ac", "1", "-ar", "16000", "-y", outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg: converting audio: %w: %s", err, out)
	}
	return outPath, nil
}
