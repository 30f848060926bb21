package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/bbiangul/recall/modelclient"
)

// defaultKeyframeInterval is the fallback sampling rate (frames per
// second) when no interval is configured; one frame every 5 seconds.
const defaultKeyframeInterval = 0.2

// defaultVideoSegmentDuration is the fallback analysis window length,
// in seconds, when none is configured.
const defaultVideoSegmentDuration = 300.0

// videoExtractor samples keyframes across fixed-length windows,
// analyzes each window with a vision model into topic-tagged segments,
// and appends a whole-video audio transcript as a final segment.
type videoExtractor struct {
	client           modelclient.Client
	ff               *ffmpeg
	keyframeInterval float64
	segmentDuration  float64
}

func newVideoExtractor(client modelclient.Client, keyframeInterval, segmentDuration float64) *videoExtractor {
	if keyframeInterval <= 0 {
		keyframeInterval = defaultKeyframeInterval
	}
	if segmentDuration <= 0 {
		segmentDuration = defaultVideoSegmentDuration
	}
	return &videoExtractor{client: client, ff: newFFmpeg(), keyframeInterval: keyframeInterval, segmentDuration: segmentDuration}
}

func (e *videoExtractor) Extract(ctx context.Context, path string, progress ProgressFunc) (Content, error) {
	if err := ValidateFileSize(path); err != nil {
		return Content{}, err
	}
	if e.client == nil {
		return Content{Kind: KindPlain, Text: "[Video file, no analysis available]"}, nil
	}

	report(progress, "probing video")
	duration, err := e.ff.duration(ctx, path)
	if err != nil {
		return Content{}, fmt.Errorf("probing video duration: %w", err)
	}

	report(progress, "sampling keyframes")
	frames, err := e.ff.keyframes(ctx, path, e.keyframeInterval)
	if err != nil {
		return Content{}, fmt.Errorf("extracting keyframes: %w", err)
	}
	if len(frames) == 0 {
		return Content{}, fmt.Errorf("no frames extracted from video")
	}

	var segments []Segment
	for windowStart := 0.0; windowStart < duration; windowStart += e.segmentDuration {
		windowEnd := windowStart + e.segmentDuration
		if windowEnd > duration {
			windowEnd = duration
		}

		var windowFrames [][]byte
		for _, fr := range frames {
			if fr.Timestamp >= windowStart && fr.Timestamp < windowEnd {
				windowFrames = append(windowFrames, fr.Data)
			}
		}
		if len(windowFrames) == 0 {
			continue
		}

		report(progress, fmt.Sprintf("analyzing video %.0fs-%.0fs", windowStart, windowEnd))
		analyzed, err := e.client.AnalyzeVideoFrames(ctx, windowFrames, windowStart, windowEnd)
		if err != nil {
			return Content{}, fmt.Errorf("analyzing video window [%.0f,%.0f]: %w", windowStart, windowEnd, err)
		}
		for _, s := range analyzed {
			segments = append(segments, Segment{StartTime: s.StartTime, EndTime: s.EndTime, Text: s.Text, Topics: s.Topics})
		}
	}

	if transcript, ok := e.transcribeAudioTrack(ctx, path, progress); ok {
		segments = append(segments, Segment{StartTime: 0, EndTime: duration, Text: transcript, Topics: []string{"transcript"}})
	}

	if len(segments) == 0 {
		return Content{}, fmt.Errorf("no content extracted from video")
	}
	return Content{Kind: KindTimed, Segments: segments}, nil
}

// transcribeAudioTrack demuxes and transcribes a video's audio track.
// Failure here is non-fatal to the overall extraction — a video with
// keyframe analysis but no usable audio still gets indexed.
func (e *videoExtractor) transcribeAudioTrack(ctx context.Context, path string, progress ProgressFunc) (string, bool) {
	audioPath, err := e.ff.extractAudio(ctx, path)
	if err != nil {
		return "", false
	}
	defer os.Remove(audioPath)

	report(progress, "transcribing audio track")
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", false
	}
	transcript, err := e.client.TranscribeAudio(ctx, data, "audio/wav")
	if err != nil || transcript == "" {
		return "", false
	}
	return transcript, true
}
