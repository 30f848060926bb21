package extract

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/bbiangul/recall/modelclient"
)

var transcriptTimestamp = regexp.MustCompile(`\[(\d+):(\d+)\]`)

// audioExtractor transcribes an audio file and, if the transcript
// carries [MM:SS] markers, splits it into timed segments.
type audioExtractor struct {
	client modelclient.Client
	ff     *ffmpeg
}

func newAudioExtractor(client modelclient.Client) *audioExtractor {
	return &audioExtractor{client: client, ff: newFFmpeg()}
}

func (e *audioExtractor) Extract(ctx context.Context, path string, progress ProgressFunc) (Content, error) {
	if err := ValidateFileSize(path); err != nil {
		return Content{}, err
	}
	if e.client == nil {
		return Content{Kind: KindPlain, Text: "[Audio file, no transcription available]"}, nil
	}

	report(progress, "converting audio")
	monoPath, err := e.ff.convertToMonoWAV(ctx, path)
	if err != nil {
		return Content{}, fmt.Errorf("converting audio: %w", err)
	}
	defer os.Remove(monoPath)

	report(progress, "transcribing audio")
	transcript, err := e.transcribe(ctx, monoPath)
	if err != nil {
		return Content{}, err
	}

	segments := parseTranscriptTimestamps(transcript)
	if len(segments) == 0 {
		return Content{Kind: KindPlain, Text: transcript}, nil
	}
	return Content{Kind: KindTimed, Segments: segments}, nil
}

func (e *audioExtractor) transcribe(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading converted audio: %w", err)
	}
	text, err := e.client.TranscribeAudio(ctx, data, "audio/wav")
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	return text, nil
}

// parseTranscriptTimestamps splits a "[MM:SS] ..." transcript into
// timed segments, one per marker, each ending where the next begins.
// Text before the first marker becomes a segment starting at zero; a
// transcript with no markers at all yields no segments.
func parseTranscriptTimestamps(transcript string) []Segment {
	if !transcriptTimestamp.MatchString(transcript) {
		return nil
	}
	// Start every marker on its own line so markers sharing a line
	// still produce separate segments.
	transcript = transcriptTimestamp.ReplaceAllString(transcript, "\n$0")
	var segments []Segment
	currentTime := 0.0
	var cur strings.Builder

	flush := func(nextTime float64) {
		text := strings.TrimSpace(cur.String())
		if text != "" {
			segments = append(segments, Segment{StartTime: currentTime, EndTime: nextTime, Text: text})
		}
		currentTime = nextTime
		cur.Reset()
	}

	for _, line := range strings.Split(transcript, "\n") {
		if m := transcriptTimestamp.FindStringSubmatchIndex(line); m != nil {
			minutes, _ := strconv.ParseFloat(line[m[2]:m[3]], 64)
			seconds, _ := strconv.ParseFloat(line[m[4]:m[5]], 64)
			nextTime := minutes*60 + seconds
			flush(nextTime)
			cur.WriteString(transcriptTimestamp.ReplaceAllString(line, ""))
			cur.WriteByte(' ')
		} else {
			cur.WriteString(line)
			cur.WriteByte(' ')
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		segments = append(segments, Segment{StartTime: currentTime, EndTime: currentTime + 60, Text: strings.TrimSpace(cur.String())})
	}
	return segments
}
