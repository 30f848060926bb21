package capture

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var captureFileNamePattern = regexp.MustCompile(`^capture_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})\.png$`)

// ClampRetentionDays clamps a configured retention window to [1, 90] days.
func ClampRetentionDays(days int) int { return clamp(days, 1, 90) }

// Sweep deletes capture files in dir older than maxAge relative to
// now, judged by the timestamp encoded in each file's own name rather
// than filesystem metadata: birth time isn't available portably
// through the standard library, and every capture file already
// carries its capture instant in its name. Document rows for swept
// files are left in place; only the image on disk is removed.
func Sweep(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := captureFileNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		capturedAt, err := time.ParseInLocation(captureFileLayout, match[1], time.Local)
		if err != nil {
			continue
		}
		if now.Sub(capturedAt) <= maxAge {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("capture retention: failed to remove expired capture", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
