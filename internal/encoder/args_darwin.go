//go:build darwin

package encoder

import (
	"strconv"
	"time"
)

// captureArgs builds the avfoundation invocation for one segment.
// Display names the avfoundation video device, e.g. "1:none" for the
// main screen with no audio.
func captureArgs(cfg Config, duration time.Duration, outPath string) []string {
	display := cfg.Display
	if display == "" {
		display = "1:none"
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "avfoundation",
		"-framerate", strconv.Itoa(cfg.Framerate),
		"-capture_cursor", "1",
		"-i", display,
		"-t", formatSeconds(duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-y", outPath,
	}
}
