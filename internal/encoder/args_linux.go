//go:build linux

package encoder

import (
	"strconv"
	"time"
)

// captureArgs builds the x11grab invocation for one segment.
func captureArgs(cfg Config, duration time.Duration, outPath string) []string {
	display := cfg.Display
	if display == "" {
		display = ":0.0"
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "x11grab",
		"-framerate", strconv.Itoa(cfg.Framerate),
		"-i", display,
		"-t", formatSeconds(duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-y", outPath,
	}
}
