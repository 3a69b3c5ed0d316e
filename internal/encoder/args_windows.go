//go:build windows

package encoder

import (
	"strconv"
	"time"
)

// captureArgs builds the gdigrab invocation for one segment.
func captureArgs(cfg Config, duration time.Duration, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "gdigrab",
		"-framerate", strconv.Itoa(cfg.Framerate),
		"-i", "desktop",
		"-t", formatSeconds(duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-y", outPath,
	}
}
