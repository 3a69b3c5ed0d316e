package library

import (
	"bytes"
	"context"
	"image/png"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/corona10/goimagehash"

	apperrors "github.com/rewinddvr/rewind/internal/errors"
)

// PosterHash extracts the first frame of the clip at path and returns
// its 64-bit perceptual hash. Used to flag near-duplicate captures of
// the same moment. Any failure returns 0; hashing is best effort and
// never blocks saving a clip.
func PosterHash(ctx context.Context, ffmpegPath, path string) uint64 {
	frame, err := posterFrame(ctx, ffmpegPath, path)
	if err != nil {
		slog.Debug("poster frame extraction failed", "path", path, "error", err)
		return 0
	}
	img, err := png.Decode(bytes.NewReader(frame))
	if err != nil {
		slog.Debug("poster frame decode failed", "path", path, "error", err)
		return 0
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0
	}
	return h.GetHash()
}

// posterFrame grabs a single downscaled frame as PNG on stdout.
func posterFrame(ctx context.Context, ffmpegPath, path string) ([]byte, error) {
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-frames:v", "1",
		"-vf", "scale=320:-1",
		"-f", "image2", "-c:v", "png",
		"-",
	)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLibrary, "extract poster frame").
			WithMetadata("stderr", strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}
