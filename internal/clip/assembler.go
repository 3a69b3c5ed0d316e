// Package clip assembles an exact-length output clip from the trailing
// segments of the rolling buffer. Assembly is concat + stream-copy trim,
// never a re-encode, so it stays fast enough to run while capture
// continues.
package clip

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rewinddvr/rewind/internal/buffer"
	apperrors "github.com/rewinddvr/rewind/internal/errors"
)

// Snapshotter is the read-only view the assembler needs of the buffer.
type Snapshotter interface {
	Snapshot() []buffer.Segment
}

// Request describes one clip extraction.
type Request struct {
	// Duration of history to cover, counted back from the newest
	// buffered segment.
	Duration time.Duration
	// Name for the output file; empty derives one from App + timestamp.
	Name string
	// App is the focused application, used for derived names.
	App string
}

// Assembler produces clips from buffered segments. It never mutates the
// buffer; source segments stay available for later requests and for
// normal eviction.
type Assembler struct {
	buf    Snapshotter
	outDir string
	ffmpeg string
	clock  func() time.Time
}

// NewAssembler creates an assembler writing into outDir.
func NewAssembler(buf Snapshotter, outDir, ffmpegPath string) *Assembler {
	return &Assembler{buf: buf, outDir: outDir, ffmpeg: ffmpegPath, clock: time.Now}
}

// Assemble selects the minimal trailing subset of segments covering the
// requested duration, concatenates them chronologically, and trims the
// head so the output covers the most recent Duration. A buffer holding
// less history than requested yields a shorter clip, not an error; only
// an empty buffer fails.
func (a *Assembler) Assemble(ctx context.Context, req Request) (string, error) {
	segs := a.buf.Snapshot()
	if len(segs) == 0 {
		return "", apperrors.New(apperrors.CodeInsufficientBuffer, "no recorded segments in buffer")
	}

	selected, total := selectTrailing(segs, req.Duration)
	offset := total - req.Duration
	if offset < 0 {
		offset = 0
	}

	if err := os.MkdirAll(a.outDir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeAssemblyFailed, "create clip directory")
	}
	outPath := filepath.Join(a.outDir, a.outputName(req))

	listPath, err := writeConcatList(selected)
	if err != nil {
		return "", err
	}
	defer os.Remove(listPath)

	args := []string{"-hide_banner", "-loglevel", "error"}
	if offset > 0 {
		args = append(args, "-ss", formatSeconds(offset))
	}
	args = append(args,
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y", outPath,
	)

	stderr := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	cmd.Stderr = stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeAssemblyFailed, "concat/trim failed").
			WithMetadata("stderr", tail(stderr.String(), 512))
	}
	slog.Info("clip assembled", "path", outPath, "segments", len(selected),
		"trim_offset", offset, "took", time.Since(start))
	return outPath, nil
}

// selectTrailing walks the snapshot newest to oldest, accumulating
// nominal durations until the requested duration is covered or the
// oldest segment is reached. The result is in chronological order.
func selectTrailing(segs []buffer.Segment, want time.Duration) ([]buffer.Segment, time.Duration) {
	var total time.Duration
	i := len(segs)
	for i > 0 && total < want {
		i--
		total += segs[i].Duration
	}
	return segs[i:], total
}

func (a *Assembler) outputName(req Request) string {
	if req.Name != "" {
		name := sanitizeName(req.Name)
		if !strings.HasSuffix(name, ".mp4") {
			name += ".mp4"
		}
		return name
	}
	app := req.App
	if app == "" {
		app = "display"
	}
	return fmt.Sprintf("%s-%s.mp4", sanitizeName(app), a.clock().Format("20060102-150405"))
}

// sanitizeName keeps file names portable across filesystems.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "clip"
	}
	return b.String()
}

// writeConcatList emits the ffmpeg concat-demuxer file list.
func writeConcatList(segs []buffer.Segment) (string, error) {
	f, err := os.CreateTemp("", "rewind-concat-*.txt")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeAssemblyFailed, "create concat list")
	}
	defer f.Close()

	for _, seg := range segs {
		// Single quotes inside paths need the '\'' dance.
		escaped := strings.ReplaceAll(seg.Path, "'", `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			os.Remove(f.Name())
			return "", apperrors.Wrap(err, apperrors.CodeAssemblyFailed, "write concat list")
		}
	}
	return f.Name(), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
