// Package encoder wraps ffmpeg invocations that capture the display for
// a fixed duration into a single output file. Completion is delivered
// asynchronously; Stop requests a graceful finish with a kill fallback.
package encoder

import (
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/rewinddvr/rewind/internal/errors"
)

// Config controls how capture processes are launched.
type Config struct {
	// FFmpegPath overrides the binary found on PATH.
	FFmpegPath string
	// Display is the platform capture input (":0.0" for x11grab,
	// "1:none" for avfoundation; ignored by gdigrab).
	Display string
	// Framerate of the capture.
	Framerate int
}

// Launcher starts segment capture processes.
type Launcher struct {
	cfg    Config
	binary string
}

// NewLauncher resolves the encoder binary up front so a missing install
// surfaces at startup, not on the first segment.
func NewLauncher(cfg Config) (*Launcher, error) {
	binary := cfg.FFmpegPath
	if binary == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeEncoderStart, "ffmpeg not found on PATH")
		}
		binary = path
	}
	return &Launcher{cfg: cfg, binary: binary}, nil
}

// StartSegment launches a capture of the display for the given duration
// into outPath. The returned process reports completion on Done.
func (l *Launcher) StartSegment(outPath string, duration time.Duration) (*Process, error) {
	args := captureArgs(l.cfg, duration, outPath)
	cmd := exec.Command(l.binary, args...)
	return launch(cmd, outPath)
}

// Process is one in-flight encoder invocation.
type Process struct {
	cmd      *exec.Cmd
	path     string
	stderr   *bytes.Buffer
	done     chan error
	exited   chan struct{}
	stopOnce sync.Once
}

// pipeDrainDelay bounds how long Wait may block on the stderr pipe
// after the encoder process itself has exited. Without it, any child
// the encoder forked inherits the pipe's write end and pins Wait open
// until the child exits, long after a kill.
const pipeDrainDelay = 3 * time.Second

func launch(cmd *exec.Cmd, outPath string) (*Process, error) {
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeDrainDelay

	if err := cmd.Start(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEncoderStart, "encoder failed to launch").
			WithMetadata("output", outPath)
	}

	p := &Process{
		cmd:    cmd,
		path:   outPath,
		stderr: stderr,
		done:   make(chan error, 1),
		exited: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	close(p.exited)
	if err != nil {
		p.done <- apperrors.Wrap(err, apperrors.CodeSegmentFailed, "encoder exited non-zero").
			WithMetadata("output", p.path).
			WithMetadata("stderr", tail(p.stderr.String(), 512))
		return
	}
	p.done <- nil
}

// Done delivers exactly one completion result: nil for a clean exit,
// a SegmentFailure error otherwise.
func (p *Process) Done() <-chan error { return p.done }

// Stop requests a graceful stop (SIGINT lets ffmpeg flush and finalize
// the container), escalating to a hard kill after the grace period.
func (p *Process) Stop(grace time.Duration) {
	p.stopOnce.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			// Signal delivery is unsupported on some platforms; kill.
			_ = p.cmd.Process.Kill()
			return
		}
		go func() {
			select {
			case <-p.exited:
			case <-time.After(grace):
				slog.Warn("encoder ignored graceful stop, killing", "output", p.path)
				_ = p.cmd.Process.Kill()
			}
		}()
	})
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
