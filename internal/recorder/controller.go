// Package recorder owns the segment lifecycle: it decides when continuous
// capture runs, chains fixed-length segments with no gap, and registers
// completed segments into the rolling buffer.
//
// All state transitions are serialized through a single event-loop
// goroutine fed by a channel. Poll ticks, segment completions, and
// front-end commands all enter through that channel, so a completion can
// never race a disable and the controller never double-starts a segment.
package recorder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rewinddvr/rewind/internal/buffer"
	"github.com/rewinddvr/rewind/internal/config"
	"github.com/rewinddvr/rewind/internal/syncx"
)

// State of the controller.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// SegmentProcess is one in-flight encoder invocation.
type SegmentProcess interface {
	// Done delivers exactly one completion result (nil = success).
	Done() <-chan error
	// Stop requests termination with a bounded grace period.
	Stop(grace time.Duration)
}

// Encoder launches fixed-duration segment captures.
type Encoder interface {
	StartSegment(outPath string, duration time.Duration) (SegmentProcess, error)
}

// Listener observes controller transitions. Callbacks run synchronously
// on the controller loop; keep them fast.
type Listener interface {
	OnStateChange(prev, next State)
	OnRecordingHalted(err error)
}

// Status is the published controller snapshot.
type Status struct {
	State              State
	Enabled            bool
	Mode               string
	TrackedApplication string
	FocusedApplication string
	Halted             bool
}

// Options configure a controller.
type Options struct {
	Encoder         Encoder
	Buffer          *buffer.Buffer
	TempDir         string
	SegmentDuration time.Duration
	// StopGrace bounds how long a shutdown waits for the encoder to
	// finalize before a hard kill.
	StopGrace time.Duration
	Tracking  config.TrackingConfig
	// Persist is called after every tracking-config change. Optional.
	Persist func(config.TrackingConfig)
}

// Controller is the recording state machine.
type Controller struct {
	enc       Encoder
	buf       *buffer.Buffer
	tempDir   string
	segDur    time.Duration
	stopGrace time.Duration
	persist   func(config.TrackingConfig)
	clock     func() time.Time

	events chan any
	closed chan struct{}
	status *syncx.RWGuard[Status]

	// Everything below is owned by the event loop.
	state        State
	enabled      bool
	mode         string
	trackedApp   string
	focusedApp   string
	session      SegmentProcess
	failures     int
	halted       bool
	listeners    []Listener
}

// Controller events.
type (
	evtObserveFocus   struct{ app string }
	evtSegmentDone    struct {
		proc      SegmentProcess
		path      string
		startedAt time.Time
		err       error
	}
	evtSetEnabled     struct{ on bool }
	evtSetMode        struct{ mode string }
	evtSetApplication struct{ name string }
	evtForceStart     struct{}
	evtAddListener    struct{ l Listener }
	evtShutdown       struct{ done chan struct{} }
)

// New constructs the controller and starts its event loop.
func New(opts Options) *Controller {
	stopGrace := opts.StopGrace
	if stopGrace <= 0 {
		stopGrace = 3 * time.Second
	}
	c := &Controller{
		enc:        opts.Encoder,
		buf:        opts.Buffer,
		tempDir:    opts.TempDir,
		segDur:     opts.SegmentDuration,
		stopGrace:  stopGrace,
		persist:    opts.Persist,
		clock:      time.Now,
		events:     make(chan any, 64),
		closed:     make(chan struct{}),
		status:     syncx.NewGuard(Status{}),
		state:      StateIdle,
		enabled:    opts.Tracking.Enabled,
		mode:       opts.Tracking.Mode,
		trackedApp: opts.Tracking.Application,
		focusedApp: "",
	}
	c.publish()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("controller panic", "error", r, "stack", string(debug.Stack()))
			}
		}()
		c.loop()
	}()
	return c
}

// SetEnabled toggles tracking. Disabling while recording lets the
// in-flight segment run to completion and be appended; no new segment
// starts afterward.
func (c *Controller) SetEnabled(on bool) { c.send(evtSetEnabled{on: on}) }

// SetMode switches between whole-display and tracked-application gating.
// Takes effect on the next focus evaluation tick.
func (c *Controller) SetMode(mode string) { c.send(evtSetMode{mode: mode}) }

// SetTrackedApplication updates the tracked application name. Takes
// effect on the next focus evaluation tick.
func (c *Controller) SetTrackedApplication(name string) { c.send(evtSetApplication{name: name}) }

// ObserveFocus feeds one focus poll observation into the controller.
func (c *Controller) ObserveFocus(app string) { c.send(evtObserveFocus{app: app}) }

// ForceStart begins capture immediately in whole-display mode without
// waiting for the next poll tick.
func (c *Controller) ForceStart() { c.send(evtForceStart{}) }

// AddListener registers a transition observer.
func (c *Controller) AddListener(l Listener) { c.send(evtAddListener{l: l}) }

// Status returns the latest published snapshot.
func (c *Controller) Status() Status { return c.status.Get() }

// Shutdown stops the loop, forcing termination of any in-flight encoder
// invocation after the grace period.
func (c *Controller) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	select {
	case c.events <- evtShutdown{done: done}:
	case <-c.closed:
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (c *Controller) send(ev any) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *Controller) loop() {
	for ev := range c.events {
		switch e := ev.(type) {
		case evtObserveFocus:
			c.handleFocus(e.app)
		case evtSegmentDone:
			c.handleSegmentDone(e)
		case evtSetEnabled:
			c.handleSetEnabled(e.on)
		case evtSetMode:
			c.resetHalt()
			c.mode = e.mode
			c.persistTracking()
		case evtSetApplication:
			c.resetHalt()
			c.trackedApp = e.name
			c.persistTracking()
		case evtForceStart:
			c.resetHalt()
			if c.enabled && c.mode == config.ModeWholeDisplay && c.session == nil {
				c.startSegment()
			}
		case evtAddListener:
			c.listeners = append(c.listeners, e.l)
		case evtShutdown:
			c.handleShutdown(e.done)
			return
		}
		c.publish()
	}
}

// gate reports whether capture should be running right now.
func (c *Controller) gate() bool {
	if !c.enabled {
		return false
	}
	if c.mode == config.ModeWholeDisplay {
		return true
	}
	return c.trackedApp != "" && strings.EqualFold(c.focusedApp, c.trackedApp)
}

func (c *Controller) handleFocus(app string) {
	if app != c.focusedApp {
		// A real focus change is a fresh gate evaluation: a halted
		// controller retries cleanly instead of staying dead.
		c.resetHalt()
	}
	c.focusedApp = app
	c.evaluate()
}

// evaluate reconciles the state machine with the gate condition.
func (c *Controller) evaluate() {
	gated := c.gate()
	switch {
	case c.state == StateIdle && gated && !c.halted && c.session == nil:
		c.startSegment()
	case c.state == StateRecording && !gated:
		// The in-flight segment runs to completion; it is finalized and
		// appended when its process exits. No new segment starts.
		c.transition(StateIdle)
	}
}

func (c *Controller) handleSetEnabled(on bool) {
	c.resetHalt()
	c.enabled = on
	c.persistTracking()
	c.evaluate()
}

func (c *Controller) handleSegmentDone(e evtSegmentDone) {
	if e.proc != c.session {
		// Completion of a segment already abandoned by shutdown.
		return
	}
	c.session = nil

	if e.err != nil {
		slog.Warn("segment capture failed", "path", e.path, "error", e.err)
		// Partial output is treated as absent.
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			slog.Debug("partial segment cleanup failed", "path", e.path, "error", err)
		}
		c.recordFailure(e.err)
		return
	}

	c.failures = 0
	c.buf.Append(buffer.Segment{Path: e.path, StartedAt: e.startedAt, Duration: c.segDur})
	slog.Debug("segment appended", "path", e.path)

	if c.gate() && !c.halted {
		c.startSegment()
		return
	}
	if c.state == StateRecording {
		c.transition(StateIdle)
	}
}

// recordFailure applies the retry policy: exactly one immediate retry,
// then a single recording-halted notification.
func (c *Controller) recordFailure(err error) {
	c.failures++
	if c.failures >= 2 {
		if !c.halted {
			c.halted = true
			slog.Error("recording halted after consecutive failures", "error", err)
			for _, l := range c.listeners {
				l.OnRecordingHalted(err)
			}
		}
		if c.state == StateRecording {
			c.transition(StateIdle)
		}
		return
	}
	if c.gate() {
		slog.Info("retrying segment after failure")
		c.startSegment()
		return
	}
	if c.state == StateRecording {
		c.transition(StateIdle)
	}
}

func (c *Controller) startSegment() {
	now := c.clock()
	path := filepath.Join(c.tempDir, "segment-"+now.UTC().Format("20060102T150405.000")+".mp4")

	proc, err := c.enc.StartSegment(path, c.segDur)
	if err != nil {
		slog.Error("encoder start failed", "path", path, "error", err)
		c.recordFailure(err)
		return
	}
	c.session = proc

	go func() {
		err := <-proc.Done()
		select {
		case c.events <- evtSegmentDone{proc: proc, path: path, startedAt: now, err: err}:
		case <-c.closed:
		}
	}()

	if c.state != StateRecording {
		c.transition(StateRecording)
	}
}

func (c *Controller) handleShutdown(done chan struct{}) {
	if c.session != nil {
		c.session.Stop(c.stopGrace)
		deadline := time.After(c.stopGrace + time.Second)
	drain:
		for {
			select {
			case ev := <-c.events:
				if sd, ok := ev.(evtSegmentDone); ok && sd.proc == c.session {
					c.session = nil
					break drain
				}
			case <-deadline:
				break drain
			}
		}
	}
	if c.state == StateRecording {
		c.transition(StateIdle)
	}
	c.publish()
	close(c.closed)
	close(done)
}

func (c *Controller) transition(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	slog.Info("recording state transition", "from", prev.String(), "to", next.String(),
		"focused", c.focusedApp)
	for _, l := range c.listeners {
		l.OnStateChange(prev, next)
	}
}

func (c *Controller) resetHalt() {
	c.halted = false
	c.failures = 0
}

func (c *Controller) persistTracking() {
	if c.persist == nil {
		return
	}
	c.persist(config.TrackingConfig{
		Enabled:     c.enabled,
		Mode:        c.mode,
		Application: c.trackedApp,
	})
}

func (c *Controller) publish() {
	c.status.Set(Status{
		State:              c.state,
		Enabled:            c.enabled,
		Mode:               c.mode,
		TrackedApplication: c.trackedApp,
		FocusedApplication: c.focusedApp,
		Halted:             c.halted,
	})
}
