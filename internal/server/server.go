// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rewinddvr/rewind/internal/buffer"
	"github.com/rewinddvr/rewind/internal/clip"
	"github.com/rewinddvr/rewind/internal/config"
	apperrors "github.com/rewinddvr/rewind/internal/errors"
	"github.com/rewinddvr/rewind/internal/library"
	"github.com/rewinddvr/rewind/internal/recorder"
	"github.com/rewinddvr/rewind/internal/trace"
)

// Controller is the recording state machine surface the server drives.
type Controller interface {
	SetEnabled(on bool)
	SetMode(mode string)
	SetTrackedApplication(name string)
	ForceStart()
	Status() recorder.Status
	AddListener(l recorder.Listener)
}

// Clipper assembles a clip from the rolling buffer.
type Clipper interface {
	Assemble(ctx context.Context, req clip.Request) (string, error)
}

// BufferView is the read-only buffer surface exposed over the API.
type BufferView interface {
	Snapshot() []buffer.Segment
	Status() (count int, total time.Duration)
}

// Uploader sends a saved clip to the share server.
type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, path string, duration time.Duration) (string, error)
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type StateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	From  string `json:"from"`
}

type HaltedMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ClipMessage struct {
	Type string       `json:"type"`
	Clip library.Clip `json:"clip"`
}

type StatusMessage struct {
	Type   string       `json:"type"`
	Status statusReport `json:"status"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type statusReport struct {
	State              string `json:"state"`
	Enabled            bool   `json:"enabled"`
	Mode               string `json:"mode"`
	TrackedApplication string `json:"tracked_application"`
	FocusedApplication string `json:"focused_application"`
	Halted             bool   `json:"halted"`
	BufferSegments     int    `json:"buffer_segments"`
	BufferSeconds      int    `json:"buffer_seconds"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Options wires the server's collaborators.
type Options struct {
	Controller Controller
	Clipper    Clipper
	Buffer     BufferView
	Library    *library.Store
	Uploader   Uploader
	// FFmpegPath is used for poster-frame hashing of saved clips.
	FFmpegPath string
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl    Controller
	clipper Clipper
	buf     BufferView
	lib     *library.Store
	upl     Uploader
	ffmpeg  string

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter

	events chan any
	done   chan struct{}
}

// New creates a new server and registers it as a controller listener.
func New(opts Options) *Server {
	s := &Server{
		ctrl:       opts.Controller,
		clipper:    opts.Clipper,
		buf:        opts.Buffer,
		lib:        opts.Library,
		upl:        opts.Uploader,
		ffmpeg:     opts.FFmpegPath,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
		events:     make(chan any, EventBacklog),
		done:       make(chan struct{}),
	}

	s.ctrl.AddListener(s)
	go s.broadcastEvents()

	return s
}

// Close stops the broadcast loop and drops all WebSocket connections.
func (s *Server) Close() {
	close(s.done)

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
	}
	s.mu.Unlock()
}

// OnStateChange implements recorder.Listener. It runs on the controller
// loop; the event is handed off without blocking.
func (s *Server) OnStateChange(prev, next recorder.State) {
	s.queue(StateMessage{Type: "state", State: next.String(), From: prev.String()})
}

// OnRecordingHalted implements recorder.Listener.
func (s *Server) OnRecordingHalted(err error) {
	s.queue(HaltedMessage{Type: "halted", Error: err.Error()})
}

func (s *Server) queue(msg any) {
	select {
	case s.events <- msg:
	default:
		slog.Warn("event backlog full, dropping broadcast")
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/buffer", s.handleBuffer)
	mux.HandleFunc("GET /api/clips", s.handleClips)
	mux.HandleFunc("POST /api/tracking/enable", s.handleTrackingEnable)
	mux.HandleFunc("POST /api/tracking/mode", s.handleTrackingMode)
	mux.HandleFunc("POST /api/tracking/app", s.handleTrackingApp)
	mux.HandleFunc("POST /api/clip", s.handleClip)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) report() statusReport {
	st := s.ctrl.Status()
	count, total := s.buf.Status()
	return statusReport{
		State:              st.State.String(),
		Enabled:            st.Enabled,
		Mode:               st.Mode,
		TrackedApplication: st.TrackedApplication,
		FocusedApplication: st.FocusedApplication,
		Halted:             st.Halted,
		BufferSegments:     count,
		BufferSeconds:      int(total / time.Second),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.report())
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	segs := s.buf.Snapshot()
	out := make([]map[string]any, 0, len(segs))
	for _, seg := range segs {
		out = append(out, map[string]any{
			"path":       seg.Path,
			"started_at": seg.StartedAt.UTC().Format(time.RFC3339),
			"seconds":    int(seg.Duration / time.Second),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": out})
}

func (s *Server) handleClips(w http.ResponseWriter, r *http.Request) {
	clips, err := s.lib.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if clips == nil {
		clips = []library.Clip{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clips": clips})
}

func (s *Server) handleTrackingEnable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.ctrl.SetEnabled(body.Enabled)
	trace.Logger(r.Context()).Info("tracking toggled", "enabled", body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

func (s *Server) handleTrackingMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Mode != config.ModeWholeDisplay && body.Mode != config.ModeTrackedApplication {
		http.Error(w, "mode must be \"display\" or \"application\"", http.StatusBadRequest)
		return
	}
	s.ctrl.SetMode(body.Mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": body.Mode})
}

func (s *Server) handleTrackingApp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Application string `json:"application"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.ctrl.SetTrackedApplication(body.Application)
	writeJSON(w, http.StatusOK, map[string]string{"application": body.Application})
}

func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "save_clip")
	defer span.End()
	log := trace.Logger(ctx)

	var body struct {
		DurationSeconds int    `json:"duration_seconds"`
		Name            string `json:"name"`
		Share           bool   `json:"share"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.DurationSeconds <= 0 || body.DurationSeconds > MaxClipSeconds {
		http.Error(w, "duration_seconds must be between 1 and 3600", http.StatusBadRequest)
		return
	}

	st := s.ctrl.Status()
	path, err := s.clipper.Assemble(ctx, clip.Request{
		Duration: time.Duration(body.DurationSeconds) * time.Second,
		Name:     body.Name,
		App:      st.FocusedApplication,
	})
	if err != nil {
		log.Error("clip assembly failed", "error", err)
		writeError(w, err)
		return
	}

	saved := &library.Clip{
		Name:     body.Name,
		App:      st.FocusedApplication,
		Path:     path,
		Duration: time.Duration(body.DurationSeconds) * time.Second,
		PHash:    library.PosterHash(ctx, s.ffmpeg, path),
	}
	if fi, err := os.Stat(path); err == nil {
		saved.Size = fi.Size()
	}

	dup, err := s.lib.FindNearDuplicate(ctx, saved.PHash)
	if err != nil {
		log.Warn("duplicate lookup failed", "error", err)
	}

	if err := s.lib.Insert(ctx, saved); err != nil {
		writeError(w, err)
		return
	}

	if body.Share && s.upl.Enabled() {
		link, err := s.upl.Upload(ctx, path, saved.Duration)
		if err != nil {
			// The clip is saved either way; the share failure is reported
			// alongside it.
			log.Error("clip upload failed", "error", err)
		} else if err := s.lib.SetShareURL(ctx, saved.ID, link); err == nil {
			saved.ShareURL = link
		}
	}

	s.queue(ClipMessage{Type: "clip", Clip: *saved})

	resp := map[string]any{"clip": saved}
	if dup != nil {
		resp["duplicate_of"] = dup.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleRecordingStart begins capture immediately without waiting for
// the next focus poll. Only meaningful in whole-display mode.
func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ForceStart()
	writeJSON(w, http.StatusOK, map[string]string{"status": "recording_requested"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// New subscribers get the current status immediately.
	_ = wsjson.Write(baseCtx, conn, StatusMessage{Type: "status", Status: s.report()})

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, RateLimitedMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "status":
			_ = wsjson.Write(baseCtx, conn, StatusMessage{Type: "status", Status: s.report()})
		}
	}
}

func (s *Server) broadcastEvents() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.events:
			s.mu.RLock()
			for conn := range s.conns {
				go func(c *websocket.Conn) {
					_ = wsjson.Write(context.Background(), c, msg)
				}(conn)
			}
			s.mu.RUnlock()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInsufficientBuffer:
		status = http.StatusConflict
	case apperrors.CodeConfigInvalid:
		status = http.StatusBadRequest
	case apperrors.CodeUpload, apperrors.CodeUnavailable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  apperrors.CodeOf(err).String(),
	})
}
