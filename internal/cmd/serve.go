package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewinddvr/rewind/internal/buffer"
	"github.com/rewinddvr/rewind/internal/clip"
	"github.com/rewinddvr/rewind/internal/config"
	"github.com/rewinddvr/rewind/internal/encoder"
	"github.com/rewinddvr/rewind/internal/focus"
	"github.com/rewinddvr/rewind/internal/library"
	"github.com/rewinddvr/rewind/internal/recorder"
	"github.com/rewinddvr/rewind/internal/server"
	"github.com/rewinddvr/rewind/internal/share"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// encoderAdapter narrows *encoder.Launcher to the controller's interface.
type encoderAdapter struct {
	l *encoder.Launcher
}

func (a encoderAdapter) StartSegment(outPath string, d time.Duration) (recorder.SegmentProcess, error) {
	return a.l.StartSegment(outPath, d)
}

func runServe() error {
	store := config.NewStore(cfgPath)
	cfg := store.Load()
	slog.Info("configuration loaded", "path", store.Path())

	tempDir, err := prepareTempDir(cfg.Capture.TempDir)
	if err != nil {
		return err
	}

	ffmpegPath := cfg.Capture.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	launcher, err := encoder.NewLauncher(encoder.Config{
		FFmpegPath: cfg.Capture.FFmpegPath,
		Display:    cfg.Capture.Display,
		Framerate:  cfg.Capture.Framerate,
	})
	if err != nil {
		return err
	}

	buf := buffer.New(cfg.Capture.RetentionBudget())

	ctrl := recorder.New(recorder.Options{
		Encoder:         encoderAdapter{l: launcher},
		Buffer:          buf,
		TempDir:         tempDir,
		SegmentDuration: cfg.Capture.SegmentDuration(),
		Tracking:        cfg.Tracking,
		Persist: func(tc config.TrackingConfig) {
			latest := store.Load()
			latest.Tracking = tc
			if err := store.Save(latest); err != nil {
				slog.Warn("tracking config persist failed", "error", err)
			}
		},
	})

	dbPath := cfg.Library.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Library.Dir, "library.db")
	}
	if err := os.MkdirAll(cfg.Library.Dir, 0o755); err != nil {
		return err
	}
	lib, err := library.Open(dbPath)
	if err != nil {
		return err
	}
	defer lib.Close()

	srv := server.New(server.Options{
		Controller: ctrl,
		Clipper:    clip.NewAssembler(buf, cfg.Library.Dir, ffmpegPath),
		Buffer:     buf,
		Library:    lib,
		Uploader:   share.New(cfg.Share.BaseURL, cfg.Share.Username),
		FFmpegPath: ffmpegPath,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := focus.New()
	if err != nil {
		// Focus queries degrade to the display sentinel; application mode
		// simply never gates on.
		slog.Warn("focus source unavailable", "error", err)
	} else {
		defer source.Close()
		poller := focus.NewPoller(source, cfg.Server.PollInterval(), ctrl.ObserveFocus)
		go poller.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("rewindd listening", "addr", cfg.Server.Addr,
			"segment_seconds", cfg.Capture.SegmentSeconds,
			"retention_seconds", cfg.Capture.RetentionSeconds)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	ctrl.Shutdown(shutdownCtx)
	srv.Close()
	buf.Clear()
	slog.Info("shutdown complete")
	return nil
}

// prepareTempDir resolves the segment scratch directory and sweeps
// segments left behind by a previous run. Buffered history never
// survives a restart.
func prepareTempDir(configured string) (string, error) {
	dir := configured
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "rewind-segments")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	stale, err := filepath.Glob(filepath.Join(dir, "segment-*.mp4"))
	if err == nil && len(stale) > 0 {
		for _, path := range stale {
			_ = os.Remove(path)
		}
		slog.Info("removed stale segments", "count", len(stale), "dir", dir)
	}
	return dir, nil
}
