// Package buffer maintains the rolling set of recorded segments with a
// bounded total duration. It is the single owner of segment files: only
// eviction deletes them.
package buffer

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Segment is one completed fixed-length recording unit.
type Segment struct {
	// Path of the encoded media file.
	Path string
	// StartedAt is when capture of this segment began.
	StartedAt time.Time
	// Duration is the nominal segment length. The actual encoded length
	// may drift slightly; nominal is authoritative for accounting.
	Duration time.Duration
}

// Buffer is an ordered (oldest first) duration-bounded segment sequence.
type Buffer struct {
	mu       sync.Mutex
	segments []Segment
	budget   time.Duration

	// remove is swappable for tests; defaults to os.Remove.
	remove func(string) error
}

// New creates a buffer with the given retention budget.
func New(budget time.Duration) *Buffer {
	return &Buffer{budget: budget, remove: os.Remove}
}

// Append inserts a completed segment at the tail, then evicts from the
// head while the total duration exceeds the budget. The most recent
// segment is always retained, even if it alone exceeds the budget.
func (b *Buffer) Append(seg Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.segments = append(b.segments, seg)
	for len(b.segments) > 1 && b.totalLocked() > b.budget {
		evicted := b.segments[0]
		b.segments = b.segments[1:]
		if err := b.remove(evicted.Path); err != nil && !os.IsNotExist(err) {
			// Deletion failure is never fatal: the in-memory sequence
			// shrinks regardless so the buffer cannot grow unbounded.
			slog.Warn("segment eviction delete failed", "path", evicted.Path, "error", err)
		} else {
			slog.Debug("segment evicted", "path", evicted.Path)
		}
	}
}

// Snapshot returns a copy of the current sequence, oldest to newest.
func (b *Buffer) Snapshot() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Segment, len(b.segments))
	copy(out, b.segments)
	return out
}

// Status reports segment count and total buffered duration.
func (b *Buffer) Status() (count int, total time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments), b.totalLocked()
}

// Clear drops every segment and deletes the backing files. Used on
// shutdown; segments are never recovered across runs.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, seg := range b.segments {
		if err := b.remove(seg.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("segment delete failed", "path", seg.Path, "error", err)
		}
	}
	b.segments = nil
}

func (b *Buffer) totalLocked() time.Duration {
	var total time.Duration
	for _, seg := range b.segments {
		total += seg.Duration
	}
	return total
}
