package buffer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func seg(path string, start time.Time, d time.Duration) Segment {
	return Segment{Path: path, StartedAt: start, Duration: d}
}

// newTest returns a buffer whose file deletion is recorded, not executed.
func newTest(budget time.Duration) (*Buffer, *[]string) {
	b := New(budget)
	removed := &[]string{}
	b.remove = func(path string) error {
		*removed = append(*removed, path)
		return nil
	}
	return b, removed
}

func TestAppendWithinBudget(t *testing.T) {
	b, removed := newTest(40 * time.Second)
	base := time.Now()
	for i := 0; i < 4; i++ {
		b.Append(seg("s", base.Add(time.Duration(i)*10*time.Second), 10*time.Second))
	}

	count, total := b.Status()
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
	if total != 40*time.Second {
		t.Errorf("total = %v, want 40s", total)
	}
	if len(*removed) != 0 {
		t.Errorf("no eviction expected, got %v", *removed)
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	b, removed := newTest(30 * time.Second)
	base := time.Now()
	names := []string{"a", "b", "c", "d", "e"}
	for i, n := range names {
		b.Append(seg(n, base.Add(time.Duration(i)*10*time.Second), 10*time.Second))
	}

	count, total := b.Status()
	if count != 3 || total != 30*time.Second {
		t.Errorf("status = (%d, %v), want (3, 30s)", count, total)
	}
	// Retained set must be the contiguous newest suffix.
	snap := b.Snapshot()
	want := []string{"c", "d", "e"}
	for i, s := range snap {
		if s.Path != want[i] {
			t.Errorf("snapshot[%d] = %q, want %q", i, s.Path, want[i])
		}
	}
	if len(*removed) != 2 || (*removed)[0] != "a" || (*removed)[1] != "b" {
		t.Errorf("removed = %v, want [a b]", *removed)
	}
}

func TestInvariantAfterEveryAppend(t *testing.T) {
	b, _ := newTest(25 * time.Second)
	base := time.Now()
	durations := []time.Duration{10, 10, 10, 5, 30, 10, 10}
	for i, d := range durations {
		b.Append(seg("s", base.Add(time.Duration(i)*time.Minute), d*time.Second))
		count, total := b.Status()
		if total > 25*time.Second && count != 1 {
			t.Fatalf("after append %d: total %v exceeds budget with %d segments", i, total, count)
		}
	}
}

func TestOversizedSegmentRetained(t *testing.T) {
	b, _ := newTest(20 * time.Second)
	b.Append(seg("small", time.Now(), 10*time.Second))
	b.Append(seg("big", time.Now().Add(10*time.Second), 60*time.Second))

	count, total := b.Status()
	if count != 1 {
		t.Fatalf("count = %d, want 1 (most recent always retained)", count)
	}
	if total != 60*time.Second {
		t.Errorf("total = %v, want 60s", total)
	}
	if b.Snapshot()[0].Path != "big" {
		t.Error("retained segment should be the newest")
	}
}

func TestDeleteFailureStillEvicts(t *testing.T) {
	b := New(10 * time.Second)
	b.remove = func(string) error { return errors.New("device busy") }

	base := time.Now()
	b.Append(seg("a", base, 10*time.Second))
	b.Append(seg("b", base.Add(10*time.Second), 10*time.Second))

	count, _ := b.Status()
	if count != 1 {
		t.Errorf("count = %d, want 1; stuck files must not block eviction", count)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	b, _ := newTest(time.Hour)
	b.Append(seg("a", time.Now(), 10*time.Second))

	snap := b.Snapshot()
	snap[0].Path = "mutated"

	if b.Snapshot()[0].Path != "a" {
		t.Error("mutating a snapshot must not affect the buffer")
	}
}

func TestClearDeletesFiles(t *testing.T) {
	dir := t.TempDir()
	b := New(time.Hour)
	path := filepath.Join(dir, "seg.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	b.Append(seg(path, time.Now(), 10*time.Second))

	b.Clear()

	if count, _ := b.Status(); count != 0 {
		t.Errorf("count after Clear = %d, want 0", count)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Clear should delete segment files")
	}
}
