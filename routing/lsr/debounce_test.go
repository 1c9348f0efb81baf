package lsr

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_RunsAfterDelay(t *testing.T) {
	var ran atomic.Bool
	d := newDebouncer(10 * time.Millisecond)
	d.Schedule(func() { ran.Store(true) })

	time.Sleep(50 * time.Millisecond)
	if !ran.Load() {
		t.Error("debounced job never ran")
	}
}

func TestDebouncer_RestartCancelsPrevious(t *testing.T) {
	var runs atomic.Int32
	d := newDebouncer(30 * time.Millisecond)

	d.Schedule(func() { runs.Add(1) })
	time.Sleep(10 * time.Millisecond)
	d.Schedule(func() { runs.Add(1) }) // supersedes the first before it fires

	time.Sleep(60 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1 (first schedule should have been cancelled)", got)
	}
}

func TestDebouncer_StopPreventsRun(t *testing.T) {
	var ran atomic.Bool
	d := newDebouncer(10 * time.Millisecond)
	d.Schedule(func() { ran.Store(true) })
	d.Stop()

	time.Sleep(30 * time.Millisecond)
	if ran.Load() {
		t.Error("job ran despite Stop")
	}
}
