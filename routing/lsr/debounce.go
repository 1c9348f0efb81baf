package lsr

import (
	"sync"
	"time"
)

// debouncer is a cancelable delayed task: scheduling while a previous job is
// still pending cancels it and restarts the delay (spec.md §5 "Debounce",
// §9 "schedule once; replace if pending"). Grounded on the cancel-and-reset
// discipline of the advertisement scheduler this repo's LSR/DVR tickers also
// draw from, generalized from a polling loop to a single cancelable timer.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay}
}

// Schedule cancels any pending job and starts a fresh one that runs fn after
// the debounce delay elapses.
func (d *debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels any pending job.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
