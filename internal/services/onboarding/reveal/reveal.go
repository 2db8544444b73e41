// Package reveal drives the character-by-character disclosure of prompt
// text on a fixed cadence.
package reveal

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the cadence between revealed characters.
const DefaultInterval = 50 * time.Millisecond

// Driver reveals one string at a time as a growing sequence of prefixes.
// At most one reveal is active per driver; starting a new reveal cancels
// the in-flight one before the first new prefix is produced, so output
// from two reveals never interleaves.
type Driver struct {
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a driver with the given tick interval.
// A non-positive interval falls back to DefaultInterval.
func NewDriver(interval time.Duration) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{interval: interval}
}

// Start cancels any in-flight reveal and begins revealing text. The
// returned channel produces prefixes of increasing length, one rune per
// tick, and closes after the full text or on cancellation. The first
// prefix is produced immediately so the consumer never observes an empty
// prompt for a full tick.
func (d *Driver) Start(text string) <-chan string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	out := make(chan string)
	d.cancel = cancel
	d.done = done

	go d.run(ctx, text, out, done)
	return out
}

// Cancel stops the in-flight reveal, if any. It returns only after the
// reveal goroutine has exited, so no prefix is emitted afterwards.
func (d *Driver) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// stopLocked cancels and waits out the active reveal. Callers hold d.mu.
func (d *Driver) stopLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil
}

func (d *Driver) run(ctx context.Context, text string, out chan<- string, done chan struct{}) {
	defer close(done)
	defer close(out)

	runes := []rune(text)
	if len(runes) == 0 {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for i := range runes {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		select {
		case <-ctx.Done():
			return
		case out <- string(runes[:i+1]):
		}
	}
}
