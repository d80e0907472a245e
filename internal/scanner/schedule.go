package scanner

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// schedule runs fn on its own goroutine: immediately, then after every
// interval with fixed delay when interval is positive, or exactly once when
// it is not. The returned stop function cancels future invocations; it never
// interrupts an invocation already running.
func schedule(clk clock.Clock, fn func(), interval time.Duration) (stop func()) {
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}

			fn()

			if interval <= 0 {
				return
			}
			timer := clk.NewTimer(interval)
			select {
			case <-timer.C():
			case <-done:
				timer.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
