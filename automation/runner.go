package automation

import (
	"context"
	"time"
)

// minWait is the finest sleep the runner asks for. HiFi automations tick
// far faster than that and catch up with StepN between wakeups.
const minWait = time.Millisecond

// Runner steps an automation on its own goroutine and hands every value
// to a callback.
type Runner struct {
	a      Automation
	fn     func(float64)
	cancel context.CancelFunc
	done   chan struct{}
}

// Start initializes a and steps it until ctx ends, Stop is called or a
// one-shot automation finishes.
func Start(ctx context.Context, a Automation, fn func(float64)) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{a: a, fn: fn, cancel: cancel, done: make(chan struct{})}
	go r.run(ctx)
	return r
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)
	defer r.a.Stop()

	r.a.Init()
	r.fn(r.a.Step())
	last := time.Now()

	for r.a.State() != Stopped {
		tick := r.a.Tick()
		if tick <= 0 {
			return
		}
		wait := tick
		if wait < minWait {
			wait = minWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		n := int(time.Since(last) / tick)
		if n < 1 {
			n = 1
		}
		last = last.Add(time.Duration(n) * tick)
		r.a.StepN(n - 1)
		r.fn(r.a.Step())
	}
}

// Stop cancels the runner and waits for its goroutine to exit.
func (r *Runner) Stop() {
	r.cancel()
	<-r.done
}

// Done is closed once the runner exits.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Automation returns the automation being run.
func (r *Runner) Automation() Automation { return r.a }
