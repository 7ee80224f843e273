package voice

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"midi-daw/midi"

	"go.uber.org/zap"
)

// Run is one execution of a voice. It owns the set of pitches it started
// and has not yet released.
type Run struct {
	v      *Voice
	ctx    context.Context
	cancel context.CancelFunc
	unhook func() bool

	mu        sync.Mutex
	killed    bool
	playing   map[uint8]int
	timers    map[*time.Timer]struct{}
	sends     sync.WaitGroup
	iteration int
	err       error

	stopOnce sync.Once
	done     chan struct{}
}

func newRun(parent context.Context, v *Voice) *Run {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	r := &Run{
		v:       v,
		ctx:     ctx,
		cancel:  cancel,
		playing: make(map[uint8]int),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
	}
	r.unhook = context.AfterFunc(parent, func() { go r.Stop() })
	return r
}

func (r *Run) run() {
	defer close(r.done)
	defer r.unhook()
	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			r.err = fmt.Errorf("voice %s panicked: %v", r.v.name, rec)
			r.mu.Unlock()
			r.v.deps.Log.Error("voice panicked", zap.String("voice", r.v.name), zap.Any("panic", rec))
			r.Stop()
		}
	}()

	p := &Performer{r: r}
	if r.v.setup != nil {
		r.v.setup(p)
	}

	count := r.v.loop
	if count == 0 {
		count = 1
	}
	for i := 0; count == Forever || i < count; i++ {
		p.checkpoint()
		r.mu.Lock()
		r.iteration = i
		r.mu.Unlock()

		var value float64
		if r.v.auto != nil {
			value = r.v.auto.Step()
		}
		r.v.body(p, value)
	}
	r.v.deps.Log.Debug("voice finished", zap.String("voice", r.v.name))
}

// admit registers pitches as sounding and reserves n sends. It ends the
// calling goroutine if the run was stopped.
func (r *Run) admit(pitches []uint8, n int) {
	r.mu.Lock()
	if r.killed {
		r.mu.Unlock()
		runtime.Goexit()
	}
	for _, p := range pitches {
		r.playing[p]++
	}
	r.sends.Add(n)
	r.mu.Unlock()
}

func (r *Run) release(pitches []uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pitches {
		switch c := r.playing[p]; {
		case c > 1:
			r.playing[p] = c - 1
		case c == 1:
			delete(r.playing, p)
		}
	}
}

func (r *Run) forget(pitches []uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pitches {
		delete(r.playing, p)
	}
}

// releaseAfter drops pitches from the sounding set once d has passed.
func (r *Run) releaseAfter(pitches []uint8, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.killed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		_, live := r.timers[t]
		delete(r.timers, t)
		r.mu.Unlock()
		if live {
			r.release(pitches)
		}
	})
	r.timers[t] = struct{}{}
}

// Stop kills the run and sends a StopNote for every pitch it still has
// sounding. Sends already admitted are allowed to land first so that no
// PlayNote arrives after its StopNote. Stop does not wait for the body to
// return; it only promises that nothing more will be sent.
func (r *Run) Stop() {
	r.stopOnce.Do(r.stop)
}

func (r *Run) stop() {
	r.mu.Lock()
	r.killed = true
	r.mu.Unlock()
	r.cancel()

	r.sends.Wait()

	r.mu.Lock()
	pitches := make([]uint8, 0, len(r.playing))
	for p := range r.playing {
		pitches = append(pitches, p)
	}
	r.playing = make(map[uint8]int)
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[*time.Timer]struct{})
	r.mu.Unlock()

	slices.Sort(pitches)
	d := r.v.deps
	for _, p := range pitches {
		d.Dispatcher.Send(context.Background(), r.v.target, midi.StopNote{Pitch: p}, true)
	}
	d.Log.Debug("run stopped", zap.String("voice", r.v.name), zap.Int("released", len(pitches)))
}

// Wait blocks until the run's goroutine has returned or ctx is done.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the run's goroutine has returned.
func (r *Run) Done() <-chan struct{} { return r.done }

// Alive reports whether the run is still executing and was not stopped.
func (r *Run) Alive() bool {
	select {
	case <-r.done:
		return false
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.killed
}

// Err is non-nil if the body panicked.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) Voice() *Voice { return r.v }

// Iteration is the zero-based index of the current loop pass.
func (r *Run) Iteration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iteration
}

// Playing returns the pitches the run started and has not released,
// lowest first.
func (r *Run) Playing() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint8, 0, len(r.playing))
	for p := range r.playing {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
