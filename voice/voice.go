// Package voice runs performer-defined functions against a MIDI target.
//
// A Voice is a registered function plus how to run it: once, looped N
// times or forever, in the background or on the caller's goroutine. Every
// Play starts a Run with its own goroutine and its own set of sounding
// notes, so stopping a run can always release what it left playing.
package voice

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"midi-daw/automation"
	"midi-daw/dispatch"
	"midi-daw/eventbus"
	"midi-daw/midi"
	"midi-daw/musictime"

	"go.uber.org/zap"
)

// Forever is the loop count of a voice that loops until stopped.
const Forever = -1

// Body is a performance function.
type Body func(p *Performer)

// AutomatedBody receives the automation value sampled for this iteration.
type AutomatedBody func(p *Performer, value float64)

// Deps are the shared services every voice uses.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Bus        eventbus.Bus
	// Tempo is read at every note, never cached.
	Tempo    func() float64
	Registry *Registry
	Log      *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Tempo == nil {
		d.Tempo = func() float64 { return musictime.DefaultTempo }
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.NewLocal()
	}
	return d
}

// Voice is a registered performance function bound to a target.
type Voice struct {
	name     string
	target   midi.Target
	deps     Deps
	loop     int
	blocking bool
	setup    Body
	auto     automation.Automation
	body     AutomatedBody

	mu   sync.Mutex
	runs map[*Run]struct{}
}

// Option configures a voice at registration.
type Option func(*Voice)

// Loop runs the body n times per Play. Forever loops until stopped.
func Loop(n int) Option {
	return func(v *Voice) { v.loop = n }
}

// LoopForever is Loop(Forever).
func LoopForever() Option { return Loop(Forever) }

// Blocking makes Play run on the caller's behalf and return when the run
// ends.
func Blocking() Option {
	return func(v *Voice) { v.blocking = true }
}

// Setup runs fn once per Play, before the first iteration, on the run's
// goroutine.
func Setup(fn Body) Option {
	return func(v *Voice) { v.setup = fn }
}

// Named overrides the derived voice name.
func Named(name string) Option {
	return func(v *Voice) { v.name = name }
}

// New registers body on target.
func New(target midi.Target, deps Deps, body Body, opts ...Option) (*Voice, error) {
	if body == nil {
		return nil, errors.New("voice: nil body")
	}
	v := newVoice(target, deps, func(p *Performer, _ float64) { body(p) }, opts)
	if v.name == "" {
		v.name = Name(body, target)
	}
	return v, v.validate()
}

// NewAutomated registers body on target with an automation stepped before
// every iteration. The sampled value is passed to body.
func NewAutomated(target midi.Target, deps Deps, a automation.Automation, body AutomatedBody, opts ...Option) (*Voice, error) {
	if body == nil {
		return nil, errors.New("voice: nil body")
	}
	if a == nil {
		return nil, fmt.Errorf("%w: voice automation is nil", automation.ErrInvalidAutomation)
	}
	v := newVoice(target, deps, body, opts)
	v.auto = a
	if v.name == "" {
		v.name = Name(body, target)
	}
	return v, v.validate()
}

func newVoice(target midi.Target, deps Deps, body AutomatedBody, opts []Option) *Voice {
	v := &Voice{
		target: target,
		deps:   deps.withDefaults(),
		body:   body,
		runs:   make(map[*Run]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Voice) validate() error {
	if v.loop < Forever {
		return fmt.Errorf("voice %s: bad loop count %d", v.name, v.loop)
	}
	if v.deps.Dispatcher == nil {
		return fmt.Errorf("voice %s: no dispatcher", v.name)
	}
	return nil
}

// Name derives "<func>:<device>:<channel>" for fn.
func Name(fn any, target midi.Target) string {
	fname := "voice"
	if rv := reflect.ValueOf(fn); rv.Kind() == reflect.Func {
		if f := runtime.FuncForPC(rv.Pointer()); f != nil {
			fname = f.Name()
			if i := strings.LastIndex(fname, "/"); i >= 0 {
				fname = fname[i+1:]
			}
			if i := strings.LastIndex(fname, "."); i >= 0 {
				fname = fname[i+1:]
			}
		}
	}
	return fmt.Sprintf("%s:%s:%d", fname, target.Device, target.Channel.Number())
}

func (v *Voice) Name() string { return v.name }

func (v *Voice) Target() midi.Target { return v.target }

func (v *Voice) IsBlocking() bool { return v.blocking }

// LoopCount is 0 for a single pass, N for N passes and Forever.
func (v *Voice) LoopCount() int { return v.loop }

func (v *Voice) Automation() automation.Automation { return v.auto }

// Play starts a run. A blocking voice returns once the run has ended;
// others return at once. Running voices are not stopped first: calling
// Play twice gives two concurrent runs.
//
// Cancelling ctx stops the run like Stop does.
func (v *Voice) Play(ctx context.Context) *Run {
	r := newRun(ctx, v)

	v.mu.Lock()
	for old := range v.runs {
		if !old.Alive() {
			delete(v.runs, old)
		}
	}
	v.runs[r] = struct{}{}
	v.mu.Unlock()

	if v.deps.Registry != nil {
		v.deps.Registry.Add(v.name, r)
	}

	v.deps.Log.Info("voice started", zap.String("voice", v.name), zap.Int("loop", v.loop), zap.Bool("blocking", v.blocking))
	go r.run()
	if v.blocking {
		<-r.Done()
	}
	return r
}

// Stop stops every live run of the voice and releases their notes.
func (v *Voice) Stop() {
	v.mu.Lock()
	runs := make([]*Run, 0, len(v.runs))
	for r := range v.runs {
		runs = append(runs, r)
	}
	v.runs = make(map[*Run]struct{})
	v.mu.Unlock()

	for _, r := range runs {
		r.Stop()
	}
	v.deps.Log.Info("voice stopped", zap.String("voice", v.name), zap.Int("runs", len(runs)))
}

// Runs returns the runs still alive.
func (v *Voice) Runs() []*Run {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []*Run
	for r := range v.runs {
		if r.Alive() {
			out = append(out, r)
		}
	}
	return out
}
