// Package automation provides stepped modulation sources (LFOs and ADSR
// envelopes). Each Step advances one tick and returns the new value.
//
// A tick is one clock pulse (24 per quarter note) by default, or one audio
// sample at 44.1kHz when HiFi is set. Tick length follows the tempo at the
// moment of the step.
package automation

import (
	"errors"
	"sync"
	"time"

	"midi-daw/musictime"
)

// ErrInvalidAutomation is returned by constructors for configurations that
// could never produce a value.
var ErrInvalidAutomation = errors.New("invalid automation")

const (
	// HiFiRate is the tick rate of HiFi automations, in ticks per second.
	HiFiRate = 44100
	// PPQ is the tick rate of normal automations, in ticks per quarter note.
	PPQ = musictime.DefaultPPQ
)

// State is the lifecycle of an automation.
type State int

const (
	Uninitialized State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Automation is a stepped value source.
type Automation interface {
	// Name is "lfo:<kind>" or "env:adsr".
	Name() string
	// Step advances one tick and returns the new value. A stopped
	// automation returns its last value without advancing.
	Step() float64
	// StepN advances n ticks without sampling.
	StepN(n int)
	// Value is the last value returned by Step.
	Value() float64
	// Init resets the phase and starts the automation.
	Init()
	// Reset sets the phase back to 0, keeping the state.
	Reset()
	// Stop moves the automation to Stopped.
	Stop()
	State() State
	// Tick is the current length of one tick.
	Tick() time.Duration
}

// Option configures any automation.
type Option func(*base)

// WithTempo sets where tick lengths read the tempo from.
func WithTempo(tempo func() float64) Option {
	return func(b *base) {
		if tempo != nil {
			b.tempo = tempo
		}
	}
}

// WithClock reads the tempo from a shared clock.
func WithClock(c *musictime.Clock) Option {
	return WithTempo(c.Tempo)
}

// base holds what every generator shares: lifecycle, tick length, the
// last value and a lock, since runners and voices may both step.
type base struct {
	mu    sync.Mutex
	state State
	hifi  bool
	tempo func() float64
	last  float64
}

func (b *base) configure(hifi bool, opts []Option) {
	b.hifi = hifi
	b.tempo = func() float64 { return musictime.DefaultTempo }
	for _, opt := range opts {
		opt(b)
	}
}

// tickSeconds must be called with mu held.
func (b *base) tickSeconds() float64 {
	if b.hifi {
		return 1.0 / HiFiRate
	}
	bpm := b.tempo()
	if bpm <= 0 {
		bpm = musictime.DefaultTempo
	}
	return 60.0 / bpm / PPQ
}

func (b *base) Tick() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.tickSeconds() * float64(time.Second))
}

func (b *base) Value() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) Stop() {
	b.mu.Lock()
	b.state = Stopped
	b.mu.Unlock()
}
