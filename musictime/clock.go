package musictime

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

const (
	// DefaultTempo matches the backend's startup tempo.
	DefaultTempo = 120.0
	// DefaultPPQ is the pulse resolution of the sequencer clock (MIDI clock).
	DefaultPPQ = 24
)

// Clock holds the process-wide tempo. Reads are lock-free and never torn;
// every voice reads it at note time so a change applies to the next note.
type Clock struct {
	bits atomic.Uint64
}

// NewClock creates a clock at bpm (DefaultTempo if bpm <= 0).
func NewClock(bpm float64) *Clock {
	c := &Clock{}
	if bpm <= 0 {
		bpm = DefaultTempo
	}
	c.bits.Store(math.Float64bits(bpm))
	return c
}

// Tempo returns the current tempo in BPM.
func (c *Clock) Tempo() float64 {
	return math.Float64frombits(c.bits.Load())
}

// SetTempo changes the tempo. Non-positive tempos are rejected.
func (c *Clock) SetTempo(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return fmt.Errorf("%w: tempo must be positive, got %v", ErrInvalidDuration, bpm)
	}
	c.bits.Store(math.Float64bits(bpm))
	return nil
}

// Duration converts l at the clock's current tempo.
func (c *Clock) Duration(l NoteLen) (time.Duration, error) {
	return l.Duration(c.Tempo())
}

// PulseDuration is the length of one clock pulse at bpm with ppq pulses per
// quarter note.
func PulseDuration(bpm float64, ppq int) time.Duration {
	if bpm <= 0 || ppq <= 0 {
		return 0
	}
	beat := 60.0 / bpm
	return time.Duration(beat / float64(ppq) * float64(time.Second))
}
