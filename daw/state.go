package daw

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"midi-daw/midi"
	"midi-daw/musictime"
)

// Snapshot is one immutable view of the shared state.
type Snapshot struct {
	Tempo  float64
	Target midi.Target
}

// State holds the tempo and the default target. Readers get a whole
// snapshot and never see a half-applied update; writers replace it.
type State struct {
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[Snapshot]
}

func NewState(bpm float64, target midi.Target) *State {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		bpm = musictime.DefaultTempo
	}
	s := &State{}
	s.cur.Store(&Snapshot{Tempo: bpm, Target: target})
	return s
}

func (s *State) Load() Snapshot { return *s.cur.Load() }

func (s *State) Tempo() float64 { return s.cur.Load().Tempo }

func (s *State) Target() midi.Target { return s.cur.Load().Target }

func (s *State) update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.cur.Load()
	fn(&next)
	s.cur.Store(&next)
	return next
}

// SetTempo rejects tempos that are not positive and finite.
func (s *State) SetTempo(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return fmt.Errorf("%w: tempo must be positive, got %v", musictime.ErrInvalidDuration, bpm)
	}
	s.update(func(n *Snapshot) { n.Tempo = bpm })
	return nil
}

func (s *State) SetDevice(device string) {
	s.update(func(n *Snapshot) { n.Target.Device = device })
}

func (s *State) SetChannel(ch midi.Channel) {
	s.update(func(n *Snapshot) { n.Target.Channel = ch })
}
