package voice

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"midi-daw/midi"
	"midi-daw/musictime"
	"midi-daw/note"

	"go.uber.org/zap"
)

// Performer is what a voice body plays through. Its methods must be
// called from the body's own goroutine: once the run is stopped, the next
// call ends that goroutine.
type Performer struct {
	r *Run
}

// checkpoint ends the body if the run was stopped.
func (p *Performer) checkpoint() {
	if p.r.ctx.Err() != nil {
		runtime.Goexit()
	}
}

// sleep waits d, or ends the body if the run is stopped meanwhile.
func (p *Performer) sleep(d time.Duration) {
	if d <= 0 {
		p.checkpoint()
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.r.ctx.Done():
		runtime.Goexit()
	}
}

func (p *Performer) send(msg midi.Msg) error {
	return p.r.v.deps.Dispatcher.Send(context.WithoutCancel(p.r.ctx), p.r.v.target, msg, true)
}

// Note plays arg, a single pitch or a chord, for l at velocity vel.
//
// All but the last pitch of a chord go out in the background; the last
// goes out with block. A blocking note then holds the body for the
// note's length. A zero l releases arg instead, like Release.
func (p *Performer) Note(arg note.Arg, l musictime.NoteLen, vel int, block bool) error {
	p.checkpoint()
	if l.IsZero() {
		return p.Release(arg)
	}
	pitches, err := note.Normalize(arg)
	if err != nil {
		return err
	}
	tempo := p.Tempo()
	d, err := l.Duration(tempo)
	if err != nil {
		return err
	}
	if vel < 0 || vel > 127 {
		return fmt.Errorf("%w: velocity %d", midi.ErrInvalidMsg, vel)
	}

	r := p.r
	r.admit(pitches, len(pitches))
	disp := r.v.deps.Dispatcher
	last := len(pitches) - 1
	for _, pitch := range pitches[:last] {
		msg := midi.PlayNote{Pitch: pitch, Velocity: uint8(vel), Length: l}
		disp.Go(func() {
			defer r.sends.Done()
			p.send(msg)
		})
	}
	msg := midi.PlayNote{Pitch: pitches[last], Velocity: uint8(vel), Length: l}
	if block {
		err = p.send(msg)
		r.sends.Done()
		p.sleep(d)
		r.release(pitches)
		return err
	}
	disp.Go(func() {
		defer r.sends.Done()
		p.send(msg)
	})
	r.releaseAfter(pitches, d)
	return nil
}

// Release stops arg at once and forgets it.
func (p *Performer) Release(arg note.Arg) error {
	p.checkpoint()
	pitches, err := note.Normalize(arg)
	if err != nil {
		return err
	}
	r := p.r
	r.admit(nil, len(pitches))
	var first error
	for _, pitch := range pitches {
		if err := p.send(midi.StopNote{Pitch: pitch}); err != nil && first == nil {
			first = err
		}
		r.sends.Done()
	}
	r.forget(pitches)
	return first
}

// CC sets controller to value, a fraction in [0,1].
func (p *Performer) CC(controller int, value float64) error {
	p.checkpoint()
	msg, err := midi.NewCC(controller, value)
	if err != nil {
		return err
	}
	p.r.admit(nil, 1)
	defer p.r.sends.Done()
	return p.send(msg)
}

// PitchBend sends a bend in [-8192, 8191].
func (p *Performer) PitchBend(value int) error {
	p.checkpoint()
	msg, err := midi.NewPitchBend(value)
	if err != nil {
		return err
	}
	p.r.admit(nil, 1)
	defer p.r.sends.Done()
	return p.send(msg)
}

// Rest holds the body for l at the current tempo.
func (p *Performer) Rest(l musictime.NoteLen) error {
	p.checkpoint()
	d, err := l.Duration(p.Tempo())
	if err != nil {
		return err
	}
	p.r.v.deps.Dispatcher.Rest(p.r.ctx, l)
	p.sleep(d)
	return nil
}

// Sleep holds the body for a wall-clock duration.
func (p *Performer) Sleep(d time.Duration) {
	p.sleep(d)
}

// WaitFor holds the body until the named event is published. Only events
// published after the call count.
func (p *Performer) WaitFor(name string) error {
	p.checkpoint()
	err := p.r.v.deps.Bus.WaitFor(p.r.ctx, name)
	p.checkpoint()
	if err != nil {
		p.Log().Warn("wait failed", zap.String("event", name), zap.Error(err))
	}
	return err
}

// Trigger publishes the named event.
func (p *Performer) Trigger(name string) error {
	p.checkpoint()
	return p.r.v.deps.Bus.Publish(p.r.ctx, name)
}

// Tempo is the engine tempo right now.
func (p *Performer) Tempo() float64 { return p.r.v.deps.Tempo() }

func (p *Performer) Target() midi.Target { return p.r.v.target }

func (p *Performer) Iteration() int { return p.r.Iteration() }

// Context is cancelled when the run is stopped.
func (p *Performer) Context() context.Context { return p.r.ctx }

func (p *Performer) Log() *zap.Logger {
	return p.r.v.deps.Log.With(zap.String("voice", p.r.v.name))
}
