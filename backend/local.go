package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"midi-daw/midi"
	"midi-daw/musictime"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

// Sender writes one raw message to an output port.
type Sender func(gomidi.Message) error

// Ports abstracts the MIDI driver so Local can run against fakes.
type Ports interface {
	// Outs lists output port names.
	Outs() []string
	// Open returns a sender for the named output port.
	Open(name string) (Sender, error)
	// OpenVirtual creates a virtual output port.
	OpenVirtual(name string) (Sender, error)
}

// Local is a Transport that drives gomidi output ports directly, without
// a server. It plays the role the server does: PlayNote becomes a NoteOn
// now and a NoteOff once the note length has elapsed.
type Local struct {
	ports Ports
	clock *musictime.Clock
	log   *zap.Logger

	senders   map[string]Sender
	sendersMu sync.RWMutex

	virtual []string

	// pending note-offs, flushed on Close
	timers   map[*time.Timer]func()
	timersMu sync.Mutex
}

type LocalOption func(*Local)

func WithPorts(p Ports) LocalOption {
	return func(l *Local) { l.ports = p }
}

func WithLocalLogger(log *zap.Logger) LocalOption {
	return func(l *Local) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock shares a tempo clock with the caller.
func WithClock(c *musictime.Clock) LocalOption {
	return func(l *Local) { l.clock = c }
}

func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		ports:   DriverPorts{},
		clock:   musictime.NewClock(musictime.DefaultTempo),
		log:     zap.NewNop(),
		senders: make(map[string]Sender),
		timers:  make(map[*time.Timer]func()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// getSender returns a sender for the given port name, lazily opening it
func (l *Local) getSender(name string) (Sender, error) {
	l.sendersMu.RLock()
	if s, ok := l.senders[name]; ok {
		l.sendersMu.RUnlock()
		return s, nil
	}
	l.sendersMu.RUnlock()

	l.sendersMu.Lock()
	defer l.sendersMu.Unlock()

	if s, ok := l.senders[name]; ok {
		return s, nil
	}
	s, err := l.ports.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrTransport, name, err)
	}
	l.senders[name] = s
	return s, nil
}

func (l *Local) Send(ctx context.Context, req midi.Request) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	send, err := l.getSender(req.Device)
	if err != nil {
		return err
	}
	if err := send(req.Msg.GoMIDI(req.Channel)); err != nil {
		return fmt.Errorf("%w: send to %q: %v", ErrTransport, req.Device, err)
	}

	play, ok := req.Msg.(midi.PlayNote)
	if !ok {
		return nil
	}
	d, err := l.clock.Duration(play.Length)
	if err != nil {
		return err
	}
	off := midi.StopNote{Pitch: play.Pitch}.GoMIDI(req.Channel)
	l.schedule(d, func() {
		if err := send(off); err != nil {
			l.log.Warn("note off failed", zap.String("device", req.Device), zap.Error(err))
		}
	})
	return nil
}

func (l *Local) schedule(d time.Duration, fn func()) {
	l.timersMu.Lock()
	defer l.timersMu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		l.timersMu.Lock()
		_, live := l.timers[t]
		delete(l.timers, t)
		l.timersMu.Unlock()
		if live {
			fn()
		}
	})
	l.timers[t] = fn
}

// Devices lists hardware outputs followed by virtual ports created here.
func (l *Local) Devices(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, name := range l.ports.Outs() {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	l.sendersMu.RLock()
	for _, name := range l.virtual {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	l.sendersMu.RUnlock()
	return out, nil
}

func (l *Local) SetTempo(ctx context.Context, bpm float64) error {
	return l.clock.SetTempo(bpm)
}

func (l *Local) Tempo(ctx context.Context) (float64, error) {
	return l.clock.Tempo(), nil
}

func (l *Local) NewDevice(ctx context.Context, name string) error {
	l.sendersMu.Lock()
	defer l.sendersMu.Unlock()
	if _, ok := l.senders[name]; ok {
		return nil
	}
	s, err := l.ports.OpenVirtual(name)
	if err != nil {
		return fmt.Errorf("%w: virtual port %q: %v", ErrTransport, name, err)
	}
	l.senders[name] = s
	l.virtual = append(l.virtual, name)
	l.log.Info("virtual output created", zap.String("device", name))
	return nil
}

func (l *Local) Rest(ctx context.Context, n musictime.NoteLen) error {
	return n.Validate()
}

// Close sends every pending note-off now.
func (l *Local) Close() error {
	l.timersMu.Lock()
	pending := l.timers
	l.timers = make(map[*time.Timer]func())
	l.timersMu.Unlock()
	// timers already firing see themselves gone from the map and skip
	for t, fn := range pending {
		t.Stop()
		fn()
	}
	return nil
}

// DriverPorts is whatever gomidi driver the binary registered.
type DriverPorts struct{}

func (DriverPorts) Outs() []string {
	var names []string
	for _, p := range gomidi.GetOutPorts() {
		names = append(names, p.String())
	}
	return names
}

func (DriverPorts) Open(name string) (Sender, error) {
	for _, port := range gomidi.GetOutPorts() {
		if port.String() == name {
			send, err := gomidi.SendTo(port)
			if err != nil {
				return nil, err
			}
			return send, nil
		}
	}
	return nil, fmt.Errorf("no output port named %q", name)
}

type virtualOuts interface {
	OpenVirtualOut(name string) (drivers.Out, error)
}

func (DriverPorts) OpenVirtual(name string) (Sender, error) {
	drv, ok := drivers.Get().(virtualOuts)
	if !ok {
		return nil, fmt.Errorf("midi driver cannot create virtual ports")
	}
	port, err := drv.OpenVirtualOut(name)
	if err != nil {
		return nil, err
	}
	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, err
	}
	return send, nil
}
