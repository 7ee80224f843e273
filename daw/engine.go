// Package daw wires the engine together: shared state, the backend
// transport, dispatch, device resolution, the event bus and the voice
// registry. Performance programs talk to an Engine and nothing else.
package daw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"midi-daw/automation"
	"midi-daw/backend"
	"midi-daw/config"
	"midi-daw/dispatch"
	"midi-daw/eventbus"
	"midi-daw/midi"
	"midi-daw/musictime"
	"midi-daw/resolve"
	"midi-daw/voice"

	"go.uber.org/zap"
)

// AllNotesOff is the channel-mode controller that silences a channel.
const AllNotesOff = 123

type options struct {
	transport backend.Transport
	bus       eventbus.Bus
	log       *zap.Logger
	socket    string
	timeout   time.Duration
	tempo     float64
	target    midi.Target
	strict    bool
	resolver  []resolve.Option
}

type Option func(*options)

// WithTransport replaces the socket client, e.g. with backend.Local.
func WithTransport(t backend.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithBus replaces the websocket bus.
func WithBus(b eventbus.Bus) Option {
	return func(o *options) { o.bus = b }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithSocket points the default client and bus at another backend socket.
func WithSocket(path string) Option {
	return func(o *options) { o.socket = path }
}

// WithSendTimeout bounds each backend send.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithTempo(bpm float64) Option {
	return func(o *options) { o.tempo = bpm }
}

// WithDefaultTarget sets the target voices get when they name none.
func WithDefaultTarget(t midi.Target) Option {
	return func(o *options) { o.target = t }
}

// WithStrictTargets makes an unknown device an error instead of a warning.
func WithStrictTargets() Option {
	return func(o *options) { o.strict = true }
}

func WithResolverOptions(opts ...resolve.Option) Option {
	return func(o *options) { o.resolver = append(o.resolver, opts...) }
}

// FromConfig turns a config into engine options.
func FromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithSocket(cfg.Backend.Socket),
		WithSendTimeout(cfg.Backend.Timeout.Std()),
		WithTempo(cfg.Tempo),
		WithDefaultTarget(cfg.DefaultTarget),
		WithResolverOptions(
			resolve.WithMaxDistance(cfg.Resolver.MaxDistance),
			resolve.WithCacheTTL(cfg.Resolver.CacheTTL.Std()),
		),
	}
	if cfg.Resolver.Strict {
		opts = append(opts, WithStrictTargets())
	}
	return opts
}

// Engine is the process facade.
type Engine struct {
	state    *State
	t        backend.Transport
	disp     *dispatch.Dispatcher
	resolver *resolve.Resolver
	bus      eventbus.Bus
	reg      *voice.Registry
	log      *zap.Logger
	strict   bool
}

func New(opts ...Option) *Engine {
	o := options{
		log:     zap.NewNop(),
		socket:  backend.DefaultSocket,
		timeout: dispatch.DefaultTimeout,
		tempo:   musictime.DefaultTempo,
		target:  midi.DefaultTarget(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = backend.NewClient(o.socket, backend.WithLogger(o.log.Named("backend")))
	}
	if o.bus == nil {
		o.bus = eventbus.NewSocket(o.socket, eventbus.WithLogger(o.log.Named("bus")))
	}

	return &Engine{
		state: NewState(o.tempo, o.target),
		t:     o.transport,
		disp: dispatch.New(o.transport,
			dispatch.WithLogger(o.log.Named("dispatch")),
			dispatch.WithTimeout(o.timeout)),
		resolver: resolve.New(o.transport,
			append([]resolve.Option{resolve.WithLogger(o.log.Named("resolve"))}, o.resolver...)...),
		bus:    o.bus,
		reg:    voice.NewRegistry(),
		log:    o.log,
		strict: o.strict,
	}
}

func (e *Engine) State() *State { return e.state }

func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.disp }

func (e *Engine) Resolver() *resolve.Resolver { return e.resolver }

func (e *Engine) Bus() eventbus.Bus { return e.bus }

func (e *Engine) Registry() *voice.Registry { return e.reg }

// Deps are the services handed to every voice.
func (e *Engine) Deps() voice.Deps {
	return voice.Deps{
		Dispatcher: e.disp,
		Bus:        e.bus,
		Tempo:      e.state.Tempo,
		Registry:   e.reg,
		Log:        e.log.Named("voice"),
	}
}

// DefaultTarget is the target voices get when they name none.
func (e *Engine) DefaultTarget() midi.Target { return e.state.Target() }

// Target resolves device against the backend's device list. An empty
// device means the default device. When nothing matches, the literal name
// is used and a warning logged, unless the engine is strict.
func (e *Engine) Target(ctx context.Context, device string, ch midi.Channel) (midi.Target, error) {
	if device == "" {
		device = e.state.Target().Device
	}
	t, err := e.resolver.Resolve(ctx, device, ch)
	if err == nil {
		return t, nil
	}
	if e.strict {
		return t, err
	}
	e.log.Warn("device not found, using name as given", zap.String("device", device), zap.Error(err))
	return t, nil
}

// PlayOn registers body on target and starts it. The target's device
// goes through resolution first, so "microkorg" finds "microKORG2 MIDI 1".
func (e *Engine) PlayOn(ctx context.Context, target midi.Target, body voice.Body, opts ...voice.Option) (*voice.Run, error) {
	t, err := e.Target(ctx, target.Device, target.Channel)
	if err != nil {
		return nil, err
	}
	opts = append([]voice.Option{voice.Named(voice.Name(body, t))}, opts...)
	v, err := voice.New(t, e.Deps(), body, opts...)
	if err != nil {
		return nil, err
	}
	return v.Play(ctx), nil
}

// Play is PlayOn with the default target.
func (e *Engine) Play(ctx context.Context, body voice.Body, opts ...voice.Option) (*voice.Run, error) {
	return e.PlayOn(ctx, e.DefaultTarget(), body, opts...)
}

// PlayOnAutomated is PlayOn for a body fed by an automation.
func (e *Engine) PlayOnAutomated(ctx context.Context, target midi.Target, a automation.Automation, body voice.AutomatedBody, opts ...voice.Option) (*voice.Run, error) {
	t, err := e.Target(ctx, target.Device, target.Channel)
	if err != nil {
		return nil, err
	}
	opts = append([]voice.Option{voice.Named(voice.Name(body, t))}, opts...)
	v, err := voice.NewAutomated(t, e.Deps(), a, body, opts...)
	if err != nil {
		return nil, err
	}
	return v.Play(ctx), nil
}

// Automation builds an automation whose tick follows the engine tempo.
func (e *Engine) Automation(cfg automation.Config) (automation.Automation, error) {
	return automation.Build(cfg, automation.WithTempo(e.state.Tempo))
}

// Stop stops the named voice. It reports whether it was running.
func (e *Engine) Stop(name string) bool {
	return e.reg.Stop(name)
}

// StopAll stops every voice and returns how many there were.
func (e *Engine) StopAll() int {
	return e.reg.StopAll()
}

// Running lists the names of the voices with a live run.
func (e *Engine) Running() []string { return e.reg.Names() }

// SetMidiOutput resolves device and makes it the default for voices
// registered from now on. Running voices keep their target.
func (e *Engine) SetMidiOutput(ctx context.Context, device string) error {
	t, err := e.Target(ctx, device, e.state.Target().Channel)
	if err != nil {
		return err
	}
	e.state.SetDevice(t.Device)
	e.log.Info("default output", zap.String("device", t.Device))
	return nil
}

// SetMidiChannel changes the default channel for new voices.
func (e *Engine) SetMidiChannel(ch midi.Channel) {
	e.state.SetChannel(ch)
}

// SetTempo changes the tempo. Voices pick it up at their next note. The
// backend is told too; if it cannot be reached the local tempo still
// changes and the error is returned.
func (e *Engine) SetTempo(ctx context.Context, bpm float64) error {
	if err := e.state.SetTempo(bpm); err != nil {
		return err
	}
	if err := e.t.SetTempo(ctx, bpm); err != nil {
		e.log.Warn("backend tempo not updated", zap.Float64("bpm", bpm), zap.Error(err))
		return err
	}
	return nil
}

func (e *Engine) Tempo() float64 { return e.state.Tempo() }

// Devices lists the backend's outputs, bypassing the cache.
func (e *Engine) Devices(ctx context.Context) ([]string, error) {
	return e.resolver.Refresh(ctx)
}

// NewDevice asks the backend for a virtual output called name.
func (e *Engine) NewDevice(ctx context.Context, name string) error {
	if err := e.t.NewDevice(ctx, name); err != nil {
		return err
	}
	_, err := e.resolver.Refresh(ctx)
	return err
}

// AllOff stops every voice playing on target, then sends All Notes Off
// on its channel.
func (e *Engine) AllOff(ctx context.Context, target midi.Target) error {
	t, err := e.Target(ctx, target.Device, target.Channel)
	if err != nil {
		return err
	}
	for _, name := range e.reg.Names() {
		if r, ok := e.reg.Get(name); ok && r.Voice().Target() == t {
			e.reg.Stop(name)
		}
	}
	return e.disp.Send(ctx, t, midi.CC{Controller: AllNotesOff, Value: 0}, true)
}

func (e *Engine) WaitFor(ctx context.Context, event string) error {
	return e.bus.WaitFor(ctx, event)
}

func (e *Engine) Trigger(ctx context.Context, event string) error {
	return e.bus.Publish(ctx, event)
}

// Close stops every voice, waits for background sends and closes the
// transport if it holds resources.
func (e *Engine) Close(ctx context.Context) error {
	n := e.StopAll()
	err := e.disp.Wait(ctx)
	if c, ok := e.t.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	if err != nil {
		return fmt.Errorf("daw close: %w", err)
	}
	e.log.Info("engine closed", zap.Int("voices", n), zap.Int("dropped", e.disp.Dropped()))
	return nil
}
