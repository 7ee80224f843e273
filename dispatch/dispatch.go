// Package dispatch delivers messages to a backend, either on the caller's
// goroutine or in the background. Delivery failures are logged and handed
// back but never retried: a late note is worse than a dropped one.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"midi-daw/backend"
	"midi-daw/midi"
	"midi-daw/musictime"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single send.
const DefaultTimeout = 2 * time.Second

// Dispatcher sends midi.Requests through a backend.Transport.
type Dispatcher struct {
	t       backend.Transport
	log     *zap.Logger
	timeout time.Duration

	wg       sync.WaitGroup
	inFlight atomic.Int64
	dropped  atomic.Int64
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithTimeout sets the per-send timeout. Zero disables it.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

func New(t backend.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{t: t, log: zap.NewNop(), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Transport returns the backend the dispatcher sends through.
func (d *Dispatcher) Transport() backend.Transport { return d.t }

// Send delivers exactly one message to target. With blocking set it
// returns once the backend answered, and returns the transport error if
// any. Otherwise it returns nil at once and delivers in the background.
func (d *Dispatcher) Send(ctx context.Context, target midi.Target, msg midi.Msg, blocking bool) error {
	req := midi.Request{Device: target.Device, Channel: target.Channel, Msg: msg}
	if blocking {
		return d.deliver(ctx, req)
	}
	d.Go(func() { d.deliver(context.WithoutCancel(ctx), req) })
	return nil
}

// Go runs fn in the background, tracked like an async send.
func (d *Dispatcher) Go(fn func()) {
	d.wg.Add(1)
	d.inFlight.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)
		fn()
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, req midi.Request) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	err := d.t.Send(ctx, req)
	if err != nil {
		d.dropped.Add(1)
		d.log.Warn("midi send failed",
			zap.String("device", req.Device),
			zap.Stringer("channel", req.Channel),
			zap.String("msg", req.Msg.Kind()),
			zap.Error(err))
	}
	return err
}

// Rest posts an advisory rest in the background.
func (d *Dispatcher) Rest(ctx context.Context, l musictime.NoteLen) {
	d.Go(func() {
		ctx := context.WithoutCancel(ctx)
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		if err := d.t.Rest(ctx, l); err != nil {
			d.log.Debug("rest not recorded", zap.Error(err))
		}
	})
}

// InFlight is the number of background sends not yet finished.
func (d *Dispatcher) InFlight() int { return int(d.inFlight.Load()) }

// Dropped counts sends that failed since start.
func (d *Dispatcher) Dropped() int { return int(d.dropped.Load()) }

// Wait blocks until every background send finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
