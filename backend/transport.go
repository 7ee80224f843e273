// Package backend talks to the process that owns the MIDI output ports.
//
// Two transports exist: Client reaches the midi-daw server over its Unix
// socket, Local drives gomidi output ports in-process.
package backend

import (
	"context"
	"errors"

	"midi-daw/midi"
	"midi-daw/musictime"
)

// DefaultSocket is where the midi-daw server listens.
const DefaultSocket = "/tmp/midi-daw.sock"

// ErrTransport is returned when a request could not be delivered or the
// backend answered with a non-2xx status.
var ErrTransport = errors.New("transport error")

// Transport is everything the engine needs from a MIDI backend.
type Transport interface {
	// Send delivers one message. It returns once the backend accepted it,
	// not when a note finishes.
	Send(ctx context.Context, req midi.Request) error
	// Devices lists the output device names, ordered and unique.
	Devices(ctx context.Context) ([]string, error)
	SetTempo(ctx context.Context, bpm float64) error
	Tempo(ctx context.Context) (float64, error)
	// NewDevice registers a virtual output port.
	NewDevice(ctx context.Context, name string) error
	// Rest tells the backend a rest of length l happened. Advisory.
	Rest(ctx context.Context, l musictime.NoteLen) error
}
