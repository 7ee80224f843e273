package midi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"midi-daw/musictime"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// ErrInvalidMsg is returned by the message constructors for out of range
// fields.
var ErrInvalidMsg = errors.New("invalid midi message")

// Msg is one outbound MIDI command: PlayNote, StopNote, CC or PitchBend.
type Msg interface {
	Kind() string
	// GoMIDI renders the message as raw MIDI for a local output port. A
	// PlayNote only yields its NoteOn; the caller owns the note-off timer.
	GoMIDI(ch Channel) gomidi.Message
}

// PlayNote starts a note that the backend will end after Length.
type PlayNote struct {
	Pitch    uint8
	Velocity uint8
	Length   musictime.NoteLen
}

// StopNote ends a sounding pitch.
type StopNote struct {
	Pitch uint8
}

// CC is a control change. Value is normalized to [0,1].
type CC struct {
	Controller uint8
	Value      float64
}

// PitchBend carries a signed 14-bit bend, 0 being center.
type PitchBend struct {
	Value int16
}

const (
	PitchBendMin = -8192
	PitchBendMax = 8191
)

func check7(what string, n int) error {
	if n < 0 || n > 127 {
		return fmt.Errorf("%w: %s %d outside [0,127]", ErrInvalidMsg, what, n)
	}
	return nil
}

func NewPlayNote(pitch, velocity int, l musictime.NoteLen) (PlayNote, error) {
	if err := check7("pitch", pitch); err != nil {
		return PlayNote{}, err
	}
	if err := check7("velocity", velocity); err != nil {
		return PlayNote{}, err
	}
	if err := l.Validate(); err != nil {
		return PlayNote{}, err
	}
	return PlayNote{Pitch: uint8(pitch), Velocity: uint8(velocity), Length: l}, nil
}

func NewStopNote(pitch int) (StopNote, error) {
	if err := check7("pitch", pitch); err != nil {
		return StopNote{}, err
	}
	return StopNote{Pitch: uint8(pitch)}, nil
}

func NewCC(controller int, value float64) (CC, error) {
	if err := check7("controller", controller); err != nil {
		return CC{}, err
	}
	if value < 0 || value > 1 || math.IsNaN(value) {
		return CC{}, fmt.Errorf("%w: cc value %v outside [0,1]", ErrInvalidMsg, value)
	}
	return CC{Controller: uint8(controller), Value: value}, nil
}

func NewPitchBend(value int) (PitchBend, error) {
	if value < PitchBendMin || value > PitchBendMax {
		return PitchBend{}, fmt.Errorf("%w: bend %d outside [%d,%d]", ErrInvalidMsg, value, PitchBendMin, PitchBendMax)
	}
	return PitchBend{Value: int16(value)}, nil
}

func (PlayNote) Kind() string  { return "PlayNote" }
func (StopNote) Kind() string  { return "StopNote" }
func (CC) Kind() string        { return "CC" }
func (PitchBend) Kind() string { return "PitchBend" }

func (m PlayNote) GoMIDI(ch Channel) gomidi.Message {
	return gomidi.NoteOn(ch.Index(), m.Pitch, m.Velocity)
}

func (m StopNote) GoMIDI(ch Channel) gomidi.Message {
	return gomidi.NoteOff(ch.Index(), m.Pitch)
}

func (m CC) GoMIDI(ch Channel) gomidi.Message {
	return gomidi.ControlChange(ch.Index(), m.Controller, m.Byte())
}

func (m PitchBend) GoMIDI(ch Channel) gomidi.Message {
	return gomidi.Pitchbend(ch.Index(), m.Value)
}

// Byte scales the normalized value to a 7-bit controller value.
func (m CC) Byte() uint8 {
	v := math.Round(m.Value * 127)
	return uint8(math.Max(0, math.Min(127, v)))
}

// Unsigned is the bend as the backend wants it, 0..16383 with 8192 center.
func (m PitchBend) Unsigned() uint16 {
	return uint16(int(m.Value) + 8192)
}

// wire shapes, matching the backend's externally tagged enums

type playNoteWire struct {
	Note     uint8             `json:"note"`
	Velocity uint8             `json:"velocity"`
	Duration musictime.NoteLen `json:"duration"`
}

type stopNoteWire struct {
	Note uint8 `json:"note"`
}

type ccWire struct {
	Control uint8 `json:"control"`
	Value   uint8 `json:"value"`
}

type bendWire struct {
	Bend uint16 `json:"bend"`
}

// EncodeMsg renders m as {"PlayNote":{...}} etc.
func EncodeMsg(m Msg) ([]byte, error) {
	var body any
	switch v := m.(type) {
	case PlayNote:
		body = playNoteWire{Note: v.Pitch, Velocity: v.Velocity, Duration: v.Length}
	case StopNote:
		body = stopNoteWire{Note: v.Pitch}
	case CC:
		body = ccWire{Control: v.Controller, Value: v.Byte()}
	case PitchBend:
		body = bendWire{Bend: v.Unsigned()}
	default:
		return nil, fmt.Errorf("%w: unknown message %T", ErrInvalidMsg, m)
	}
	return json.Marshal(map[string]any{m.Kind(): body})
}

// DecodeMsg parses the wire form back into a Msg.
func DecodeMsg(data []byte) (Msg, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("%w: expected one message tag", ErrInvalidMsg)
	}
	for tag, body := range raw {
		switch tag {
		case "PlayNote":
			var w playNoteWire
			if err := json.Unmarshal(body, &w); err != nil {
				return nil, err
			}
			return PlayNote{Pitch: w.Note, Velocity: w.Velocity, Length: w.Duration}, nil
		case "StopNote":
			var w stopNoteWire
			if err := json.Unmarshal(body, &w); err != nil {
				return nil, err
			}
			return StopNote{Pitch: w.Note}, nil
		case "CC":
			var w ccWire
			if err := json.Unmarshal(body, &w); err != nil {
				return nil, err
			}
			return CC{Controller: w.Control, Value: float64(w.Value) / 127}, nil
		case "PitchBend":
			var w bendWire
			if err := json.Unmarshal(body, &w); err != nil {
				return nil, err
			}
			return PitchBend{Value: int16(int(w.Bend) - 8192)}, nil
		default:
			return nil, fmt.Errorf("%w: unknown tag %q", ErrInvalidMsg, tag)
		}
	}
	return nil, nil
}

// Request is the body of POST /midi.
type Request struct {
	Device  string
	Channel Channel
	Msg     Msg
}

type requestWire struct {
	MidiDev string          `json:"midi_dev"`
	Channel Channel         `json:"channel"`
	Msg     json.RawMessage `json:"msg"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	msg, err := EncodeMsg(r.Msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestWire{MidiDev: r.Device, Channel: r.Channel, Msg: msg})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	msg, err := DecodeMsg(w.Msg)
	if err != nil {
		return err
	}
	*r = Request{Device: w.MidiDev, Channel: w.Channel, Msg: msg}
	return nil
}
