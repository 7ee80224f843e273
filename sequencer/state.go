package sequencer

import (
	"fmt"

	"midi-daw/midi"
	"midi-daw/note"
)

// NumSteps is the length of a new sequence: one bar of sixteenths.
const NumSteps = 16

// DefaultVelocity is used when a note is set without one.
const DefaultVelocity = 90

// Step is one sixteenth of a sequence. A step that is not On plays nothing.
type Step struct {
	On       bool  `json:"on"`
	Note     uint8 `json:"note"`
	Velocity uint8 `json:"velocity"`
}

// Sequence is a named step pattern bound to an output target.
type Sequence struct {
	Name   string      `json:"name"`
	Target midi.Target `json:"target"`
	Steps  []Step      `json:"steps"`
}

// NewSequence creates an empty sequence of n steps (NumSteps if n <= 0).
func NewSequence(name string, target midi.Target, n int) *Sequence {
	if n <= 0 {
		n = NumSteps
	}
	return &Sequence{Name: name, Target: target, Steps: make([]Step, n)}
}

func (s *Sequence) clone() *Sequence {
	c := *s
	c.Steps = append([]Step(nil), s.Steps...)
	return &c
}

// Row is one line of the grid editor: note, velocity and two command
// columns.
type Row [4]string

const (
	emptyNote = "---"
	emptyCmd  = "----"
)

// Row renders the step for the grid. Velocities are right aligned in three columns
// padded with '-', so 90 shows as "-90".
func (s Step) Row() Row {
	if !s.On {
		return Row{emptyNote, emptyNote, emptyCmd, emptyCmd}
	}
	return Row{note.Display(s.Note), fmt.Sprintf("%3d", s.Velocity), emptyCmd, emptyCmd}.dashed()
}

func (r Row) dashed() Row {
	b := []byte(r[1])
	for i := range b {
		if b[i] != ' ' {
			break
		}
		b[i] = '-'
	}
	r[1] = string(b)
	return r
}

// header returns the two rows shown above the steps.
func (s *Sequence) header() []Row {
	return []Row{
		{s.Name, "vel", "cmd1", "cmd2"},
		{s.Target.Device, s.Target.Channel.String(), emptyCmd, emptyCmd},
	}
}

// SeqName pairs a sequence with the device it plays on.
type SeqName struct {
	Name   string
	Device string
}
