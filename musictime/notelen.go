package musictime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDuration is returned for note lengths or tempos that cannot be
// turned into a real-time duration.
var ErrInvalidDuration = errors.New("invalid duration")

// Unit is a symbolic note length. The zero Unit is unset.
type Unit int

const (
	Whole Unit = iota + 1
	Half
	Quarter
	Eighth
	Sixteenth
	ThirtySecond
	SixtyFourth
	DottedQuarter
)

// beats per unit, a quarter note being one beat
var unitBeats = map[Unit]float64{
	Whole:         4,
	Half:          2,
	Quarter:       1,
	Eighth:        0.5,
	Sixteenth:     0.25,
	ThirtySecond:  0.125,
	SixtyFourth:   0.0625,
	DottedQuarter: 1.5,
}

// wire names used by the backend
var unitTags = map[Unit]string{
	Whole:        "Wn",
	Half:         "Hn",
	Quarter:      "Qn",
	Eighth:       "En",
	Sixteenth:    "Sn",
	ThirtySecond: "Tn",
	SixtyFourth:  "S4n",
}

func (u Unit) String() string {
	switch u {
	case Whole:
		return "whole"
	case Half:
		return "half"
	case Quarter:
		return "quarter"
	case Eighth:
		return "eighth"
	case Sixteenth:
		return "sixteenth"
	case ThirtySecond:
		return "thirty-second"
	case SixtyFourth:
		return "sixty-fourth"
	case DottedQuarter:
		return "dotted-quarter"
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// NoteLen is a unit repeated Multiplier times, e.g. Sn(3) is three sixteenths.
type NoteLen struct {
	Unit       Unit
	Multiplier int
}

func mk(u Unit, n []int) NoteLen {
	m := 1
	if len(n) > 0 {
		m = n[0]
	}
	return NoteLen{Unit: u, Multiplier: m}
}

func Wn(n ...int) NoteLen       { return mk(Whole, n) }
func Hn(n ...int) NoteLen       { return mk(Half, n) }
func Qn(n ...int) NoteLen       { return mk(Quarter, n) }
func En(n ...int) NoteLen       { return mk(Eighth, n) }
func Sn(n ...int) NoteLen       { return mk(Sixteenth, n) }
func Tn(n ...int) NoteLen       { return mk(ThirtySecond, n) }
func S4n(n ...int) NoteLen      { return mk(SixtyFourth, n) }
func DottedQn(n ...int) NoteLen { return mk(DottedQuarter, n) }

// IsZero reports whether l has no unit, which the note API treats as
// "no length" (a note release). Wn(0) has a unit and is simply invalid.
func (l NoteLen) IsZero() bool {
	return l.Unit == 0
}

// Validate checks the multiplier and unit.
func (l NoteLen) Validate() error {
	if _, ok := unitBeats[l.Unit]; !ok {
		return fmt.Errorf("%w: unknown unit %d", ErrInvalidDuration, int(l.Unit))
	}
	if l.Multiplier <= 0 {
		return fmt.Errorf("%w: multiplier must be >= 1, got %d", ErrInvalidDuration, l.Multiplier)
	}
	return nil
}

// Beats returns the length in quarter-note beats.
func (l NoteLen) Beats() (float64, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}
	return unitBeats[l.Unit] * float64(l.Multiplier), nil
}

// Seconds converts l to seconds at the given tempo.
func (l NoteLen) Seconds(bpm float64) (float64, error) {
	if bpm <= 0 {
		return 0, fmt.Errorf("%w: tempo must be positive, got %v", ErrInvalidDuration, bpm)
	}
	beats, err := l.Beats()
	if err != nil {
		return 0, err
	}
	return (60 / bpm) * beats, nil
}

// Duration converts l to a time.Duration at the given tempo.
func (l NoteLen) Duration(bpm float64) (time.Duration, error) {
	s, err := l.Seconds(bpm)
	if err != nil {
		return 0, err
	}
	return time.Duration(s * float64(time.Second)), nil
}

// DurationSeconds is the functional form of NoteLen.Seconds.
func DurationSeconds(l NoteLen, bpm float64) (float64, error) {
	return l.Seconds(bpm)
}

func (l NoteLen) String() string {
	return fmt.Sprintf("%s*%d", l.Unit, l.Multiplier)
}

// MarshalJSON encodes l the way the backend expects: {"Qn":1}. Dotted
// quarters have no backend tag and are sent as three eighths each.
func (l NoteLen) MarshalJSON() ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	u, m := l.Unit, l.Multiplier
	if u == DottedQuarter {
		u, m = Eighth, m*3
	}
	return json.Marshal(map[string]int{unitTags[u]: m})
}

func (l *NoteLen) UnmarshalJSON(data []byte) error {
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("%w: expected a single unit tag, got %s", ErrInvalidDuration, data)
	}
	for tag, m := range raw {
		for u, t := range unitTags {
			if t == tag {
				*l = NoteLen{Unit: u, Multiplier: m}
				return l.Validate()
			}
		}
		return fmt.Errorf("%w: unknown unit tag %q", ErrInvalidDuration, tag)
	}
	return nil
}
