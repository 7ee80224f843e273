package note

import (
	"fmt"
	"strings"
)

// Arg is what a performer hands to Note: a raw pitch, a note name or a
// chord of either. It is normalized once into a flat pitch list.
type Arg interface {
	pitches() ([]uint8, error)
}

// P is a raw pitch argument.
type P int

// Name is a note-name argument such as "c#4".
type Name string

// Chord is a list of single pitches. Chords may not nest.
type Chord []Arg

func (p P) pitches() ([]uint8, error) {
	v, err := Pitch(int(p))
	if err != nil {
		return nil, err
	}
	return []uint8{v}, nil
}

func (n Name) pitches() ([]uint8, error) {
	v, err := Resolve(string(n))
	if err != nil {
		return nil, err
	}
	return []uint8{v}, nil
}

func (c Chord) pitches() ([]uint8, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("%w: empty chord", ErrInvalidPitch)
	}
	out := make([]uint8, 0, len(c))
	for _, a := range c {
		if _, nested := a.(Chord); nested {
			return nil, fmt.Errorf("%w: chords cannot contain chords", ErrInvalidPitch)
		}
		if a == nil {
			return nil, fmt.Errorf("%w: nil chord member", ErrInvalidPitch)
		}
		ps, err := a.pitches()
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// Normalize flattens a into the pitches to play, in order.
func Normalize(a Arg) ([]uint8, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: no note given", ErrInvalidPitch)
	}
	return a.pitches()
}

// Notes builds a chord from names: Notes("c4", "e4", "g4").
func Notes(names ...string) Chord {
	c := make(Chord, len(names))
	for i, n := range names {
		c[i] = Name(n)
	}
	return c
}

// Pitches builds a chord from raw pitch numbers.
func Pitches(ps ...int) Chord {
	c := make(Chord, len(ps))
	for i, p := range ps {
		c[i] = P(p)
	}
	return c
}

// Parse reads the loose text form used in config files and the grid editor:
// "60", "c#4" or a comma separated chord "c4,e4,g4".
func Parse(s string) (Arg, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		var c Chord
		for _, part := range strings.Split(s, ",") {
			a, err := Parse(part)
			if err != nil {
				return nil, err
			}
			c = append(c, a)
		}
		return c, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && fmt.Sprint(n) == s {
		return P(n), nil
	}
	if _, err := Resolve(s); err != nil {
		return nil, err
	}
	return Name(s), nil
}
