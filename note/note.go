// Package note turns note names, raw pitches and chords into MIDI pitch
// numbers.
package note

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPitch is returned for names that are not notes and for pitches
// outside [0,127].
var ErrInvalidPitch = errors.New("invalid pitch")

// DefaultOctave is used when a name carries no octave, so "c#" is 25.
const DefaultOctave = 1

var semitones = map[byte]int{
	'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11,
}

// Resolve parses <letter>[#|b]<octave> into a pitch. "c4" is 60.
func Resolve(name string) (uint8, error) {
	s := strings.ToLower(strings.ReplaceAll(name, " ", ""))
	if s == "" {
		return 0, fmt.Errorf("%w: empty note name", ErrInvalidPitch)
	}
	semi, ok := semitones[s[0]]
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a note", ErrInvalidPitch, name)
	}
	rest := s[1:]
	if rest != "" {
		switch rest[0] {
		case '#':
			// there is no b# or e#
			if s[0] == 'b' || s[0] == 'e' {
				return 0, fmt.Errorf("%w: %q is not a real note", ErrInvalidPitch, name)
			}
			semi++
			rest = rest[1:]
		case 'b':
			if s[0] == 'c' || s[0] == 'f' {
				return 0, fmt.Errorf("%w: %q is not a real note", ErrInvalidPitch, name)
			}
			semi--
			rest = rest[1:]
		}
	}

	octave := DefaultOctave
	if rest != "" {
		o, err := strconv.Atoi(rest)
		if err != nil {
			return 0, fmt.Errorf("%w: bad octave in %q", ErrInvalidPitch, name)
		}
		octave = o
	}

	return Pitch((octave+1)*12 + semi)
}

// Pitch validates a raw pitch number.
func Pitch(n int) (uint8, error) {
	if n < 0 || n > 127 {
		return 0, fmt.Errorf("%w: %d outside [0,127]", ErrInvalidPitch, n)
	}
	return uint8(n), nil
}

// Clamp forces n into [0,127].
func Clamp(n int) uint8 {
	switch {
	case n < 0:
		return 0
	case n > 127:
		return 127
	}
	return uint8(n)
}

// Transpose shifts p by semitones, clamping at the MIDI range edges.
func Transpose(p uint8, semitones int) uint8 {
	return Clamp(int(p) + semitones)
}

// OctaveUp is the wrapping octave shift used by the grid editor. The result
// always stays in [24,127].
func OctaveUp(n uint8) uint8 {
	return uint8((int(n)+12)%104 + 24)
}

// OctaveDown undoes OctaveUp for pitches in [24,127] and, like it, keeps
// the result in [24,127].
func OctaveDown(n uint8) uint8 {
	return uint8(((int(n)-60)%104+104)%104 + 24)
}

var displayNames = [12]string{
	"C-", "C#", "D-", "D#", "E-", "F-", "F#", "G-", "G#", "A-", "A#", "B-",
}

// Display renders p in tracker form: 60 is "C-4", 61 is "C#4".
func Display(p uint8) string {
	return fmt.Sprintf("%s%d", displayNames[p%12], int(p)/12-1)
}
