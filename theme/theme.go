package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Theme colours the grid editor from a single palette.
type Theme struct {
	Palette *Palette
	Symbols Symbols
}

// Symbols mark sequence and step state in the editor.
type Symbols struct {
	Playhead rune // ▶ step the clock is on

	// sequence list
	Playing  rune
	Queued   rune // waiting for the bar
	Stopping rune // finishing its pattern
	Stopped  rune
}

func New(palette *Palette) *Theme {
	if palette == nil {
		palette = Plasma()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			Playhead: '▶',
			Playing:  '●',
			Queued:   '◌',
			Stopping: '◐',
			Stopped:  '·',
		},
	}
}

// Roles are palette positions in [0,1].
const (
	RoleBG      = 0.0
	RoleMuted   = 0.2
	RoleFG      = 0.4
	RoleAccent  = 0.5
	RoleCursor  = 0.6
	RoleWarning = 0.8
	RoleSuccess = 1.0
)

func (t *Theme) BG() lipgloss.Color      { return t.Color(RoleBG) }
func (t *Theme) FG() lipgloss.Color      { return t.Color(RoleFG) }
func (t *Theme) Accent() lipgloss.Color  { return t.Color(RoleAccent) }
func (t *Theme) Muted() lipgloss.Color   { return t.Color(RoleMuted) }
func (t *Theme) Cursor() lipgloss.Color  { return t.Color(RoleCursor) }
func (t *Theme) Warning() lipgloss.Color { return t.Color(RoleWarning) }
func (t *Theme) Success() lipgloss.Color { return t.Color(RoleSuccess) }

// Color returns the palette colour at norm.
func (t *Theme) Color(norm float64) lipgloss.Color {
	c := t.Palette.Lookup(norm)
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}

// Velocity shades a MIDI velocity from the muted end of the palette up to
// the bright end.
func (t *Theme) Velocity(v uint8) lipgloss.Color {
	if v > 127 {
		v = 127
	}
	return t.Color(RoleMuted + (1-RoleMuted)*float64(v)/127)
}
