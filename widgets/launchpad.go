package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderPad renders a single colored pad
func RenderPad(color [3]uint8) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(rgbToHex(color)))
	return style.Render("■")
}

// RenderPadRow renders a row of colored pads with spacing
func RenderPadRow(colors [][3]uint8) string {
	var out strings.Builder
	for i, c := range colors {
		if i > 0 {
			out.WriteString(" ")
		}
		out.WriteString(RenderPad(c))
	}
	return out.String()
}

// RenderPadGrid renders an 8x8 grid of pads (row 0 at bottom, row 7 at top)
// Optional rightCol adds a 9th column (scene buttons)
func RenderPadGrid(grid [8][8][3]uint8, rightCol *[8][3]uint8) string {
	var lines []string
	for row := 7; row >= 0; row-- {
		var line strings.Builder
		for col := 0; col < 8; col++ {
			line.WriteString(RenderPad(grid[row][col]))
			line.WriteString(" ")
		}
		if rightCol != nil {
			line.WriteString(RenderPad(rightCol[row]))
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// RenderLegendItem renders a single legend item: "■ Name - description"
func RenderLegendItem(color [3]uint8, name, desc string) string {
	return fmt.Sprintf("  %s %s - %s", RenderPad(color), name, desc)
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}

// Pad is one lit button on the on-screen Launchpad, with the tooltip shown
// when the mouse is over it.
type Pad struct {
	Row, Col int
	Color    [3]uint8
	Tip      string
}

// LaunchpadHelp mirrors the controller on screen: the 8x8 grid, the scene
// column on the right and the top control row.
type LaunchpadHelp struct {
	top   [8][3]uint8
	grid  [8][8][3]uint8
	scene [8][3]uint8
	tips  map[[2]int]string
}

func NewLaunchpadHelp() *LaunchpadHelp {
	return &LaunchpadHelp{tips: make(map[[2]int]string)}
}

// SetPads replaces what the widget shows. Pads not listed are dark.
func (h *LaunchpadHelp) SetPads(pads []Pad) {
	*h = LaunchpadHelp{tips: make(map[[2]int]string)}
	for _, p := range pads {
		switch {
		case p.Row == 8 && p.Col >= 0 && p.Col < 8:
			h.top[p.Col] = p.Color
		case p.Row < 0 || p.Row > 7:
			continue
		case p.Col == 8:
			h.scene[p.Row] = p.Color
		case p.Col >= 0 && p.Col < 8:
			h.grid[p.Row][p.Col] = p.Color
		default:
			continue
		}
		if p.Tip != "" {
			h.tips[[2]int{p.Row, p.Col}] = p.Tip
		}
	}
}

// View draws the top row above the grid. Each pad is two cells wide.
func (h *LaunchpadHelp) View() string {
	return RenderPadRow(h.top[:]) + "\n" + RenderPadGrid(h.grid, &h.scene)
}

// HitTest maps a cell relative to the widget's top-left corner to a pad
// and returns its tooltip.
func (h *LaunchpadHelp) HitTest(x, y int) (bool, string) {
	if x < 0 || y < 0 || x%2 == 1 {
		return false, ""
	}
	col := x / 2
	var row int
	switch {
	case y == 0:
		row = 8
	case y <= 8:
		row = 8 - y
	default:
		return false, ""
	}
	if col > 8 || (row == 8 && col == 8) {
		return false, ""
	}
	tip, ok := h.tips[[2]int{row, col}]
	return ok, tip
}

func rgbToHex(c [3]uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}
