package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"midi-daw/debug"
	"midi-daw/midi"
	"midi-daw/note"
	"midi-daw/sequencer"
	"midi-daw/theme"
	"midi-daw/widgets"
)

// Clock is the tempo control the editor drives. *daw.Engine satisfies it.
type Clock interface {
	Tempo() float64
	SetTempo(ctx context.Context, bpm float64) error
}

// Tempo keys stay inside this range.
const (
	MinTempo = 20
	MaxTempo = 300
)

// layoutBounds holds cached layout info
type layoutBounds struct {
	lpHelpTop    int
	lpHelpHeight int
}

// inputMode is what a line of typed text will be used for.
type inputMode int

const (
	inputNone inputMode = iota
	inputNewSeq
	inputRename
	inputDevice
	inputSave
	inputLoad
	inputSaveProject
	inputLoadProject
)

var inputLabels = map[inputMode]string{
	inputNewSeq:      "New sequence name",
	inputRename:      "Rename to",
	inputDevice:      "Device",
	inputSave:        "Save sequence as",
	inputLoad:        "Load sequence",
	inputSaveProject: "Save project as",
	inputLoadProject: "Load project",
}

type Model struct {
	Seq       *sequencer.Manager
	Clock     Clock
	DeviceMgr *midi.DeviceManager
	Theme     *theme.Theme
	Target    midi.Target // for new sequences
	Log       *zap.Logger

	lpHelp     *widgets.LaunchpadHelp
	bounds     *layoutBounds
	controller midi.Controller // current controller (may be nil)
	notes      chan midi.NoteEvent

	seqIdx int
	cursor int // step under the cursor
	column int // 0 note, 1 velocity
	kit    string

	input   inputMode
	buffer  string
	status  string
	tooltip string

	showHelp bool
	quitting bool
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

// NoteMsg is a note from a keyboard controller, entered at the cursor.
type NoteMsg midi.NoteEvent

func NewModel(seq *sequencer.Manager, clock Clock, deviceMgr *midi.DeviceManager, th *theme.Theme) Model {
	return Model{
		Seq:       seq,
		Clock:     clock,
		DeviceMgr: deviceMgr,
		Theme:     th,
		Target:    midi.DefaultTarget(),
		Log:       zap.NewNop(),
		lpHelp:    widgets.NewLaunchpadHelp(),
		bounds:    &layoutBounds{},
		notes:     make(chan midi.NoteEvent, 32),
		kit:       sequencer.DefaultKit,
	}
}

func ListenForUpdates(seq *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-seq.UpdateChan
		return UpdateMsg{}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

// ListenForNotes delivers keyboard notes to the editor.
func ListenForNotes(notes <-chan midi.NoteEvent) tea.Cmd {
	return func() tea.Msg {
		return NoteMsg(<-notes)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{ListenForUpdates(m.Seq), ListenForNotes(m.notes)}
	if m.DeviceMgr != nil {
		cmds = append(cmds, ListenForDevices(m.DeviceMgr))
	}
	return tea.Batch(cmds...)
}

// selected returns the name of the sequence being edited, or "".
func (m Model) selected() string {
	names := m.Seq.SeqNames()
	if len(names) == 0 {
		return ""
	}
	return names[clamp(m.seqIdx, 0, len(names)-1)].Name
}

func (m Model) steps() int {
	seq, err := m.Seq.Sequence(m.selected())
	if err != nil {
		return 0
	}
	return len(seq.Steps)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.input != inputNone {
			return m.updateInput(msg), nil
		}
		return m.updateKey(msg)

	case tea.MouseMsg:
		m.tooltip = m.hitTest(msg.X, msg.Y)

	case NoteMsg:
		m.enterNote(msg.Note, msg.Velocity)
		return m, ListenForNotes(m.notes)

	case UpdateMsg:
		return m, ListenForUpdates(m.Seq)

	case DeviceEventMsg:
		event := midi.DeviceEvent(msg)
		switch event.Type {
		case midi.DeviceConnected:
			m.attach(event.Controller)
		case midi.DeviceDisconnected:
			if m.controller != nil && m.controller.ID() == event.ID {
				m.controller = nil
				m.Seq.SetController(nil)
			}
		}
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

// attach wires a new controller: Launchpads get the LED feedback and
// drive the grid, keyboard notes are entered at the cursor.
func (m *Model) attach(c midi.Controller) {
	switch c.Type() {
	case midi.ControllerLaunchpad:
		m.controller = c
		m.Seq.SetController(c)
		go func() {
			for pad := range c.PadEvents() {
				debug.LogEvery(32, "pads", "pad %d,%d", pad.Row, pad.Col)
				m.Seq.HandlePad(pad.Row, pad.Col)
			}
		}()
	case midi.ControllerKeyboard:
		notes := m.notes
		go func() {
			for ev := range c.NoteEvents() {
				select {
				case notes <- ev:
				default:
				}
			}
		}()
	}
	m.Log.Info("controller attached", zap.String("id", c.ID()), zap.Stringer("type", c.Type()))
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	name := m.selected()
	n := len(m.Seq.SeqNames())
	m.status = ""

	switch key := msg.String(); key {
	case "q", "ctrl+c":
		m.quitting = true
		m.Seq.StopAll()
		return m, tea.Quit

	case "tab":
		if n > 0 {
			m.seqIdx = (clamp(m.seqIdx, 0, n-1) + 1) % n
		}
	case "shift+tab":
		if n > 0 {
			m.seqIdx = (clamp(m.seqIdx, 0, n-1) + n - 1) % n
		}
	case "j", "down":
		m.cursor = clamp(m.cursor+1, 0, max(0, m.steps()-1))
	case "k", "up":
		m.cursor = clamp(m.cursor-1, 0, max(0, m.steps()-1))
	case "h", "left":
		m.column = 0
	case "l", "right":
		m.column = 1

	case " ":
		m.report(m.Seq.ToggleStep(name, m.cursor, m.Seq.PadPitch()))
	case "backspace", "delete":
		m.report(nil, m.Seq.SetNote(name, m.cursor, nil, nil))
	case "x", "z", "X", "Z":
		m.nudge(name, key)

	case "enter":
		m.report(m.Seq.PlaySeq(name))
	case "s":
		m.Seq.QueueStop(name)
	case "S":
		m.Seq.StopAll()

	case "+", "=":
		m.setTempo(m.Clock.Tempo() + 5)
	case "-", "_":
		m.setTempo(m.Clock.Tempo() - 5)

	case "c":
		m.shiftChannel(name, 1)
	case "C":
		m.shiftChannel(name, -1)
	case "]":
		m.report(nil, m.Seq.ChangeLen(name, 1))
	case "[":
		m.report(nil, m.Seq.ChangeLen(name, -1))
		m.cursor = clamp(m.cursor, 0, max(0, m.steps()-1))
	case "K":
		kits := sequencer.KitNames()
		for i, k := range kits {
			if k == m.kit {
				m.kit = kits[(i+1)%len(kits)]
				break
			}
		}
		m.status = "kit: " + sequencer.GetKit(m.kit).Name

	case "n":
		m.input = inputNewSeq
	case "r":
		m.startInput(inputRename, name)
	case "d":
		m.startInput(inputDevice, "")
	case "w":
		m.startInput(inputSave, name)
	case "o":
		m.startInput(inputLoad, "")
	case "W":
		m.startInput(inputSaveProject, "")
	case "O":
		m.startInput(inputLoadProject, "")
	case "1", "2", "3", "4", "5", "6", "7", "8":
		p := sequencer.GetKit(m.kit).Note(int(key[0] - '1'))
		m.Seq.SetPadPitch(p)
		m.report(nil, m.Seq.SetNote(name, m.cursor, &p, nil))
	case "?":
		m.showHelp = !m.showHelp
	case "D":
		m.report(nil, m.Seq.RemoveSeq(name))
		m.seqIdx = clamp(m.seqIdx, 0, max(0, n-2))
	}
	return m, nil
}

func (m *Model) startInput(mode inputMode, initial string) {
	if mode != inputNewSeq && mode != inputLoad && mode != inputLoadProject && mode != inputSaveProject && m.selected() == "" {
		m.status = "no sequence selected"
		return
	}
	m.input = mode
	m.buffer = initial
}

func (m Model) updateInput(msg tea.KeyMsg) Model {
	switch key := msg.String(); key {
	case "esc":
		m.input, m.buffer = inputNone, ""
	case "enter":
		m.commitInput()
		m.input, m.buffer = inputNone, ""
	case "backspace":
		if len(m.buffer) > 0 {
			m.buffer = m.buffer[:len(m.buffer)-1]
		}
	default:
		switch msg.Type {
		case tea.KeyRunes:
			m.buffer += string(msg.Runes)
		case tea.KeySpace:
			m.buffer += " "
		}
	}
	return m
}

func (m *Model) commitInput() {
	text := strings.TrimSpace(m.buffer)
	name := m.selected()
	ctx := context.Background()

	var err error
	switch m.input {
	case inputNewSeq:
		var created string
		created, err = m.Seq.NewSeq(text, m.Target)
		if err == nil {
			m.selectByName(created)
			m.status = "created " + created
		}
	case inputRename:
		if err = m.Seq.RenameSeq(name, text); err == nil {
			m.selectByName(text)
		}
	case inputDevice:
		err = m.Seq.ChangeSequenceDev(ctx, name, text)
	case inputSave:
		if text != name && text != "" {
			err = m.Seq.RenameSeq(name, text)
			name = text
		}
		if err == nil {
			err = m.Seq.Save(name)
			m.status = "saved " + name
		}
	case inputLoad:
		if err = m.Seq.Load(text); err == nil {
			m.selectByName(strings.TrimSuffix(text, ".json"))
			m.status = "loaded " + text
		}
	case inputSaveProject:
		if err = m.Seq.SaveProject(text); err == nil {
			m.status = "project saved"
		}
	case inputLoadProject:
		if err = m.Seq.LoadProject(text); err == nil {
			m.status = "project loaded"
		}
	}
	m.report(nil, err)
}

func (m *Model) selectByName(name string) {
	for i, s := range m.Seq.SeqNames() {
		if s.Name == name {
			m.seqIdx = i
			return
		}
	}
}

// nudge moves the pitch (x/z a semitone, X/Z an octave) or the velocity
// under the cursor.
func (m *Model) nudge(name, key string) {
	seq, err := m.Seq.Sequence(name)
	if err != nil || m.cursor >= len(seq.Steps) {
		return
	}
	st := seq.Steps[m.cursor]
	if !st.On {
		p := m.Seq.PadPitch()
		m.report(nil, m.Seq.SetNote(name, m.cursor, &p, nil))
		return
	}

	if m.column == 1 {
		delta := map[string]int{"x": 1, "z": -1, "X": 10, "Z": -10}[key]
		v := uint8(clamp(int(st.Velocity)+delta, 0, 127))
		m.report(nil, m.Seq.SetNote(name, m.cursor, nil, &v))
		return
	}
	var p uint8
	switch key {
	case "x":
		p = note.Transpose(st.Note, 1)
	case "z":
		p = note.Transpose(st.Note, -1)
	case "X":
		p = note.OctaveUp(st.Note)
	case "Z":
		p = note.OctaveDown(st.Note)
	}
	m.Seq.SetPadPitch(p)
	m.report(nil, m.Seq.SetNote(name, m.cursor, &p, &st.Velocity))
}

// enterNote writes a played note at the cursor and advances, tracker
// style.
func (m *Model) enterNote(p, vel uint8) {
	name := m.selected()
	if name == "" {
		return
	}
	m.Seq.SetPadPitch(p)
	if err := m.Seq.SetNote(name, m.cursor, &p, &vel); err != nil {
		m.report(nil, err)
		return
	}
	if n := m.steps(); n > 0 {
		m.cursor = (m.cursor + 1) % n
	}
}

func (m *Model) shiftChannel(name string, by int) {
	seq, err := m.Seq.Sequence(name)
	if err != nil {
		m.report(nil, err)
		return
	}
	n := (seq.Target.Channel.Number()-1+by+16)%16 + 1
	m.report(nil, m.Seq.SetChannel(name, midi.ChannelFromInt(n)))
}

func (m *Model) setTempo(bpm float64) {
	bpm = float64(clamp(int(bpm), MinTempo, MaxTempo))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Clock.SetTempo(ctx, bpm); err != nil {
		m.Log.Warn("tempo not sent to backend", zap.Error(err))
		m.status = "backend: " + err.Error()
	}
}

// report shows err on the status line; the first value is ignored so
// (value, error) calls can be passed straight in.
func (m *Model) report(_ any, err error) {
	if err != nil {
		m.status = err.Error()
		m.Log.Debug("edit rejected", zap.Error(err))
	}
}

func (m Model) hitTest(x, y int) string {
	if y >= m.bounds.lpHelpTop && y < m.bounds.lpHelpTop+m.bounds.lpHelpHeight {
		if hit, tooltip := m.lpHelp.HitTest(x, y-m.bounds.lpHelpTop); hit {
			return tooltip
		}
	}
	return ""
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	tooltipStyle := lipgloss.NewStyle().
		Foreground(m.Theme.FG()).
		Background(m.Theme.Muted()).
		Padding(0, 1)

	playState := "STOP"
	if len(m.Seq.Playing()) > 0 {
		playState = "PLAY"
	}
	deviceStatus := ""
	if m.controller != nil {
		deviceStatus = " LP:X"
	}
	header := headerStyle.Render(fmt.Sprintf("midi-daw  %s  %3.0fbpm  step:%02d%s",
		playState, m.Clock.Tempo(), m.Seq.StepN()+1, deviceStatus))

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.viewList(), "   ", m.viewGrid())

	m.lpHelp.SetPads(m.pads())
	lpView := m.lpHelp.View()

	help := dimStyle.Render("tab:seq  jk:step  space:toggle  enter:play  s:stop  +/-:tempo  ?:keys  q:quit")
	if m.showHelp {
		help = dimStyle.Render(widgets.RenderKeyHelp(keyHelp))
	}

	var bottom string
	switch {
	case m.input != inputNone:
		bottom = fmt.Sprintf("%s: %s_", inputLabels[m.input], m.buffer)
	case m.status != "":
		bottom = lipgloss.NewStyle().Foreground(m.Theme.Warning()).Render(m.status)
	}

	m.bounds.lpHelpTop = 1 + lipgloss.Height(header) + 1 + lipgloss.Height(body) + 1
	m.bounds.lpHelpHeight = lipgloss.Height(lpView)

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(body)
	out.WriteString("\n\n")
	out.WriteString(lpView)
	out.WriteString("\n\n")
	out.WriteString(help)
	if bottom != "" {
		out.WriteString("\n")
		out.WriteString(bottom)
	}
	if m.tooltip != "" {
		out.WriteString("\n")
		out.WriteString(tooltipStyle.Render(m.tooltip))
	}
	return out.String()
}

var keyHelp = []widgets.KeySection{
	{Title: "Edit", Keys: []widgets.KeyBinding{
		{Key: "j/k h/l", Desc: "step, note/velocity column"},
		{Key: "space", Desc: "toggle step"},
		{Key: "z/x Z/X", Desc: "semitone, octave (velocity column: 1, 10)"},
		{Key: "backspace", Desc: "clear step"},
		{Key: "[ ]", Desc: "shorten, lengthen"},
		{Key: "c/C", Desc: "next, previous channel"},
		{Key: "K", Desc: "cycle drum kit"},
		{Key: "1-8", Desc: "kit instrument at cursor"},
	}},
	{Title: "Play", Keys: []widgets.KeyBinding{
		{Key: "enter", Desc: "play on next bar / stop"},
		{Key: "s", Desc: "stop at pattern end"},
		{Key: "S", Desc: "stop all"},
		{Key: "+/-", Desc: "tempo"},
	}},
	{Title: "Sequences", Keys: []widgets.KeyBinding{
		{Key: "tab", Desc: "next sequence"},
		{Key: "n r D", Desc: "new, rename, delete"},
		{Key: "d", Desc: "device"},
		{Key: "w/o", Desc: "save, load sequence"},
		{Key: "W/O", Desc: "save, load project"},
	}},
}

func (m Model) statusMark(s sequencer.Status) string {
	sym := m.Theme.Symbols
	switch s {
	case sequencer.Playing:
		return string(sym.Playing)
	case sequencer.Queued:
		return string(sym.Queued)
	case sequencer.Stopping:
		return string(sym.Stopping)
	}
	return string(sym.Stopped)
}

func (m Model) viewList() string {
	names := m.Seq.SeqNames()
	if len(names) == 0 {
		return lipgloss.NewStyle().Foreground(m.Theme.Muted()).Render("(no sequences, n to add)")
	}
	sel := clamp(m.seqIdx, 0, len(names)-1)
	var lines []string
	for i, s := range names {
		line := fmt.Sprintf("%s %-12s %s", m.statusMark(m.Seq.Status(s.Name)), s.Name, s.Device)
		style := lipgloss.NewStyle().Foreground(m.Theme.FG())
		if i == sel {
			style = style.Foreground(m.Theme.Cursor()).Bold(true)
		}
		lines = append(lines, style.Render(line))
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewGrid() string {
	name := m.selected()
	rows, err := m.Seq.Seq(name)
	if err != nil {
		return ""
	}
	kit := sequencer.GetKit(m.kit)
	seq, _ := m.Seq.Sequence(name)
	playing := m.Seq.Status(name) == sequencer.Playing || m.Seq.Status(name) == sequencer.Stopping
	stepN := m.Seq.StepN()

	headStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	cellStyle := lipgloss.NewStyle().Foreground(m.Theme.FG())
	cursorStyle := lipgloss.NewStyle().Foreground(m.Theme.BG()).Background(m.Theme.Cursor())
	playStyle := lipgloss.NewStyle().Foreground(m.Theme.Success())

	var lines []string
	for i, row := range rows {
		if i < 2 {
			lines = append(lines, headStyle.Render(fmt.Sprintf("   %-16s %-4s %s %s", row[0], row[1], row[2], row[3])))
			continue
		}
		step := i - 2
		mark := "  "
		if playing && step == stepN {
			mark = playStyle.Render(string(m.Theme.Symbols.Playhead)) + " "
		}
		var st sequencer.Step
		if seq != nil && step < len(seq.Steps) {
			st = seq.Steps[step]
		}
		cells := []string{fmt.Sprintf("%-4s", row[0]), fmt.Sprintf("%-4s", row[1]), row[2], row[3]}
		styles := []lipgloss.Style{cellStyle, cellStyle.Foreground(m.Theme.Velocity(st.Velocity))}
		for c := 0; c < 2; c++ {
			if step == m.cursor && c == m.column {
				cells[c] = cursorStyle.Render(cells[c])
			} else {
				cells[c] = styles[c].Render(cells[c])
			}
		}
		label := ""
		if st.On {
			label = kit.Label(st.Note)
		}
		lines = append(lines, fmt.Sprintf("%s%02d %s %s %s %s %s", mark, step+1, cells[0], cells[1], cells[2], cells[3], label))
	}
	return strings.Join(lines, "\n")
}

// pads turns the controller LED state into the on-screen Launchpad.
func (m Model) pads() []widgets.Pad {
	leds := m.Seq.RenderLEDs()
	names := m.Seq.SeqNames()
	page := m.Seq.Page()
	pads := make([]widgets.Pad, 0, len(leds))
	for _, l := range leds {
		p := widgets.Pad{Row: l.Row, Col: l.Col, Color: l.Color}
		switch {
		case l.Row == 8 && l.Col == 0:
			p.Tip = "previous page"
		case l.Row == 8 && l.Col == 1:
			p.Tip = "next page"
		case l.Row == 8 && l.Col == 7:
			p.Tip = "stop all"
		case l.Row < 8:
			idx := page*4 + (7-l.Row)/2
			if idx < len(names) {
				if l.Col == 8 {
					p.Tip = "play/stop " + names[idx].Name
				} else {
					p.Tip = fmt.Sprintf("%s step %d", names[idx].Name, (7-l.Row)%2*8+l.Col+1)
				}
			}
		}
		pads = append(pads, p)
	}
	return pads
}
