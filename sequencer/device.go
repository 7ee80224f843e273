package sequencer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"midi-daw/midi"
)

// LEDState describes the state of a single LED
type LEDState struct {
	Row, Col int
	Color    [3]uint8 // RGB color - controller maps to its palette
	Channel  uint8    // 0=static, 1=flash, 2=pulse
}

// Grid layout: each visible sequence takes two pad rows (steps 0-7 above
// 8-15), four sequences per page. The scene column toggles play, the top
// row pages and stops.
const (
	seqsPerPage = 4
	padCols     = 8
	ledFPS      = 30
)

var (
	colorOff      = [3]uint8{0, 0, 0}
	colorEmpty    = [3]uint8{40, 60, 120}
	colorStep     = [3]uint8{0, 100, 255}
	colorPlayStep = [3]uint8{0, 255, 0}
	colorPlayhead = [3]uint8{255, 255, 255}
	colorQueued   = [3]uint8{255, 200, 0}
	colorStopping = [3]uint8{255, 100, 0}
	colorStopped  = [3]uint8{180, 60, 60}
	colorNav      = [3]uint8{0, 200, 200}
	colorStopAll  = [3]uint8{255, 0, 0}
)

type ledState struct {
	mu         sync.Mutex
	controller midi.Controller
	dirty      bool
	prev       map[[2]int]LEDState
	page       int
	pitch      uint8
}

func (l *ledState) init() {
	l.prev = make(map[[2]int]LEDState)
	l.pitch = 60
}

// SetController sets the MIDI controller for LED feedback
func (m *Manager) SetController(c midi.Controller) {
	m.leds.mu.Lock()
	m.leds.controller = c
	m.leds.prev = make(map[[2]int]LEDState) // reset state - diff will handle clearing
	m.leds.dirty = c != nil
	m.leds.mu.Unlock()
	if c != nil {
		m.log.Debug("controller attached", zap.String("id", c.ID()))
	}
}

// SetPadPitch is the pitch a pad press writes into an empty step.
func (m *Manager) SetPadPitch(p uint8) {
	if p > 127 {
		return
	}
	m.leds.mu.Lock()
	m.leds.pitch = p
	m.leds.mu.Unlock()
}

func (m *Manager) PadPitch() uint8 {
	m.leds.mu.Lock()
	defer m.leds.mu.Unlock()
	return m.leds.pitch
}

// Page is the first sequence index shown on the grid.
func (m *Manager) Page() int {
	m.leds.mu.Lock()
	defer m.leds.mu.Unlock()
	return m.leds.page
}

func (m *Manager) markLEDsDirty() {
	m.leds.mu.Lock()
	m.leds.dirty = true
	m.leds.mu.Unlock()
}

// RenderLEDs draws the current page of sequences.
func (m *Manager) RenderLEDs() []LEDState {
	page := m.Page()
	names := m.SeqNames()
	stepN := m.StepN()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var leds []LEDState
	for k := 0; k < seqsPerPage; k++ {
		idx := page*seqsPerPage + k
		top := 7 - 2*k
		if idx >= len(names) {
			continue
		}
		name := names[idx].Name
		seq := m.seqs[name]
		if seq == nil {
			continue // removed since the listing
		}
		status := m.status(name)

		for s := 0; s < 2*padCols; s++ {
			row, col := top-s/padCols, s%padCols
			color := colorOff
			if s < len(seq.Steps) {
				color = colorEmpty
				if seq.Steps[s].On {
					color = colorStep
					if status == Playing || status == Stopping {
						color = colorPlayStep
					}
				}
				if s == stepN && (status == Playing || status == Stopping) {
					color = colorPlayhead
				}
			}
			leds = append(leds, LEDState{Row: row, Col: col, Color: color, Channel: midi.ChannelStatic})
		}

		scene := LEDState{Color: colorStopped, Channel: midi.ChannelStatic}
		switch status {
		case Queued:
			scene.Color, scene.Channel = colorQueued, midi.ChannelPulse
		case Playing:
			scene.Color = colorPlayStep
		case Stopping:
			scene.Color, scene.Channel = colorStopping, midi.ChannelFlash
		}
		for _, row := range []int{top, top - 1} {
			scene.Row, scene.Col = row, padCols
			leds = append(leds, scene)
		}
	}

	if page > 0 {
		leds = append(leds, LEDState{Row: 8, Col: 0, Color: colorNav})
	}
	if (page+1)*seqsPerPage < len(names) {
		leds = append(leds, LEDState{Row: 8, Col: 1, Color: colorNav})
	}
	if len(m.playing) > 0 || len(m.queued) > 0 {
		leds = append(leds, LEDState{Row: 8, Col: 7, Color: colorStopAll})
	}
	return leds
}

// HandlePad applies a grid press: step pads toggle steps, scene pads
// toggle play, the top row pages or stops everything.
func (m *Manager) HandlePad(row, col int) {
	defer m.markLEDsDirty()

	if row == 8 {
		switch col {
		case 0:
			m.leds.mu.Lock()
			if m.leds.page > 0 {
				m.leds.page--
			}
			m.leds.mu.Unlock()
		case 1:
			n := len(m.SeqNames())
			m.leds.mu.Lock()
			if (m.leds.page+1)*seqsPerPage < n {
				m.leds.page++
			}
			m.leds.mu.Unlock()
		case 7:
			m.StopAll()
		}
		m.notifyUpdate()
		return
	}
	if row < 0 || row > 7 || col < 0 || col > padCols {
		return
	}

	k := (7 - row) / 2
	names := m.SeqNames()
	idx := m.Page()*seqsPerPage + k
	if idx >= len(names) {
		return
	}
	name := names[idx].Name

	if col == padCols {
		if _, err := m.PlaySeq(name); err != nil {
			m.log.Debug("pad play failed", zap.Error(err))
		}
		return
	}
	step := (7-row)%2*padCols + col
	if _, err := m.ToggleStep(name, step, m.PadPitch()); err != nil {
		m.log.Debug("pad toggle failed", zap.String("seq", name), zap.Int("step", step), zap.Error(err))
	}
}

// RunLEDs refreshes the controller at a fixed rate until ctx is done.
func (m *Manager) RunLEDs(ctx context.Context) {
	ticker := time.NewTicker(time.Second / ledFPS)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.leds.mu.Lock()
			dirty := m.leds.dirty
			m.leds.dirty = false
			m.leds.mu.Unlock()

			if dirty {
				m.flushLEDs()
			}
		}
	}
}

// flushLEDs sends only changed LEDs to the controller (diffing + batching)
func (m *Manager) flushLEDs() {
	m.leds.mu.Lock()
	c := m.leds.controller
	m.leds.mu.Unlock()
	if c == nil {
		return
	}

	newLEDs := m.RenderLEDs()
	newMap := make(map[[2]int]LEDState, len(newLEDs))

	m.leds.mu.Lock()
	defer m.leds.mu.Unlock()

	var updates []midi.LEDUpdate
	for _, led := range newLEDs {
		key := [2]int{led.Row, led.Col}
		newMap[key] = led
		if prev, ok := m.leds.prev[key]; !ok || prev != led {
			updates = append(updates, midi.LEDUpdate{Row: led.Row, Col: led.Col, Color: led.Color, Channel: led.Channel})
		}
	}
	// Clear LEDs that are no longer present
	for key := range m.leds.prev {
		if _, ok := newMap[key]; !ok {
			updates = append(updates, midi.LEDUpdate{Row: key[0], Col: key[1], Color: colorOff})
		}
	}

	if len(updates) > 0 {
		if err := c.SetLEDBatch(updates); err != nil {
			m.log.Debug("led batch failed", zap.Error(err))
		}
	}
	m.leds.prev = newMap
}
