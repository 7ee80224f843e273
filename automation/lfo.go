package automation

import (
	"fmt"
	"math"
	"strings"
)

// Kind is an LFO waveform.
type Kind string

const (
	Sin         Kind = "sin"
	Triangle    Kind = "triangle"
	SawUp       Kind = "saw-up"
	SawDown     Kind = "saw-down"
	AntiLog     Kind = "antilog"
	AntiLogUp   Kind = "antilog-up"
	AntiLogDown Kind = "antilog-down"
	WaveTable   Kind = "wavetable"
)

// ParseKind accepts the kind names case-insensitively; "wave" is
// WaveTable.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case "wave":
		return WaveTable, nil
	case Sin, Triangle, SawUp, SawDown, AntiLog, AntiLogUp, AntiLogDown, WaveTable:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown lfo kind %q", ErrInvalidAutomation, s)
}

// LFOConfig describes an LFO. Freq is in cycles per second.
type LFOConfig struct {
	Kind    Kind    `yaml:"kind" json:"kind"`
	Freq    float64 `yaml:"freq" json:"freq"`
	OneShot bool    `yaml:"one_shot" json:"one_shot"`
	// Bipolar outputs [-1,1] instead of [0,1]. Wavetables always output
	// the table as recorded.
	Bipolar bool `yaml:"bipolar" json:"bipolar"`
	HiFi    bool `yaml:"hifi" json:"hifi"`
	// File is the WAV file of a wavetable LFO.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// LFO is a periodic (or one-shot) modulation source.
type LFO struct {
	base
	cfg   LFOConfig
	phase float64 // in cycles
	done  bool    // one-shot reached its end
	table *Table
}

// NewLFO validates cfg and builds the LFO. Wavetables are loaded here so a
// bad file fails now, not on the first step.
func NewLFO(cfg LFOConfig, opts ...Option) (*LFO, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	cfg.Kind = kind
	if cfg.Freq <= 0 || math.IsNaN(cfg.Freq) || math.IsInf(cfg.Freq, 0) {
		return nil, fmt.Errorf("%w: lfo frequency must be positive, got %v", ErrInvalidAutomation, cfg.Freq)
	}

	l := &LFO{cfg: cfg}
	if kind == WaveTable {
		if cfg.File == "" {
			return nil, fmt.Errorf("%w: wavetable lfo needs a file", ErrInvalidAutomation)
		}
		t, err := LoadTable(cfg.File)
		if err != nil {
			return nil, err
		}
		l.table = t
	}
	l.configure(cfg.HiFi, opts)
	return l, nil
}

// NewTableLFO builds a wavetable LFO from samples already in memory.
func NewTableLFO(t *Table, freq float64, oneShot, hifi bool, opts ...Option) (*LFO, error) {
	if t == nil || len(t.Samples) == 0 {
		return nil, fmt.Errorf("%w: empty wavetable", ErrInvalidAutomation)
	}
	if freq <= 0 || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return nil, fmt.Errorf("%w: lfo frequency must be positive, got %v", ErrInvalidAutomation, freq)
	}
	l := &LFO{
		cfg:   LFOConfig{Kind: WaveTable, Freq: freq, OneShot: oneShot, HiFi: hifi},
		table: t,
	}
	l.configure(hifi, opts)
	return l, nil
}

func (l *LFO) Name() string { return "lfo:" + string(l.cfg.Kind) }

// Config returns the configuration the LFO was built from.
func (l *LFO) Config() LFOConfig { return l.cfg }

func (l *LFO) Step() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case Stopped:
		return l.last
	case Uninitialized:
		l.state = Running
	}
	l.last = l.sample()
	if l.done {
		l.state = Stopped
		return l.last
	}
	l.advance(1)
	return l.last
}

func (l *LFO) StepN(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Stopped {
		return
	}
	l.advance(n)
}

// advance must be called with mu held.
func (l *LFO) advance(n int) {
	l.phase += l.cfg.Freq * l.tickSeconds() * float64(n)
	if l.cfg.OneShot && l.phase >= 1 {
		l.phase = 1
		l.done = true
		return
	}
	l.phase = math.Mod(l.phase, 1)
}

func (l *LFO) Init() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phase, l.done, l.last = 0, false, 0
	l.state = Running
}

func (l *LFO) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phase, l.done = 0, false
}

// Phase is the position in the current cycle, in [0,1].
func (l *LFO) Phase() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

const antiLogCurve = 5.0

// antiLog bends a linear ramp in [0,1] into an exponential one.
func antiLog(x float64) float64 {
	return (math.Exp(antiLogCurve*x) - 1) / (math.Exp(antiLogCurve) - 1)
}

func triangle(p float64) float64 {
	if p < 0.5 {
		return 2 * p
	}
	return 2 - 2*p
}

// sample must be called with mu held.
func (l *LFO) sample() float64 {
	p := l.phase
	if l.cfg.Kind == WaveTable {
		return l.table.At(p)
	}

	var v float64 // unipolar, [0,1]
	switch l.cfg.Kind {
	case Sin:
		v = (math.Sin(2*math.Pi*p) + 1) / 2
	case Triangle:
		v = triangle(p)
	case SawUp:
		v = p
	case SawDown:
		v = 1 - p
	case AntiLog:
		v = antiLog(triangle(p))
	case AntiLogUp:
		v = antiLog(p)
	case AntiLogDown:
		v = antiLog(1 - p)
	}
	if l.cfg.Bipolar {
		return v*2 - 1
	}
	return v
}
