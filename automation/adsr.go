package automation

import (
	"fmt"
	"math"
)

// ADSRConfig describes an envelope. Times are in seconds, Sustain is a
// level in [0,1]. With Hold set the gate closes on its own after Hold
// seconds; otherwise it stays open until GateOff.
type ADSRConfig struct {
	Attack  float64 `yaml:"attack" json:"attack"`
	Decay   float64 `yaml:"decay" json:"decay"`
	Sustain float64 `yaml:"sustain" json:"sustain"`
	Release float64 `yaml:"release" json:"release"`
	Hold    float64 `yaml:"hold,omitempty" json:"hold,omitempty"`
	HiFi    bool    `yaml:"hifi" json:"hifi"`
}

// ADSR is an attack/decay/sustain/release envelope.
type ADSR struct {
	base
	cfg ADSRConfig

	t        float64 // seconds since the gate opened
	released bool
	relT     float64 // seconds since the gate closed
	relFrom  float64 // level when the gate closed
}

func NewADSR(cfg ADSRConfig, opts ...Option) (*ADSR, error) {
	for name, v := range map[string]float64{
		"attack": cfg.Attack, "decay": cfg.Decay, "release": cfg.Release, "hold": cfg.Hold,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: adsr %s must be >= 0, got %v", ErrInvalidAutomation, name, v)
		}
	}
	if cfg.Sustain < 0 || cfg.Sustain > 1 || math.IsNaN(cfg.Sustain) {
		return nil, fmt.Errorf("%w: adsr sustain must be in [0,1], got %v", ErrInvalidAutomation, cfg.Sustain)
	}
	a := &ADSR{cfg: cfg}
	a.configure(cfg.HiFi, opts)
	return a, nil
}

func (a *ADSR) Name() string { return "env:adsr" }

func (a *ADSR) Config() ADSRConfig { return a.cfg }

// level must be called with mu held.
func (a *ADSR) level() float64 {
	c := a.cfg
	if a.released {
		if c.Release == 0 || a.relT >= c.Release {
			return 0
		}
		return a.relFrom * (1 - a.relT/c.Release)
	}
	switch {
	case a.t < c.Attack:
		return a.t / c.Attack
	case a.t < c.Attack+c.Decay:
		return 1 - (1-c.Sustain)*(a.t-c.Attack)/c.Decay
	}
	return c.Sustain
}

// advance must be called with mu held.
func (a *ADSR) advance(n int) {
	dt := a.tickSeconds() * float64(n)
	if a.released {
		a.relT += dt
		return
	}
	a.t += dt
	if a.cfg.Hold > 0 && a.t >= a.cfg.Hold {
		a.gateOff()
	}
}

func (a *ADSR) gateOff() {
	if a.released {
		return
	}
	a.relFrom = a.level()
	a.released = true
	a.relT = 0
}

func (a *ADSR) Step() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case Stopped:
		return a.last
	case Uninitialized:
		a.state = Running
	}
	a.last = a.level()
	if a.released && a.relT >= a.cfg.Release {
		a.state = Stopped
		return a.last
	}
	a.advance(1)
	return a.last
}

func (a *ADSR) StepN(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Stopped {
		a.advance(n)
	}
}

// GateOff starts the release stage.
func (a *ADSR) GateOff() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gateOff()
}

func (a *ADSR) Init() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.t, a.relT, a.relFrom, a.released, a.last = 0, 0, 0, false, 0
	a.state = Running
}

func (a *ADSR) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.t, a.relT, a.relFrom, a.released = 0, 0, 0, false
}
