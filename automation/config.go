package automation

import "fmt"

// Config selects and configures one automation. Exactly one of LFO and
// ADSR must be set.
type Config struct {
	LFO  *LFOConfig  `yaml:"lfo,omitempty" json:"lfo,omitempty"`
	ADSR *ADSRConfig `yaml:"adsr,omitempty" json:"adsr,omitempty"`
}

// Build constructs the automation cfg describes.
func Build(cfg Config, opts ...Option) (Automation, error) {
	switch {
	case cfg.LFO != nil && cfg.ADSR != nil:
		return nil, fmt.Errorf("%w: both lfo and adsr configured", ErrInvalidAutomation)
	case cfg.LFO != nil:
		return NewLFO(*cfg.LFO, opts...)
	case cfg.ADSR != nil:
		return NewADSR(*cfg.ADSR, opts...)
	}
	return nil, fmt.Errorf("%w: no automation configured", ErrInvalidAutomation)
}
