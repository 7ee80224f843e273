package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"midi-daw/midi"

	"gopkg.in/yaml.v3"
)

// ControllerType identifies the kind of controller
type ControllerType string

const (
	ControllerLaunchpadX    ControllerType = "launchpad-x"
	ControllerLaunchpadMini ControllerType = "launchpad-mini"
	ControllerLaunchpadPro  ControllerType = "launchpad-pro"
	ControllerKeyboard      ControllerType = "keyboard"
)

// ControllerConfig defines a saved controller configuration
type ControllerConfig struct {
	PortName     string         `yaml:"port" json:"portName"`
	Type         ControllerType `yaml:"type" json:"type"`
	AutoConnect  bool           `yaml:"autoconnect" json:"autoConnect"`
	InputChannel int            `yaml:"input_channel,omitempty" json:"inputChannel,omitempty"` // for keyboards
}

// BackendConfig says where the MIDI backend listens.
type BackendConfig struct {
	Socket string `yaml:"socket" json:"socket"`
	// Local drives MIDI ports in-process instead of talking to the socket.
	Local   bool     `yaml:"local,omitempty" json:"local,omitempty"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// ResolverConfig tunes fuzzy device matching.
type ResolverConfig struct {
	MaxDistance int      `yaml:"max_distance" json:"maxDistance"`
	CacheTTL    Duration `yaml:"cache_ttl" json:"cacheTTL"`
	// Strict rejects voices whose device matches nothing instead of
	// falling back to the literal name.
	Strict bool `yaml:"strict,omitempty" json:"strict,omitempty"`
}

// LogConfig selects the log level and destination. An empty File logs to
// stderr.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// SequencerConfig describes the grid sequencer.
type SequencerConfig struct {
	Steps int    `yaml:"steps" json:"steps"`
	Dir   string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastTempo int    `yaml:"last_tempo,omitempty" json:"lastTempo,omitempty"`
	Palette   string `yaml:"palette,omitempty" json:"palette,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Tempo         float64            `yaml:"tempo" json:"tempo"`
	DefaultTarget midi.Target        `yaml:"default_target" json:"defaultTarget"`
	Backend       BackendConfig      `yaml:"backend" json:"backend"`
	Resolver      ResolverConfig     `yaml:"resolver" json:"resolver"`
	Log           LogConfig          `yaml:"log" json:"log"`
	Sequencer     SequencerConfig    `yaml:"sequencer" json:"sequencer"`
	Controllers   []ControllerConfig `yaml:"controllers,omitempty" json:"controllers,omitempty"`
	UI            UIConfig           `yaml:"ui,omitempty" json:"ui,omitempty"`
}

// Duration is a time.Duration written as "2s" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Tempo:         120,
		DefaultTarget: midi.DefaultTarget(),
		Backend: BackendConfig{
			Socket:  "/tmp/midi-daw.sock",
			Timeout: Duration(2 * time.Second),
		},
		Resolver: ResolverConfig{
			MaxDistance: 3,
			CacheTTL:    Duration(2 * time.Second),
		},
		Log:       LogConfig{Level: "info"},
		Sequencer: SequencerConfig{Steps: 16},
		Controllers: []ControllerConfig{
			{
				PortName:    "Launchpad X LPX MIDI",
				Type:        ControllerLaunchpadX,
				AutoConnect: true,
			},
		},
		UI: UIConfig{
			LastTempo: 120,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "midi-daw"), nil
}

// ConfigPath returns the full path to config.yaml
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFile(path)
}

// LoadFile reads one config file. Missing files give the defaults. Files
// holding a JSON object are read as JSON, anything else as YAML; fields
// the file leaves out keep their default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON config over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	if c.Tempo <= 0 {
		return fmt.Errorf("config: tempo must be positive, got %v", c.Tempo)
	}
	if c.Backend.Socket == "" && !c.Backend.Local {
		return fmt.Errorf("config: backend socket is empty")
	}
	if c.Resolver.MaxDistance < 0 {
		return fmt.Errorf("config: resolver max_distance must be >= 0")
	}
	if c.Sequencer.Steps <= 0 {
		return fmt.Errorf("config: sequencer steps must be positive")
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config as YAML.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SequenceDir is where saved sequences live.
func (c *Config) SequenceDir() (string, error) {
	if c.Sequencer.Dir != "" {
		return c.Sequencer.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sequences"), nil
}

// FindController finds a controller config by port name
func (c *Config) FindController(portName string) *ControllerConfig {
	for i := range c.Controllers {
		if c.Controllers[i].PortName == portName {
			return &c.Controllers[i]
		}
	}
	return nil
}

// AddController adds or updates a controller config
func (c *Config) AddController(ctrl ControllerConfig) {
	for i := range c.Controllers {
		if c.Controllers[i].PortName == ctrl.PortName {
			c.Controllers[i] = ctrl
			return
		}
	}
	c.Controllers = append(c.Controllers, ctrl)
}

// AutoConnectControllers returns controllers with autoConnect enabled
func (c *Config) AutoConnectControllers() []ControllerConfig {
	var result []ControllerConfig
	for _, ctrl := range c.Controllers {
		if ctrl.AutoConnect {
			result = append(result, ctrl)
		}
	}
	return result
}
