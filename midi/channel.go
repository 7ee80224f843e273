package midi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Channel is a MIDI channel, Ch1..Ch16. The zero value is Ch1.
type Channel uint8

const (
	Ch1 Channel = iota
	Ch2
	Ch3
	Ch4
	Ch5
	Ch6
	Ch7
	Ch8
	Ch9
	Ch10
	Ch11
	Ch12
	Ch13
	Ch14
	Ch15
	Ch16
)

// ChannelFromInt maps 1..16 to a channel. Anything else falls back to Ch1.
func ChannelFromInt(n int) Channel {
	if n < 1 || n > 16 {
		return Ch1
	}
	return Channel(n - 1)
}

// ChannelFromHex maps "0".."f" (optionally "0x" prefixed) to Ch1..Ch16.
// Anything else falls back to Ch1.
func ChannelFromHex(s string) Channel {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(s) != 1 {
		return Ch1
	}
	n, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return Ch1
	}
	return Channel(n)
}

// ParseChannel accepts the forms used in config files: "Ch3", "3" (1-based)
// or "0x2" (0-based hex).
func ParseChannel(s string) (Channel, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(t, "ch"):
		n, err := strconv.Atoi(t[2:])
		if err != nil || n < 1 || n > 16 {
			return Ch1, fmt.Errorf("bad channel %q", s)
		}
		return Channel(n - 1), nil
	case strings.HasPrefix(t, "0x"):
		return ChannelFromHex(t), nil
	}
	n, err := strconv.Atoi(t)
	if err != nil || n < 1 || n > 16 {
		return Ch1, fmt.Errorf("bad channel %q", s)
	}
	return Channel(n - 1), nil
}

// Number is the 1-based channel number.
func (c Channel) Number() int { return int(c&0x0f) + 1 }

// Index is the 0-based channel used on the wire by gomidi.
func (c Channel) Index() uint8 { return uint8(c & 0x0f) }

func (c Channel) String() string {
	return fmt.Sprintf("Ch%d", c.Number())
}

func (c Channel) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Channel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return err
		}
		*c = ChannelFromInt(n)
		return nil
	}
	ch, err := ParseChannel(s)
	if err != nil {
		return err
	}
	*c = ch
	return nil
}

func (c Channel) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c *Channel) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	ch, err := ParseChannel(s)
	if err != nil {
		return err
	}
	*c = ch
	return nil
}

// DefaultDevice is the backend's default output port.
const DefaultDevice = "MIDI THRU"

// Target is where a voice sends: an output device name and a channel.
type Target struct {
	Device  string  `json:"name" yaml:"device"`
	Channel Channel `json:"ch" yaml:"channel"`
}

// DefaultTarget is "MIDI THRU" on channel 1.
func DefaultTarget() Target {
	return Target{Device: DefaultDevice, Channel: Ch1}
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Device, t.Channel.Number())
}
