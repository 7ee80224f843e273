package sequencer

import "sort"

// Kit names the pitches a drum machine responds to, so drum steps can be
// entered and shown by instrument.
type Kit struct {
	Name  string
	Slots [16]KitSlot
}

type KitSlot struct {
	Label string
	Note  uint8
}

var gmSlots = [16]KitSlot{
	{"BD", 36}, {"SD", 38}, {"CH", 42}, {"OH", 46},
	{"LT", 41}, {"MT", 43}, {"HT", 45}, {"CY", 49},
	{"RC", 51}, {"CP", 39}, {"RS", 37}, {"CB", 56},
	{"CL", 75}, {"MA", 70}, {"LC", 64}, {"HC", 63},
}

func withNotes(base [16]KitSlot, notes map[int]uint8) [16]KitSlot {
	for i, n := range notes {
		base[i].Note = n
	}
	return base
}

// Kits holds the drum maps of the machines we drive.
var Kits = map[string]Kit{
	"gm":   {Name: "General MIDI", Slots: gmSlots},
	"rd8":  {Name: "Behringer RD-8", Slots: withNotes(gmSlots, map[int]uint8{1: 40, 4: 45, 5: 48, 6: 50})},
	"tr8s": {Name: "Roland TR-8S", Slots: withNotes(gmSlots, map[int]uint8{14: 62})},
	"er1":  {Name: "Korg ER-1", Slots: withNotes(gmSlots, map[int]uint8{4: 40, 5: 41, 6: 43, 8: 45})},
}

// DefaultKit is the default kit name
const DefaultKit = "gm"

// KitNames returns the kit keys in a stable order.
func KitNames() []string {
	names := make([]string, 0, len(Kits))
	for k := range Kits {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GetKit returns a kit by name, defaulting to GM if not found
func GetKit(name string) Kit {
	if kit, ok := Kits[name]; ok {
		return kit
	}
	return Kits[DefaultKit]
}

// Note is the pitch of slot i, wrapping out-of-range slots.
func (k Kit) Note(slot int) uint8 {
	return k.Slots[((slot%16)+16)%16].Note
}

// Label names the instrument on pitch p, or "" if the kit has none.
func (k Kit) Label(p uint8) string {
	for _, s := range k.Slots {
		if s.Note == p {
			return s.Label
		}
	}
	return ""
}
