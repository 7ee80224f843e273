package midi

import (
	"context"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/testdrv" // loops testdrv-out back into testdrv-in
)

// The package registers no driver of its own, so scanning finds the ports of
// whichever driver the program imported.
func TestDeviceManagerUsesRegisteredDriver(t *testing.T) {
	dm := NewDeviceManager(WithKeyboard("testdrv-in", 0), WithPollRate(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dm.Run(ctx)

	var kb Controller
	select {
	case ev := <-dm.Events():
		if ev.Type != DeviceConnected || ev.ID != "testdrv-in" {
			t.Fatalf("unexpected event %+v", ev)
		}
		kb = ev.Controller
	case <-time.After(2 * time.Second):
		t.Fatal("keyboard never connected")
	}
	if kb.Type() != ControllerKeyboard {
		t.Fatalf("type %v", kb.Type())
	}

	out, err := gomidi.OutPort(0)
	if err != nil {
		t.Fatal(err)
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := send(gomidi.NoteOn(2, 64, 90)); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-kb.NoteEvents():
		if n != (NoteEvent{Note: 64, Velocity: 90, Channel: 2}) {
			t.Fatalf("note %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("note not delivered")
	}
}
