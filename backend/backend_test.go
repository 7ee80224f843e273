package backend

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"midi-daw/midi"
	"midi-daw/musictime"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// recorder is an in-memory Transport.
type recorder struct {
	mu      sync.Mutex
	sent    []midi.Request
	devices []string
	tempo   float64
	rests   []musictime.NoteLen
	fail    error
}

func (r *recorder) Send(ctx context.Context, req midi.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, req)
	return nil
}

func (r *recorder) Devices(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.devices...), nil
}

func (r *recorder) SetTempo(ctx context.Context, bpm float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tempo = bpm
	return nil
}

func (r *recorder) Tempo(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tempo, nil
}

func (r *recorder) NewDevice(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, name)
	return nil
}

func (r *recorder) Rest(ctx context.Context, l musictime.NoteLen) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rests = append(r.rests, l)
	return nil
}

// serveUnix starts h on a fresh Unix socket and returns its path.
func serveUnix(t *testing.T, s *Server) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mdaw")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewUnstartedServer(s)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return sock
}

func TestClientRoundTrip(t *testing.T) {
	rec := &recorder{devices: []string{"MIDI THRU", "microKORG2:SOUND 20:0"}, tempo: 120}
	sock := serveUnix(t, NewServer(rec))
	c := NewClient(sock, WithTimeout(2*time.Second))
	ctx := context.Background()

	play := midi.PlayNote{Pitch: 60, Velocity: 80, Length: musictime.Qn()}
	if err := c.Send(ctx, midi.Request{Device: "MIDI THRU", Channel: midi.Ch2, Msg: play}); err != nil {
		t.Fatal(err)
	}
	if len(rec.sent) != 1 || rec.sent[0].Msg != play || rec.sent[0].Channel != midi.Ch2 {
		t.Fatalf("server saw %+v", rec.sent)
	}

	devs, err := c.Devices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 2 || devs[1] != "microKORG2:SOUND 20:0" {
		t.Fatalf("devices %v", devs)
	}

	if err := c.SetTempo(ctx, 93.5); err != nil {
		t.Fatal(err)
	}
	bpm, err := c.Tempo(ctx)
	if err != nil || bpm != 93.5 {
		t.Fatalf("tempo %v, %v", bpm, err)
	}

	if err := c.NewDevice(ctx, "virt"); err != nil {
		t.Fatal(err)
	}
	if err := c.Rest(ctx, musictime.Sn(2)); err != nil {
		t.Fatal(err)
	}
	if len(rec.rests) != 1 || rec.rests[0] != musictime.Sn(2) {
		t.Fatalf("rests %v", rec.rests)
	}
}

func TestClientErrors(t *testing.T) {
	rec := &recorder{fail: errors.New("device unplugged")}
	sock := serveUnix(t, NewServer(rec))
	c := NewClient(sock)

	err := c.Send(context.Background(), midi.Request{Device: "x", Msg: midi.StopNote{Pitch: 1}})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport for a 502, got %v", err)
	}

	dead := NewClient(filepath.Join(os.TempDir(), "no-such-midi-daw.sock"))
	if _, err := dead.Devices(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport for a missing socket, got %v", err)
	}
}

// fakePorts records raw messages per port.
type fakePorts struct {
	mu   sync.Mutex
	outs []string
	got  map[string][]gomidi.Message
}

func (f *fakePorts) Outs() []string { return f.outs }

func (f *fakePorts) Open(name string) (Sender, error) {
	for _, o := range f.outs {
		if o == name {
			return f.sender(name), nil
		}
	}
	return nil, errors.New("no such port")
}

func (f *fakePorts) OpenVirtual(name string) (Sender, error) {
	return f.sender(name), nil
}

func (f *fakePorts) sender(name string) Sender {
	return func(m gomidi.Message) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.got[name] = append(f.got[name], m)
		return nil
	}
}

func (f *fakePorts) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got[name])
}

func TestLocalNoteOff(t *testing.T) {
	ports := &fakePorts{outs: []string{"synth"}, got: map[string][]gomidi.Message{}}
	l := NewLocal(WithPorts(ports))
	ctx := context.Background()
	if err := l.SetTempo(ctx, 6000); err != nil {
		t.Fatal(err)
	}

	err := l.Send(ctx, midi.Request{Device: "synth", Msg: midi.PlayNote{Pitch: 64, Velocity: 100, Length: musictime.Qn()}})
	if err != nil {
		t.Fatal(err)
	}
	if ports.count("synth") != 1 {
		t.Fatalf("expected a NoteOn right away")
	}
	deadline := time.Now().Add(time.Second)
	for ports.count("synth") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ports.mu.Lock()
	msgs := ports.got["synth"]
	ports.mu.Unlock()
	var ch, key uint8
	if len(msgs) != 2 || !msgs[1].GetNoteOff(&ch, &key, new(uint8)) || key != 64 {
		t.Fatalf("expected NoteOff 64, got %v", msgs)
	}

	if err := l.Send(ctx, midi.Request{Device: "missing", Msg: midi.StopNote{Pitch: 1}}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport for unknown port, got %v", err)
	}
}

func TestLocalCloseFlushesNoteOffs(t *testing.T) {
	ports := &fakePorts{outs: []string{"synth"}, got: map[string][]gomidi.Message{}}
	l := NewLocal(WithPorts(ports))
	ctx := context.Background()
	l.SetTempo(ctx, 1)
	l.Send(ctx, midi.Request{Device: "synth", Msg: midi.PlayNote{Pitch: 60, Velocity: 1, Length: musictime.Wn()}})
	l.Close()
	if ports.count("synth") != 2 {
		t.Fatalf("expected NoteOn + flushed NoteOff, got %d", ports.count("synth"))
	}
}

func TestLocalVirtualDevices(t *testing.T) {
	ports := &fakePorts{outs: []string{"a"}, got: map[string][]gomidi.Message{}}
	l := NewLocal(WithPorts(ports))
	ctx := context.Background()
	if err := l.NewDevice(ctx, "virt"); err != nil {
		t.Fatal(err)
	}
	devs, _ := l.Devices(ctx)
	if len(devs) != 2 || devs[0] != "a" || devs[1] != "virt" {
		t.Fatalf("devices %v", devs)
	}
	if err := l.Send(ctx, midi.Request{Device: "virt", Msg: midi.CC{Controller: 1, Value: 1}}); err != nil {
		t.Fatal(err)
	}
}
