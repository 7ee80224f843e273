package sequencer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"midi-daw/eventbus"
	"midi-daw/midi"
	"midi-daw/musictime"
	"midi-daw/note"
	"midi-daw/resolve"
)

type sent struct {
	target midi.Target
	msg    midi.Msg
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeSender) Send(_ context.Context, t midi.Target, msg midi.Msg, blocking bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{t, msg})
	return nil
}

func (f *fakeSender) take() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.msgs
	f.msgs = nil
	return out
}

func pitches(ss []sent) []uint8 {
	var out []uint8
	for _, s := range ss {
		out = append(out, s.msg.(midi.PlayNote).Pitch)
	}
	return out
}

var synth = midi.Target{Device: "synth", Channel: midi.Ch2}

func u8(n uint8) *uint8 { return &n }

func newManager(opts ...Option) (*Manager, *fakeSender) {
	fs := &fakeSender{}
	return NewManager(fs, opts...), fs
}

// pulseSteps runs n steps worth of pulses at 24 PPQ.
func pulseSteps(m *Manager, n int) {
	for i := 0; i < n*musictime.DefaultPPQ/4; i++ {
		m.Pulse(context.Background())
	}
}

func TestGridRows(t *testing.T) {
	m, _ := newManager()
	name, err := m.NewSeq("bass", synth)
	if err != nil || name != "bass" {
		t.Fatal(name, err)
	}
	m.SetNote("bass", 0, u8(60), nil)
	m.SetNote("bass", 1, u8(61), u8(127))
	m.SetNote("bass", 2, u8(48), u8(5))

	rows, err := m.Seq("bass")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 18 {
		t.Fatalf("got %d rows", len(rows))
	}
	want := []Row{
		{"bass", "vel", "cmd1", "cmd2"},
		{"synth", "Ch2", "----", "----"},
		{"C-4", "-90", "----", "----"},
		{"C#4", "127", "----", "----"},
		{"C-3", "--5", "----", "----"},
		{"---", "---", "----", "----"},
	}
	for i, w := range want {
		if rows[i] != w {
			t.Errorf("row %d = %q, want %q", i, rows[i], w)
		}
	}
	row, err := m.SeqRow("bass", 1)
	if err != nil || row != want[3] {
		t.Fatalf("SeqRow = %q %v", row, err)
	}
}

func TestSetNote(t *testing.T) {
	m, _ := newManager()
	m.NewSeq("s", synth)
	step := func() Step {
		seq, _ := m.Sequence("s")
		return seq.Steps[3]
	}

	m.SetNote("s", 3, nil, u8(100))
	if step().On {
		t.Fatal("velocity alone must not set an empty step")
	}
	m.SetNote("s", 3, u8(64), nil)
	if step() != (Step{On: true, Note: 64, Velocity: DefaultVelocity}) {
		t.Fatalf("pitch only: %+v", step())
	}
	m.SetNote("s", 3, nil, u8(30))
	if step() != (Step{On: true, Note: 64, Velocity: 30}) {
		t.Fatalf("velocity only: %+v", step())
	}
	m.SetNote("s", 3, nil, nil)
	if step().On {
		t.Fatal("nil, nil should clear")
	}
}

func TestToggleStep(t *testing.T) {
	m, _ := newManager()
	m.NewSeq("s", synth)
	if on, err := m.ToggleStep("s", 2, 50); err != nil || !on {
		t.Fatalf("first toggle: %v %v", on, err)
	}
	if seq, _ := m.Sequence("s"); seq.Steps[2] != (Step{On: true, Note: 50, Velocity: DefaultVelocity}) {
		t.Fatalf("step %+v", seq.Steps[2])
	}
	if on, _ := m.ToggleStep("s", 2, 50); on {
		t.Fatal("second toggle left the step on")
	}
	if _, err := m.ToggleStep("s", NumSteps, 50); !errors.Is(err, ErrStepRange) {
		t.Fatalf("expected ErrStepRange, got %v", err)
	}

	// An even number of toggles from any mix of goroutines must land on off.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m.ToggleStep("s", 5, 60)
			}
		}()
	}
	wg.Wait()
	if seq, _ := m.Sequence("s"); seq.Steps[5].On {
		t.Fatalf("400 toggles left step on: %+v", seq.Steps[5])
	}
}

func TestErrors(t *testing.T) {
	m, _ := newManager()
	m.NewSeq("s", synth)

	if _, err := m.Seq("nope"); !errors.Is(err, ErrUnknownSequence) {
		t.Fatalf("unknown: %v", err)
	}
	if err := m.SetNote("s", 16, u8(60), nil); !errors.Is(err, ErrStepRange) {
		t.Fatalf("range: %v", err)
	}
	if _, err := m.SeqRow("s", -1); !errors.Is(err, ErrStepRange) {
		t.Fatalf("negative: %v", err)
	}
	if err := m.SetNote("s", 0, u8(128), nil); !errors.Is(err, note.ErrInvalidPitch) {
		t.Fatalf("pitch: %v", err)
	}
	if err := m.SetNote("s", 0, u8(60), u8(200)); !errors.Is(err, midi.ErrInvalidMsg) {
		t.Fatalf("velocity: %v", err)
	}
	if _, err := m.NewSeq("s", synth); !errors.Is(err, ErrSequenceExists) {
		t.Fatalf("duplicate: %v", err)
	}
	if _, err := m.PlaySeq("nope"); !errors.Is(err, ErrUnknownSequence) {
		t.Fatalf("play unknown: %v", err)
	}
}

func TestSeqNames(t *testing.T) {
	m, _ := newManager()
	m.NewSeq("b", midi.Target{Device: "TR-8S"})
	m.NewSeq("a", synth)
	auto, _ := m.NewSeq("", synth)
	got := m.SeqNames()
	want := []SeqName{{"a", "synth"}, {"b", "TR-8S"}, {auto, "synth"}}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPlaybackStepsThroughPattern(t *testing.T) {
	m, fs := newManager()
	m.NewSeq("s", synth)
	for i := 0; i < NumSteps; i++ {
		m.SetNote("s", i, u8(uint8(40+i)), nil)
	}
	if queued, _ := m.PlaySeq("s"); !queued {
		t.Fatal("should queue")
	}
	if m.Status("s") != Queued {
		t.Fatal(m.Status("s"))
	}

	pulseSteps(m, NumSteps+1)
	got := fs.take()
	if len(got) != NumSteps+1 {
		t.Fatalf("sent %d notes", len(got))
	}
	for i, s := range got {
		pn := s.msg.(midi.PlayNote)
		if pn.Pitch != uint8(40+i%NumSteps) || pn.Velocity != DefaultVelocity || pn.Length != musictime.Sn(1) || s.target != synth {
			t.Fatalf("note %d: %+v to %v", i, pn, s.target)
		}
	}
	if m.StepN() != 0 {
		t.Fatalf("step %d", m.StepN())
	}

	// toggling a playing sequence stops it at once
	if queued, _ := m.PlaySeq("s"); queued {
		t.Fatal("second toggle should stop")
	}
	pulseSteps(m, 4)
	if n := len(fs.take()); n != 0 {
		t.Fatalf("%d notes after stop", n)
	}
}

func TestQueuedSequenceWaitsForBar(t *testing.T) {
	m, fs := newManager()
	m.NewSeq("a", synth)
	m.NewSeq("b", synth)
	for i := 0; i < NumSteps; i++ {
		m.SetNote("b", i, u8(70), nil)
	}
	m.SetNote("a", 0, u8(30), nil)

	m.PlaySeq("a")
	pulseSteps(m, 3)
	m.PlaySeq("b")
	pulseSteps(m, NumSteps-3)
	if got := pitches(fs.take()); !slices.Equal(got, []uint8{30}) {
		t.Fatalf("b started mid-bar: %v", got)
	}
	pulseSteps(m, 1)
	if got := pitches(fs.take()); !slices.Equal(got, []uint8{30, 70}) {
		t.Fatalf("bar one: %v", got)
	}
}

func TestQueueStopFinishesPattern(t *testing.T) {
	m, fs := newManager()
	m.NewSeq("s", synth)
	m.SetNote("s", 0, u8(50), nil)
	m.SetNote("s", 8, u8(51), nil)
	m.PlaySeq("s")
	pulseSteps(m, 4)
	m.QueueStop("s")
	if m.Status("s") != Stopping {
		t.Fatal(m.Status("s"))
	}
	pulseSteps(m, NumSteps*2)
	if got := pitches(fs.take()); !slices.Equal(got, []uint8{50, 51}) {
		t.Fatalf("got %v", got)
	}
	if m.Status("s") != Stopped || len(m.Playing()) != 0 {
		t.Fatalf("still %v", m.Status("s"))
	}
}

func TestStopAllRewinds(t *testing.T) {
	m, fs := newManager()
	m.NewSeq("s", synth)
	m.SetNote("s", 0, u8(50), nil)
	m.SetNote("s", 5, u8(55), nil)
	m.PlaySeq("s")
	pulseSteps(m, 5)
	m.StopAll()
	fs.take()

	m.PlaySeq("s")
	pulseSteps(m, 1)
	if got := pitches(fs.take()); !slices.Equal(got, []uint8{50}) {
		t.Fatalf("restart did not begin at step 0: %v", got)
	}
}

func TestRenameAndRemove(t *testing.T) {
	m, fs := newManager()
	m.NewSeq("old", synth)
	m.SetNote("old", 0, u8(60), nil)
	m.PlaySeq("old")
	pulseSteps(m, 1)

	if err := m.RenameSeq("old", "new"); err != nil {
		t.Fatal(err)
	}
	if m.Status("new") != Playing {
		t.Fatal("play state not carried over")
	}
	if _, err := m.Seq("old"); !errors.Is(err, ErrUnknownSequence) {
		t.Fatal("old name still present")
	}
	if err := m.RemoveSeq("new"); err != nil {
		t.Fatal(err)
	}
	fs.take()
	pulseSteps(m, NumSteps)
	if len(fs.take()) != 0 || len(m.Playing()) != 0 {
		t.Fatal("removed sequence still plays")
	}
}

func TestChangeLen(t *testing.T) {
	m, _ := newManager()
	m.NewSeq("s", synth)
	m.ChangeLen("s", 4)
	m.ChangeLen("s", -30)
	seq, _ := m.Sequence("s")
	if len(seq.Steps) != 20 {
		t.Fatalf("len %d", len(seq.Steps))
	}
	m.ChangeLen("s", -19)
	seq, _ = m.Sequence("s")
	if len(seq.Steps) != 1 {
		t.Fatalf("len %d", len(seq.Steps))
	}
}

type fakeResolver struct{ devs []string }

func (f fakeResolver) Resolve(_ context.Context, name string, ch midi.Channel) (midi.Target, error) {
	if d, ok := resolve.Match(name, f.devs, 3); ok {
		return midi.Target{Device: d, Channel: ch}, nil
	}
	return midi.Target{Device: name, Channel: ch}, resolve.ErrDeviceNotFound
}

func TestChangeSequenceDev(t *testing.T) {
	m, _ := newManager(WithResolver(fakeResolver{devs: []string{"microKORG2 MIDI 1", "TR-8S"}}))
	m.NewSeq("s", synth)
	ctx := context.Background()

	if err := m.ChangeSequenceDev(ctx, "s", "microkorg"); err != nil {
		t.Fatal(err)
	}
	seq, _ := m.Sequence("s")
	if seq.Target != (midi.Target{Device: "microKORG2 MIDI 1", Channel: midi.Ch2}) {
		t.Fatalf("target %v", seq.Target)
	}
	m.ChangeSequenceDev(ctx, "s", "Moog Sub 37")
	seq, _ = m.Sequence("s")
	if seq.Target.Device != "Moog Sub 37" {
		t.Fatalf("literal fallback: %v", seq.Target)
	}
	m.SetChannel("s", midi.Ch10)
	if names := m.SeqNames(); names[0].Device != "Moog Sub 37" {
		t.Fatal(names)
	}
	if err := m.ChangeSequenceDev(ctx, "nope", "TR-8S"); !errors.Is(err, ErrUnknownSequence) {
		t.Fatal(err)
	}
}

func TestDownbeatsArePublished(t *testing.T) {
	bus := eventbus.NewLocal()
	m, _ := newManager(WithBus(bus))
	m.NewSeq("s", synth)

	got := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		got <- bus.WaitFor(ctx, "2")
	}()
	for bus.Waiting() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.PlaySeq("s")
	pulseSteps(m, 5)
	if err := <-got; err != nil {
		t.Fatal(err)
	}
}

// slowFirstBus records events and holds the first publish back, so an
// unordered publisher would let later beats overtake it.
type slowFirstBus struct {
	mu     sync.Mutex
	events []string
}

func (b *slowFirstBus) Publish(_ context.Context, name string) error {
	if name == "1" {
		time.Sleep(30 * time.Millisecond)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, name)
	return nil
}

func (b *slowFirstBus) WaitFor(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *slowFirstBus) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

func TestDownbeatsKeepOrder(t *testing.T) {
	bus := &slowFirstBus{}
	m, _ := newManager(WithBus(bus))
	m.NewSeq("s", synth)
	m.PlaySeq("s")
	pulseSteps(m, 2*NumSteps)
	m.pubs.Wait()

	want := []string{"1", "2", "3", "4", "1", "2", "3", "4"}
	if got := bus.seen(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRunFollowsTempo(t *testing.T) {
	m, fs := newManager(WithTempo(func() float64 { return 600 }))
	m.NewSeq("s", synth)
	for i := 0; i < NumSteps; i++ {
		m.SetNote("s", i, u8(60), nil)
	}
	m.PlaySeq("s")

	// 600 bpm: a sixteenth every 25ms
	ctx, cancel := context.WithTimeout(context.Background(), 260*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal(err)
	}
	if n := len(fs.take()); n < 6 || n > 14 {
		t.Fatalf("%d steps in 260ms", n)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	m, _ := newManager(WithDir(dir))
	m.NewSeq("hats", midi.Target{Device: "TR-8S", Channel: midi.Ch10})
	m.SetNote("hats", 2, u8(42), u8(70))
	if err := m.Save("hats"); err != nil {
		t.Fatal(err)
	}
	saved, err := m.ListSaved()
	if err != nil || !slices.Equal(saved, []string{"hats"}) {
		t.Fatalf("saved %v %v", saved, err)
	}

	other, _ := newManager(WithDir(dir))
	if err := other.Load("hats.json"); err != nil {
		t.Fatal(err)
	}
	a, _ := m.Sequence("hats")
	b, _ := other.Sequence("hats")
	if a.Target != b.Target || !slices.Equal(a.Steps, b.Steps) {
		t.Fatalf("round trip: %+v vs %+v", a, b)
	}
	if err := m.RemoveSaved("hats"); err != nil {
		t.Fatal(err)
	}
	if saved, _ := m.ListSaved(); len(saved) != 0 {
		t.Fatal(saved)
	}

	if _, err := NewManager(nil).ListSaved(); !errors.Is(err, ErrNoSaveDir) {
		t.Fatal(err)
	}
}

func TestProjects(t *testing.T) {
	dir := t.TempDir()
	m, _ := newManager(WithDir(dir))
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("s%d", i)
		m.NewSeq(name, synth)
		m.SetNote(name, i, u8(uint8(60+i)), nil)
	}
	if err := m.SaveProject("live set"); err != nil {
		t.Fatal(err)
	}
	projects, _ := m.ListProjects()
	if !slices.Equal(projects, []string{"live-set"}) {
		t.Fatal(projects)
	}

	other, _ := newManager(WithDir(dir))
	other.NewSeq("keep", synth)
	if err := other.LoadProject("live-set"); err != nil {
		t.Fatal(err)
	}
	if n := len(other.SeqNames()); n != 4 {
		t.Fatalf("merged %d sequences", n)
	}
	row, _ := other.SeqRow("s2", 2)
	if row[0] != "D-4" {
		t.Fatal(row)
	}
	if err := other.RemoveProject("live-set"); err != nil {
		t.Fatal(err)
	}
}

type fakeController struct {
	mu      sync.Mutex
	updates []midi.LEDUpdate
}

func (c *fakeController) ID() string                                { return "fake" }
func (c *fakeController) Type() midi.ControllerType                 { return midi.ControllerLaunchpad }
func (c *fakeController) PadEvents() <-chan midi.PadEvent           { return nil }
func (c *fakeController) NoteEvents() <-chan midi.NoteEvent         { return nil }
func (c *fakeController) SetLEDRGB(int, int, [3]uint8, uint8) error { return nil }
func (c *fakeController) Close() error                              { return nil }

func (c *fakeController) SetLEDBatch(u []midi.LEDUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u...)
	return nil
}

func TestPads(t *testing.T) {
	m, _ := newManager()
	m.NewSeq("a", synth)
	m.NewSeq("b", synth)
	m.SetPadPitch(36)

	m.HandlePad(7, 2) // a, step 2
	m.HandlePad(4, 1) // b, step 9
	a, _ := m.Sequence("a")
	b, _ := m.Sequence("b")
	if !a.Steps[2].On || a.Steps[2].Note != 36 || !b.Steps[9].On {
		t.Fatalf("a %+v b %+v", a.Steps[2], b.Steps[9])
	}
	m.HandlePad(7, 2)
	if a, _ = m.Sequence("a"); a.Steps[2].On {
		t.Fatal("second press should clear")
	}

	m.HandlePad(5, 8) // scene button for b
	if m.Status("b") != Queued {
		t.Fatal(m.Status("b"))
	}

	fc := &fakeController{}
	m.SetController(fc)
	m.flushLEDs()
	first := len(fc.updates)
	if first == 0 {
		t.Fatal("no LEDs sent")
	}
	m.flushLEDs()
	if len(fc.updates) != first {
		t.Fatal("unchanged LEDs were resent")
	}
	var stopAll bool
	for _, l := range m.RenderLEDs() {
		if l.Row == 8 && l.Col == 7 {
			stopAll = true
		}
	}
	if !stopAll {
		t.Fatal("stop-all pad not lit while a sequence is queued")
	}
	m.HandlePad(8, 7)
	if m.Status("b") != Stopped {
		t.Fatal("stop-all pad")
	}
}

func TestKits(t *testing.T) {
	if GetKit("rd8").Note(1) != 40 || GetKit("missing").Note(1) != 38 {
		t.Fatal("kit notes")
	}
	if GetKit("tr8s").Label(42) != "CH" || GetKit("gm").Label(0) != "" {
		t.Fatal("labels")
	}
	if GetKit("gm").Note(-1) != 63 {
		t.Fatal("slot wrap")
	}
}
