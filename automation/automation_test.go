package automation

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

const eps = 1e-9

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestInvalidConfigs(t *testing.T) {
	cases := []LFOConfig{
		{Kind: "square", Freq: 1},
		{Kind: Sin, Freq: 0},
		{Kind: Sin, Freq: math.Inf(1)},
		{Kind: WaveTable, Freq: 1},
		{Kind: WaveTable, Freq: 1, File: "/does/not/exist.wav"},
	}
	for _, c := range cases {
		if _, err := NewLFO(c); !errors.Is(err, ErrInvalidAutomation) {
			t.Errorf("%+v: expected ErrInvalidAutomation, got %v", c, err)
		}
	}

	junk := filepath.Join(t.TempDir(), "junk.wav")
	os.WriteFile(junk, []byte("definitely not RIFF"), 0644)
	if _, err := NewLFO(LFOConfig{Kind: "wave", Freq: 1, File: junk}); !errors.Is(err, ErrInvalidAutomation) {
		t.Errorf("non-wav file: expected ErrInvalidAutomation, got %v", err)
	}

	if _, err := NewADSR(ADSRConfig{Attack: -1, Sustain: .5}); !errors.Is(err, ErrInvalidAutomation) {
		t.Errorf("negative attack: %v", err)
	}
	if _, err := NewADSR(ADSRConfig{Sustain: 2}); !errors.Is(err, ErrInvalidAutomation) {
		t.Errorf("sustain 2: %v", err)
	}
	if _, err := Build(Config{}); !errors.Is(err, ErrInvalidAutomation) {
		t.Errorf("empty config: %v", err)
	}
}

func TestKindNames(t *testing.T) {
	k, err := ParseKind("WAVE")
	if err != nil || k != WaveTable {
		t.Fatalf("wave alias: %v %v", k, err)
	}
	l, _ := NewLFO(LFOConfig{Kind: "Saw-Up", Freq: 1})
	if l.Name() != "lfo:saw-up" {
		t.Fatalf("name %q", l.Name())
	}
	a, _ := NewADSR(ADSRConfig{Sustain: 1})
	if a.Name() != "env:adsr" {
		t.Fatalf("name %q", a.Name())
	}
}

func TestSawStepsFollowTempo(t *testing.T) {
	// 120bpm, 24 ticks per beat: one tick is 1/48s, so 1Hz moves 1/48 cycle
	l, err := NewLFO(LFOConfig{Kind: SawUp, Freq: 1}, WithTempo(func() float64 { return 120 }))
	if err != nil {
		t.Fatal(err)
	}
	if l.State() != Uninitialized {
		t.Fatal("new lfo should be uninitialized")
	}
	for i := 0; i < 10; i++ {
		if v := l.Step(); !near(v, float64(i)/48, eps) {
			t.Fatalf("step %d: expected %v, got %v", i, float64(i)/48, v)
		}
	}
	if l.State() != Running {
		t.Fatal("stepping should start the lfo")
	}
	if l.Tick() != time.Second/48 {
		t.Fatalf("tick %v", l.Tick())
	}
}

func TestDeterministic(t *testing.T) {
	for _, k := range []Kind{Sin, Triangle, SawUp, SawDown, AntiLog, AntiLogUp, AntiLogDown} {
		a, _ := NewLFO(LFOConfig{Kind: k, Freq: 0.7, Bipolar: true})
		b, _ := NewLFO(LFOConfig{Kind: k, Freq: 0.7, Bipolar: true})
		for i := 0; i < 500; i++ {
			va, vb := a.Step(), b.Step()
			if va != vb {
				t.Fatalf("%s diverged at step %d", k, i)
			}
			if va < -1-eps || va > 1+eps {
				t.Fatalf("%s out of range: %v", k, va)
			}
		}
	}
}

func TestStepNMatchesSteps(t *testing.T) {
	a, _ := NewLFO(LFOConfig{Kind: Sin, Freq: 3, HiFi: true})
	b, _ := NewLFO(LFOConfig{Kind: Sin, Freq: 3, HiFi: true})
	a.Init()
	b.Init()
	for i := 0; i < 1000; i++ {
		a.Step()
	}
	b.StepN(1000)
	if va, vb := a.Step(), b.Step(); !near(va, vb, 1e-9) {
		t.Fatalf("StepN drifted: %v vs %v", va, vb)
	}
}

func TestOneShotStops(t *testing.T) {
	// 96Hz at 1/48s ticks: two cycles per tick
	l, _ := NewLFO(LFOConfig{Kind: SawUp, Freq: 96, OneShot: true})
	if v := l.Step(); v != 0 {
		t.Fatalf("first step %v", v)
	}
	if v := l.Step(); !near(v, 1, eps) {
		t.Fatalf("one-shot should end on its final value, got %v", v)
	}
	if l.State() != Stopped {
		t.Fatal("one-shot should stop at the end of its cycle")
	}
	if v := l.Step(); !near(v, 1, eps) {
		t.Fatalf("stopped lfo should hold its value, got %v", v)
	}

	l.Init()
	if l.State() != Running || l.Step() != 0 {
		t.Fatal("Init should restart a stopped lfo from phase 0")
	}
}

func TestResetKeepsConfig(t *testing.T) {
	l, _ := NewLFO(LFOConfig{Kind: Triangle, Freq: 2})
	for i := 0; i < 7; i++ {
		l.Step()
	}
	l.Reset()
	if l.Phase() != 0 || l.Config().Freq != 2 {
		t.Fatalf("reset: phase %v freq %v", l.Phase(), l.Config().Freq)
	}
}

func TestTableInterpolation(t *testing.T) {
	tbl := &Table{Samples: []float64{0, 1}, SampleRate: 2}
	// 12Hz at 1/48s ticks is a quarter cycle per tick
	l, err := NewTableLFO(tbl, 12, false, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 0.45, 0.9, 0.45, 0}
	for i, w := range want {
		if v := l.Step(); !near(v, w, 1e-9) {
			t.Fatalf("step %d: expected %v, got %v", i, w, v)
		}
	}
}

func writeWav(t *testing.T, samples []float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	i := 0
	s := beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		n := 0
		for n < len(buf) && i < len(samples) {
			buf[n] = [2]float64{samples[i], samples[i]}
			n++
			i++
		}
		return n, n > 0
	})
	format := beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, s, format); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTable(t *testing.T) {
	path := writeWav(t, []float64{0, 0.5, 1, 0.5, 0, -0.5, -1, -0.5})
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Samples) != 8 || tbl.SampleRate != 8000 {
		t.Fatalf("decoded %d samples at %d", len(tbl.Samples), tbl.SampleRate)
	}
	if !near(tbl.Samples[2], 1, 1e-3) || !near(tbl.Samples[6], -1, 1e-3) {
		t.Fatalf("samples %v", tbl.Samples)
	}

	l, err := NewLFO(LFOConfig{Kind: WaveTable, Freq: 1, File: path})
	if err != nil {
		t.Fatal(err)
	}
	if l.Name() != "lfo:wavetable" {
		t.Fatalf("name %q", l.Name())
	}
}

// writePCM writes a mono WAV by hand so the decoded scale does not depend
// on the encoder.
func writePCM(t *testing.T, bits int, samples []int32) string {
	t.Helper()
	width := bits / 8
	var data []byte
	for _, v := range samples {
		for b := 0; b < width; b++ {
			data = append(data, byte(v>>(8*b)))
		}
	}
	le := binary.LittleEndian
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	le.PutUint32(hdr[4:], uint32(36+len(data)))
	copy(hdr[8:], "WAVEfmt ")
	le.PutUint32(hdr[16:], 16)
	le.PutUint16(hdr[20:], 1)
	le.PutUint16(hdr[22:], 1)
	le.PutUint32(hdr[24:], 8000)
	le.PutUint32(hdr[28:], uint32(8000*width))
	le.PutUint16(hdr[32:], uint16(width))
	le.PutUint16(hdr[34:], uint16(bits))
	copy(hdr[36:], "data")
	le.PutUint32(hdr[40:], uint32(len(data)))

	path := filepath.Join(t.TempDir(), "pcm.wav")
	if err := os.WriteFile(path, append(hdr, data...), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTableFullScale(t *testing.T) {
	cases := []struct {
		bits    int
		samples []int32
	}{
		{16, []int32{0, 16383, 32767, 16383, 0, -16383, -32767, -16383}},
		{24, []int32{0, 1 << 22, 1<<23 - 1, 1 << 22, 0, -(1 << 22), -(1<<23 - 1), -(1 << 22)}},
	}
	want := []float64{0, 0.5, 1, 0.5, 0, -0.5, -1, -0.5}
	for _, c := range cases {
		tbl, err := LoadTable(writePCM(t, c.bits, c.samples))
		if err != nil {
			t.Fatalf("%d bit: %v", c.bits, err)
		}
		for i, w := range want {
			if !near(tbl.Samples[i], w, 1e-3) {
				t.Fatalf("%d bit: samples %v", c.bits, tbl.Samples)
			}
		}
		// the peak reads back at the table gain
		if !near(tbl.At(2.0/8), TableGain, 1e-3) {
			t.Fatalf("%d bit: peak %v", c.bits, tbl.At(2.0/8))
		}
	}
}

func TestADSRShape(t *testing.T) {
	// 60bpm: one tick is 1/24s
	tick := 1.0 / 24
	a, err := NewADSR(ADSRConfig{
		Attack:  4 * tick,
		Decay:   4 * tick,
		Sustain: 0.5,
		Release: 4 * tick,
		Hold:    12.5 * tick,
	}, WithTempo(func() float64 { return 60 }))
	if err != nil {
		t.Fatal(err)
	}

	var vals []float64
	for i := 0; i < 40 && a.State() != Stopped; i++ {
		vals = append(vals, a.Step())
	}
	if a.State() != Stopped {
		t.Fatal("envelope never finished")
	}
	if vals[0] != 0 || !near(vals[2], 0.5, 1e-6) {
		t.Fatalf("attack: %v", vals[:5])
	}
	if !near(vals[6], 0.75, 1e-6) {
		t.Fatalf("decay midpoint: %v", vals[6])
	}
	if !near(vals[10], 0.5, 1e-6) {
		t.Fatalf("sustain: %v", vals[10])
	}
	if last := vals[len(vals)-1]; last != 0 {
		t.Fatalf("envelope should end at 0, got %v", last)
	}
}

func TestADSRGateOff(t *testing.T) {
	a, _ := NewADSR(ADSRConfig{Attack: 0, Decay: 0, Sustain: 0.8, Release: 0})
	if v := a.Step(); v != 0.8 {
		t.Fatalf("zero attack/decay should jump to sustain, got %v", v)
	}
	a.Step()
	a.GateOff()
	if v := a.Step(); v != 0 || a.State() != Stopped {
		t.Fatalf("zero release should stop at 0, got %v %v", v, a.State())
	}
}

func TestRunnerOneShot(t *testing.T) {
	l, _ := NewLFO(LFOConfig{Kind: SawUp, Freq: 12, OneShot: true}, WithTempo(func() float64 { return 960 }))
	var mu sync.Mutex
	var got []float64
	r := Start(context.Background(), l, func(v float64) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("one-shot runner never finished")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) < 2 || got[0] != 0 || !near(got[len(got)-1], 1, eps) {
		t.Fatalf("runner values %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("saw-up went down: %v", got)
		}
	}
}

func TestRunnerStop(t *testing.T) {
	l, _ := NewLFO(LFOConfig{Kind: Sin, Freq: 1, HiFi: true})
	calls := make(chan struct{}, 1)
	r := Start(context.Background(), l, func(float64) {
		select {
		case calls <- struct{}{}:
		default:
		}
	})
	<-calls
	r.Stop()
	if l.State() != Stopped {
		t.Fatalf("state after Stop: %v", l.State())
	}
}
