package note

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		want uint8
	}{
		{"c4", 60},
		{"c#4", 61},
		{"C4", 60},
		{"A#2", 46},
		{"db4", 61},
		{"bb3", 58},
		{"b3", 59},
		{"c", 24},
		{"c#", 25},
		{"Bb", 34},
		{"c-1", 0},
		{"g9", 127},
		{"a 4", 69},
	}
	for _, c := range cases {
		got, err := Resolve(c.name)
		if err != nil {
			t.Fatalf("%q: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%q: expected %d, got %d", c.name, c.want, got)
		}
		again, _ := Resolve(c.name)
		if again != got {
			t.Errorf("%q: resolve not idempotent", c.name)
		}
	}
}

func TestResolveInvalid(t *testing.T) {
	for _, name := range []string{"", "h4", "b#4", "cb4", "e#2", "fb1", "c#x", "g#9", "c-2"} {
		if _, err := Resolve(name); !errors.Is(err, ErrInvalidPitch) {
			t.Errorf("%q: expected ErrInvalidPitch, got %v", name, err)
		}
	}
}

func TestPitchRange(t *testing.T) {
	if _, err := Pitch(128); !errors.Is(err, ErrInvalidPitch) {
		t.Fatalf("expected rejection of 128, got %v", err)
	}
	if _, err := Pitch(-1); !errors.Is(err, ErrInvalidPitch) {
		t.Fatalf("expected rejection of -1, got %v", err)
	}
	if p, err := Pitch(127); err != nil || p != 127 {
		t.Fatalf("127: got %d, %v", p, err)
	}
}

func TestOctaveWrap(t *testing.T) {
	if got := OctaveUp(100); got != 32 {
		t.Fatalf("OctaveUp(100): expected 32, got %d", got)
	}
	for n := 24; n <= 127; n++ {
		up := OctaveUp(uint8(n))
		if up < 24 || up > 127 {
			t.Fatalf("OctaveUp(%d) = %d out of range", n, up)
		}
		if down := OctaveDown(up); int(down) != n {
			t.Fatalf("OctaveDown(OctaveUp(%d)) = %d", n, down)
		}
	}
}

func TestClampAndTranspose(t *testing.T) {
	if Clamp(-5) != 0 || Clamp(200) != 127 || Clamp(64) != 64 {
		t.Fatal("clamp")
	}
	if Transpose(120, 12) != 127 {
		t.Fatal("transpose should clamp at 127")
	}
	if Transpose(60, -12) != 48 {
		t.Fatal("transpose down")
	}
}

func TestDisplay(t *testing.T) {
	cases := map[uint8]string{60: "C-4", 61: "C#4", 69: "A-4", 0: "C--1", 127: "G-9"}
	for p, want := range cases {
		if got := Display(p); got != want {
			t.Errorf("Display(%d): expected %q, got %q", p, want, got)
		}
	}
}

func TestNormalize(t *testing.T) {
	ps, err := Normalize(Notes("c4", "e4", "g4"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 3 || ps[0] != 60 || ps[1] != 64 || ps[2] != 67 {
		t.Fatalf("unexpected chord %v", ps)
	}

	ps, err = Normalize(Chord{P(36), Name("c#4")})
	if err != nil || len(ps) != 2 || ps[0] != 36 || ps[1] != 61 {
		t.Fatalf("mixed chord: %v %v", ps, err)
	}

	if _, err := Normalize(Chord{Chord{P(1)}}); !errors.Is(err, ErrInvalidPitch) {
		t.Fatalf("nested chord: expected ErrInvalidPitch, got %v", err)
	}
	if _, err := Normalize(Chord{}); !errors.Is(err, ErrInvalidPitch) {
		t.Fatalf("empty chord: expected ErrInvalidPitch, got %v", err)
	}
	if _, err := Normalize(P(300)); !errors.Is(err, ErrInvalidPitch) {
		t.Fatalf("out of range pitch: expected ErrInvalidPitch, got %v", err)
	}
}

func TestParse(t *testing.T) {
	a, err := Parse("c4, e4,g4")
	if err != nil {
		t.Fatal(err)
	}
	ps, _ := Normalize(a)
	if len(ps) != 3 || ps[2] != 67 {
		t.Fatalf("parsed chord %v", ps)
	}
	a, _ = Parse("36")
	if a != P(36) {
		t.Fatalf("expected P(36), got %#v", a)
	}
	if _, err := Parse("zz"); !errors.Is(err, ErrInvalidPitch) {
		t.Fatalf("expected ErrInvalidPitch, got %v", err)
	}
}
