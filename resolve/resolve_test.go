package resolve

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"midi-daw/midi"
)

type staticLister struct {
	devs  []string
	calls atomic.Int32
	err   error
}

func (s *staticLister) Devices(context.Context) ([]string, error) {
	s.calls.Add(1)
	return s.devs, s.err
}

var devices = []string{
	"MIDI THRU",
	"microKORG2:SOUND 20:0",
	"Digitone:Digitone MIDI 1 24:0",
	"TR-8S:TR-8S MIDI 1 28:0",
}

func TestMatch(t *testing.T) {
	cases := []struct {
		name string
		want string
		ok   bool
	}{
		{"MIDI THRU", "MIDI THRU", true},
		{"microKORG2", "microKORG2:SOUND 20:0", true},
		{"microKORG2:SOUND 20:0", "microKORG2:SOUND 20:0", true},
		{"digitone", "Digitone:Digitone MIDI 1 24:0", true},
		{"tr8s", "TR-8S:TR-8S MIDI 1 28:0", true},
		{"mikroKORG2", "microKORG2:SOUND 20:0", true},
		{"Prophet Rev2", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := Match(c.name, devices, DefaultMaxDistance)
		if ok != c.ok || got != c.want {
			t.Errorf("Match(%q) = %q, %v; expected %q, %v", c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestMatchEmptyList(t *testing.T) {
	if _, ok := Match("anything", nil, DefaultMaxDistance); ok {
		t.Fatal("empty device list should never match")
	}
}

func TestResolveFallsBackToLiteral(t *testing.T) {
	r := New(&staticLister{devs: devices})
	tgt, err := r.Resolve(context.Background(), "Prophet Rev2", midi.Ch3)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if tgt.Device != "Prophet Rev2" || tgt.Channel != midi.Ch3 {
		t.Fatalf("expected literal target, got %v", tgt)
	}

	tgt, err = r.Resolve(context.Background(), "microKORG2", midi.Ch2)
	if err != nil || tgt.Device != "microKORG2:SOUND 20:0" || tgt.Channel != midi.Ch2 {
		t.Fatalf("got %v, %v", tgt, err)
	}
}

func TestResolveListingError(t *testing.T) {
	r := New(&staticLister{err: errors.New("backend down")})
	tgt, err := r.Resolve(context.Background(), "x", midi.Ch1)
	if !errors.Is(err, ErrDeviceNotFound) || tgt.Device != "x" {
		t.Fatalf("got %v, %v", tgt, err)
	}
}

func TestDeviceListCached(t *testing.T) {
	src := &staticLister{devs: devices}
	r := New(src, WithCacheTTL(time.Hour))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.Resolve(ctx, "microKORG2", midi.Ch1)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}
	r.Refresh(ctx)
	if n := src.calls.Load(); n != 2 {
		t.Fatalf("expected Refresh to refetch, got %d fetches", n)
	}
}
